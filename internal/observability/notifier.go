package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/event"
)

type sender interface {
	Send(ctx context.Context, c api.Chattable) (api.Message, error)
}

// LogChannel mirrors moderation activity into a dedicated chat.
type LogChannel struct {
	chatID   int64
	platform sender
	logger   *log.Entry
}

func NewLogChannel(chatID int64, platform sender) *LogChannel {
	return &LogChannel{
		chatID:   chatID,
		platform: platform,
		logger:   log.WithField("object", "LogChannel"),
	}
}

// Record is an event bus subscriber. Only completed actions and punitive
// admission decisions are posted; captcha noise stays in the audit log.
func (l *LogChannel) Record(ctx context.Context, e event.Event) {
	if l == nil || l.chatID == 0 {
		return
	}
	text, ok := FormatLogLine(e)
	if !ok {
		return
	}
	msg := api.NewMessage(l.chatID, text)
	msg.LinkPreviewOptions.IsDisabled = true
	if _, err := l.platform.Send(ctx, msg); err != nil {
		l.logger.WithFields(log.Fields{"chat_id": l.chatID, "error": err.Error()}).Warn("cant post to log channel")
	}
}

func FormatLogLine(e event.Event) (string, bool) {
	switch ev := e.(type) {
	case event.ModerationEvent:
		if ev.Result != event.ResultOK {
			return "", false
		}
		var b strings.Builder
		action := ev.Action
		if ev.Undo {
			action = "undo " + action
		}
		fmt.Fprintf(&b, "#%s\nChat: %s [%d]\nAdmin: %s [%d]\nUser: %s [%d]",
			strings.ReplaceAll(action, " ", "_"), ev.ChatTitle, ev.ChatID, ev.ActorName, ev.ActorID, ev.TargetName, ev.TargetID)
		if !ev.Until.IsZero() {
			fmt.Fprintf(&b, "\nUntil: %s", ev.Until.UTC().Format(time.RFC3339))
		}
		if ev.Reason != "" {
			fmt.Fprintf(&b, "\nReason: %s", ev.Reason)
		}
		return b.String(), true
	case event.AdmissionEvent:
		if ev.Decision != event.DecisionLockdownBan && ev.Decision != event.DecisionCASAction {
			return "", false
		}
		return fmt.Sprintf("#%s\nChat: [%d]\nUser: %s [%d]\n%s", ev.Decision, ev.ChatID, ev.UserName, ev.UserID, ev.Detail), true
	}
	return "", false
}
