package handlers

import (
	"context"
	"fmt"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/bot"
	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

// Pin actions act on messages, not members, so they stay out of the kinds table.
const (
	KindPin   Kind = "pin"
	KindUnpin Kind = "unpin"
)

var pinSpec = kindSpec{grant: permissions.GrantPins, capability: permissions.CapPin}

type chatCommand func(ctx context.Context, msg *api.Message, req Request) error

func (m *Moderation) chatCommands() map[string]chatCommand {
	return map[string]chatCommand{
		"pin":       m.pinCommand,
		"unpin":     m.unpinCommand,
		"adminlist": m.adminListCommand,
	}
}

func (m *Moderation) pinCommand(ctx context.Context, msg *api.Message, req Request) error {
	req.Kind = KindPin
	if msg.ReplyToMessage == nil {
		m.executor.reply(ctx, req, i18n.Get("Reply to the message you want to pin.", req.Language))
		return nil
	}
	silent := false
	for _, arg := range strings.Fields(strings.ToLower(msg.CommandArguments())) {
		if arg == "silent" || arg == "тихо" {
			silent = true
		}
	}
	return m.executor.Pin(ctx, req, msg.ReplyToMessage.MessageID, silent)
}

// unpinCommand unpins the replied message, or the latest pin without a reply.
func (m *Moderation) unpinCommand(ctx context.Context, msg *api.Message, req Request) error {
	req.Kind = KindUnpin
	messageID := 0
	if msg.ReplyToMessage != nil {
		messageID = msg.ReplyToMessage.MessageID
	}
	return m.executor.Unpin(ctx, req, messageID)
}

func (m *Moderation) adminListCommand(ctx context.Context, _ *api.Message, req Request) error {
	return m.executor.AdminList(ctx, req)
}

func (e *Executor) Pin(ctx context.Context, req Request, messageID int, silent bool) error {
	if d := runGuards(ctx, e.actorGuards(), pinSpec, &req); !d.Allowed {
		e.reject(ctx, req, d)
		return nil
	}
	if err := e.platform.PinMessage(ctx, req.ChatID, messageID, silent); err != nil {
		return e.pinFailure(ctx, req, err)
	}
	e.getLogEntry().WithFields(log.Fields{"method": "Pin", "chat_id": req.ChatID, "silent": silent}).Info("message pinned")
	e.reply(ctx, req, i18n.Get("Message pinned.", req.Language))
	return nil
}

func (e *Executor) Unpin(ctx context.Context, req Request, messageID int) error {
	if d := runGuards(ctx, e.actorGuards(), pinSpec, &req); !d.Allowed {
		e.reject(ctx, req, d)
		return nil
	}
	if err := e.platform.UnpinMessage(ctx, req.ChatID, messageID); err != nil {
		return e.pinFailure(ctx, req, err)
	}
	e.getLogEntry().WithFields(log.Fields{"method": "Unpin", "chat_id": req.ChatID}).Info("message unpinned")
	e.reply(ctx, req, i18n.Get("Message unpinned.", req.Language))
	return nil
}

func (e *Executor) pinFailure(ctx context.Context, req Request, err error) error {
	e.platformFailure(ctx, req, pinSpec.capability, err)
	if ngerrors.KindOf(err) == ngerrors.KindInternal {
		return errors.WithMessage(err, string(req.Kind))
	}
	return nil
}

// AdminList replies with the chat creator first, then the other administrators
// with their custom titles. Anyone in the group may ask.
func (e *Executor) AdminList(ctx context.Context, req Request) error {
	admins, err := e.platform.GetChatAdministrators(ctx, req.ChatID)
	if err != nil {
		e.getLogEntry().WithFields(log.Fields{"method": "AdminList", "chat_id": req.ChatID, "error": err.Error()}).Warn("cant fetch chat administrators")
		e.reply(ctx, req, i18n.Get("Could not load the list of administrators.", req.Language))
		if ngerrors.KindOf(err) == ngerrors.KindInternal {
			return errors.WithMessage(err, "adminlist")
		}
		return nil
	}

	msg := api.NewMessage(req.ChatID, adminListText(admins, req))
	msg.ParseMode = api.ModeMarkdown
	msg.MessageThreadID = req.ThreadID
	msg.LinkPreviewOptions.IsDisabled = true
	msg.ReplyParameters.MessageID = req.CommandMessageID
	msg.ReplyParameters.ChatID = req.ChatID
	msg.ReplyParameters.AllowSendingWithoutReply = true
	if _, err := e.platform.Send(ctx, msg); err != nil {
		e.getLogEntry().WithFields(log.Fields{"method": "AdminList", "chat_id": req.ChatID, "error": err.Error()}).Warn("cant send admin list")
	}
	return nil
}

func adminListText(admins []api.ChatMember, req Request) string {
	var b strings.Builder
	title := strings.TrimSpace(req.ChatTitle)
	if title == "" {
		b.WriteString(i18n.Get("Administrators:", req.Language))
	} else {
		b.WriteString(fmt.Sprintf(i18n.Get("Administrators of %s:", req.Language), api.EscapeText(api.ModeMarkdown, title)))
	}
	b.WriteString("\n")
	for _, m := range admins {
		if m.User != nil && m.IsCreator() {
			b.WriteString("\n👑 " + bot.MentionUser(m.User))
		}
	}
	for _, m := range admins {
		if m.User == nil || !m.IsAdministrator() {
			continue
		}
		b.WriteString("\n⭐ " + bot.MentionUser(m.User))
		if custom := strings.TrimSpace(m.CustomTitle); custom != "" {
			b.WriteString(" | " + api.EscapeText(api.ModeMarkdown, custom))
		}
	}
	return b.String()
}
