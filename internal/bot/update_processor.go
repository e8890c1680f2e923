package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	UpdateTimeout = 5 * time.Minute
)

type (
	UpdateProcessor struct {
		s              Service
		updateHandlers []Handler
		observer       func(elapsed time.Duration, err error)
	}
)

func NewUpdateProcessor(s Service, handlers ...Handler) *UpdateProcessor {
	enabledHandlers := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h == nil {
			log.Warn("nil handler skipped")
			continue
		}
		enabledHandlers = append(enabledHandlers, h)
	}
	return &UpdateProcessor{
		s:              s,
		updateHandlers: enabledHandlers,
	}
}

// WithObserver registers a callback invoked after every processed update.
func (up *UpdateProcessor) WithObserver(fn func(elapsed time.Duration, err error)) *UpdateProcessor {
	up.observer = fn
	return up
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) (err error) {
	if u == nil {
		return errors.New("update is nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	updateTime := UpdateTime(u)
	if time.Since(updateTime) > UpdateTimeout {
		log.WithFields(log.Fields{
			"update_time": updateTime,
			"age":         time.Since(updateTime),
		}).Debug("Skipping outdated update")
		return nil
	}

	if up.observer != nil {
		start := time.Now()
		defer func() { up.observer(time.Since(start), err) }()
	}

	chat := u.FromChat()
	if chat == nil {
		switch {
		case u.MyChatMember != nil:
			chat = &u.MyChatMember.Chat
		case u.ChatMember != nil:
			chat = &u.ChatMember.Chat
		}
	}

	user := u.SentFrom()
	if user == nil {
		switch {
		case u.MyChatMember != nil:
			user = &u.MyChatMember.From
		case u.ChatMember != nil:
			user = &u.ChatMember.From
		}
	}

	up.indexUsers(ctx, u)

	for _, handler := range up.updateHandlers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		proceed, err := handler.Handle(ctx, u, chat, user)
		if err != nil {
			return errors.WithMessage(err, "handling error")
		}
		if !proceed {
			log.Trace("not proceeding")
			return nil
		}
	}
	return nil
}

func (up *UpdateProcessor) indexUsers(ctx context.Context, u *api.Update) {
	if up.s == nil || u.Message == nil {
		return
	}
	msg := u.Message
	up.s.RememberUser(ctx, msg.From)
	if msg.ReplyToMessage != nil {
		up.s.RememberUser(ctx, msg.ReplyToMessage.From)
	}
	for i := range msg.NewChatMembers {
		up.s.RememberUser(ctx, &msg.NewChatMembers[i])
	}
}

func UpdateTime(u *api.Update) time.Time {
	switch {
	case u.Message != nil:
		return time.Unix(int64(u.Message.Date), 0)
	case u.EditedMessage != nil:
		return time.Unix(int64(u.EditedMessage.Date), 0)
	case u.ChannelPost != nil:
		return time.Unix(int64(u.ChannelPost.Date), 0)
	case u.EditedChannelPost != nil:
		return time.Unix(int64(u.EditedChannelPost.Date), 0)
	default:
		return time.Now()
	}
}

func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = user.FirstName + " " + user.LastName
		userName = strings.TrimSpace(userName)
	}
	return userName
}

func GetFullName(user *api.User) string {
	if user == nil {
		return ""
	}
	fullName := user.FirstName + " " + user.LastName
	fullName = strings.TrimSpace(fullName)
	if len(fullName) == 0 {
		fullName = user.UserName
	}
	return fullName
}

// Mention renders a markdown link to the user profile.
func Mention(userID int64, name string) string {
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("%d", userID)
	}
	return fmt.Sprintf("[%s](tg://user?id=%d)", api.EscapeText(api.ModeMarkdown, name), userID)
}

func MentionUser(user *api.User) string {
	if user == nil {
		return ""
	}
	return Mention(user.ID, GetFullName(user))
}
