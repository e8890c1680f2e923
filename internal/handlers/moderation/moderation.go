package handlers

import (
	"context"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/bot"
	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/i18n"
)

// Moderation routes moderation commands and undo presses to the executor.
type Moderation struct {
	s        bot.Service
	executor *Executor
	users    userLookup
	logger   *log.Entry
}

func NewModeration(s bot.Service, executor *Executor, users userLookup) *Moderation {
	return &Moderation{
		s:        s,
		executor: executor,
		users:    users,
		logger:   log.WithField("handler", "moderation"),
	}
}

func (m *Moderation) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if chat == nil || user == nil {
		return true, nil
	}

	if cq := u.CallbackQuery; cq != nil && strings.HasPrefix(cq.Data, undoPrefix) {
		return false, m.executor.Undo(ctx, cq, m.s.GetLanguage(ctx, chat.ID, user))
	}

	msg := u.Message
	if msg == nil || !msg.IsCommand() {
		return true, nil
	}
	name := strings.ToLower(msg.Command())
	if run, ok := m.chatCommands()[name]; ok {
		req, ok := m.groupRequest(ctx, msg, chat, user, "")
		if !ok {
			return false, nil
		}
		return false, run(ctx, msg, req)
	}
	kind, ok := commandKinds[name]
	if !ok {
		return true, nil
	}
	return false, m.handleCommand(ctx, msg, chat, user, kind)
}

// groupRequest builds the request for a command and refuses it outside groups.
func (m *Moderation) groupRequest(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, kind Kind) (Request, bool) {
	language := m.s.GetLanguage(ctx, chat.ID, user)
	req := Request{
		Kind:             kind,
		ChatID:           chat.ID,
		ChatTitle:        chat.Title,
		ThreadID:         msg.MessageThreadID,
		Actor:            user,
		CommandMessageID: msg.MessageID,
		Language:         language,
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		m.executor.reply(ctx, req, i18n.Get("This command works only in groups.", language))
		return req, false
	}
	return req, true
}

func (m *Moderation) handleCommand(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, kind Kind) error {
	entry := m.logger.WithFields(log.Fields{"method": "handleCommand", "chat_id": chat.ID, "user_id": user.ID})
	req, ok := m.groupRequest(ctx, msg, chat, user, kind)
	if !ok {
		return nil
	}
	language := req.Language

	// nothing about the target is looked up for a caller who may not act
	if d := m.executor.Preflight(ctx, req); !d.Allowed {
		return nil
	}

	// both sentinels share a kind, so they are told apart by identity
	target, rest, err := ResolveTarget(ctx, msg, m.users)
	switch {
	case err == ErrUnknownUser:
		m.executor.reply(ctx, req, i18n.Get("I don't know this user yet: reply to one of their messages or use their numeric id.", language))
		return nil
	case err == ErrNoTarget:
		m.executor.reply(ctx, req, i18n.Get("Specify a user: reply to their message or pass an id or @username.", language))
		return nil
	case err != nil:
		entry.WithField("error", err.Error()).Error("cant resolve target")
		return err
	}
	req.Target = target
	req.Reason = rest

	switch kind {
	case KindTempBan, KindTempMute:
		token, reason := splitFirst(rest)
		duration, err := ParseDuration(token)
		if err != nil {
			m.executor.reply(ctx, req, i18n.Get("Bad duration format. Use a number with a unit, e.g. 30m, 2h or 1d.", language))
			return nil
		}
		req.Duration, req.Reason = duration, reason
	case KindMute:
		if token, reason := splitFirst(rest); token != "" {
			if duration, err := ParseDuration(token); err == nil {
				req.Kind, req.Duration, req.Reason = KindTempMute, duration, reason
			}
		}
	}

	if _, err := m.executor.Execute(ctx, req); err != nil {
		if ngerrors.KindOf(err) == ngerrors.KindInternal {
			return errors.WithMessage(err, "execute "+string(req.Kind))
		}
		entry.WithField("error", err.Error()).Debug("action not executed")
	}
	return nil
}

func splitFirst(s string) (string, string) {
	s = strings.TrimSpace(s)
	idx := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' })
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx:])
}
