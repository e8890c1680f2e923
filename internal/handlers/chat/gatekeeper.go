package handlers

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/adapters/cas"
	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/captcha"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/event"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
	"github.com/iamwavecut/ngguard/internal/scheduler"
)

const (
	captchaCallbackPrefix = "cpt;"
	noticeDeleteAfter     = time.Minute
	nonceLength           = 8
)

type (
	gatePlatform interface {
		Self() api.User
		Send(ctx context.Context, c api.Chattable) (api.Message, error)
		DeleteMessage(ctx context.Context, chatID int64, messageID int) error
		BanMember(ctx context.Context, chatID, userID int64, until time.Time) error
		UnbanMember(ctx context.Context, chatID, userID int64) error
		RestrictMember(ctx context.Context, chatID, userID int64, perms api.ChatPermissions, until time.Time) error
		AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	}

	gateAuthority interface {
		CanModerate(ctx context.Context, chatID, userID int64, grant permissions.Grant) bool
		Invalidate(chatID int64)
	}

	gateStore interface {
		GetCaptchaSettings(ctx context.Context, chatID int64) (captcha.Settings, error)
		UpdateCaptchaSettings(ctx context.Context, chatID int64, fn func(*captcha.Settings) error) (captcha.Settings, error)
		GetCASSettings(ctx context.Context, chatID int64) (db.CASSettings, error)
		UpdateCASSettings(ctx context.Context, chatID int64, fn func(*db.CASSettings) error) (db.CASSettings, error)
		GetLockdown(ctx context.Context, chatID int64) (db.Lockdown, error)
		UpdateLockdown(ctx context.Context, chatID int64, fn func(*db.Lockdown) error) (db.Lockdown, error)
		GetWelcomeSettings(ctx context.Context, chatID int64) (db.WelcomeSettings, error)
		UpdateWelcomeSettings(ctx context.Context, chatID int64, fn func(*db.WelcomeSettings) error) (db.WelcomeSettings, error)
		MigrateChat(ctx context.Context, from, to int64) error
	}

	reputation interface {
		Check(ctx context.Context, userID int64) (cas.Verdict, error)
	}

	taskScheduler interface {
		Schedule(key scheduler.Key, delay time.Duration, fn scheduler.Func)
		Cancel(key scheduler.Key) bool
		CancelPrefix(kind scheduler.Kind, chatID int64) int
	}

	publisher interface {
		Publish(e event.Event) bool
	}

	Dependencies struct {
		Platform   gatePlatform
		Authority  gateAuthority
		Store      gateStore
		CAS        reputation
		Tasks      taskScheduler
		Events     publisher
		Generator  *captcha.Generator
		Pending    *captcha.Store
		MinTimeout time.Duration
		MaxTimeout time.Duration
	}

	// Gatekeeper screens joining members and runs the captcha lifecycle.
	Gatekeeper struct {
		s          bot.Service
		platform   gatePlatform
		authority  gateAuthority
		store      gateStore
		cas        reputation
		tasks      taskScheduler
		events     publisher
		generator  *captcha.Generator
		pending    *captcha.Store
		minTimeout time.Duration
		maxTimeout time.Duration
		newNonce   func() string
		now        func() time.Time
		logger     *log.Entry
	}
)

func NewGatekeeper(s bot.Service, deps Dependencies) *Gatekeeper {
	if deps.MinTimeout <= 0 {
		deps.MinTimeout = captcha.MinTimeout
	}
	if deps.MaxTimeout < deps.MinTimeout {
		deps.MaxTimeout = captcha.MaxTimeout
	}
	if deps.Pending == nil {
		deps.Pending = captcha.NewStore()
	}
	return &Gatekeeper{
		s:          s,
		platform:   deps.Platform,
		authority:  deps.Authority,
		store:      deps.Store,
		cas:        deps.CAS,
		tasks:      deps.Tasks,
		events:     deps.Events,
		generator:  deps.Generator,
		pending:    deps.Pending,
		minTimeout: deps.MinTimeout,
		maxTimeout: deps.MaxTimeout,
		newNonce:   func() string { return strings.ReplaceAll(uuid.New(), "-", "")[:nonceLength] },
		now:        time.Now,
		logger:     log.WithField("handler", "gatekeeper"),
	}
}

func (g *Gatekeeper) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if chat == nil {
		return true, nil
	}

	switch {
	case u.ChatMember != nil || u.MyChatMember != nil:
		g.authority.Invalidate(chat.ID)
		return true, nil

	case u.CallbackQuery != nil && strings.HasPrefix(u.CallbackQuery.Data, captchaCallbackPrefix):
		return false, g.handleAnswer(ctx, u.CallbackQuery, chat)

	case u.Message != nil:
		msg := u.Message
		switch {
		case msg.MigrateToChatID != 0:
			return true, g.migrate(ctx, chat.ID, msg.MigrateToChatID)
		case len(msg.NewChatMembers) > 0:
			for i := range msg.NewChatMembers {
				if _, err := g.Admit(ctx, chat, &msg.NewChatMembers[i], msg); err != nil {
					g.logger.WithFields(log.Fields{"chat_id": chat.ID, "error": err.Error()}).Error("cant admit member")
				}
			}
			return false, nil
		case msg.LeftChatMember != nil:
			g.forget(ctx, chat.ID, msg.LeftChatMember.ID)
			return true, nil
		case msg.IsCommand() && user != nil:
			return g.handleCommand(ctx, msg, chat, user)
		}
	}
	return true, nil
}

func (g *Gatekeeper) publishAdmission(chatID int64, member *api.User, decision, detail string) {
	if g.events == nil {
		return
	}
	g.events.Publish(event.AdmissionEvent{
		Base:     event.Now(),
		ChatID:   chatID,
		UserID:   member.ID,
		UserName: bot.GetFullName(member),
		Decision: decision,
		Detail:   detail,
	})
}

func (g *Gatekeeper) publishCaptcha(chatID, userID int64, mode captcha.Mode, outcome string) {
	if g.events == nil {
		return
	}
	g.events.Publish(event.CaptchaEvent{
		Base:    event.Now(),
		ChatID:  chatID,
		UserID:  userID,
		Mode:    string(mode),
		Outcome: outcome,
	})
}

// notify posts a chat notice and removes it after a while.
func (g *Gatekeeper) notify(ctx context.Context, chatID int64, threadID int, text string, markdown bool, deleteAfter time.Duration) {
	msg := api.NewMessage(chatID, text)
	msg.MessageThreadID = threadID
	msg.LinkPreviewOptions.IsDisabled = true
	if markdown {
		msg.ParseMode = api.ModeMarkdown
	}
	sent, err := g.platform.Send(ctx, msg)
	if err != nil {
		g.logger.WithFields(log.Fields{"chat_id": chatID, "error": err.Error()}).Warn("cant send notice")
		return
	}
	g.scheduleDelete(chatID, sent.MessageID, deleteAfter)
}

func (g *Gatekeeper) scheduleDelete(chatID int64, messageID int, after time.Duration) {
	if after <= 0 || messageID == 0 || g.tasks == nil {
		return
	}
	key := scheduler.Key{Kind: scheduler.KindDeleteMessage, ChatID: chatID, MessageID: messageID}
	g.tasks.Schedule(key, after, func(ctx context.Context) {
		if err := g.platform.DeleteMessage(ctx, chatID, messageID); err != nil {
			g.logger.WithFields(log.Fields{"chat_id": chatID, "error": err.Error()}).Debug("cant delete notice")
		}
	})
}

func (g *Gatekeeper) deleteMessage(ctx context.Context, chatID int64, messageID int) {
	if err := g.platform.DeleteMessage(ctx, chatID, messageID); err != nil {
		g.logger.WithFields(log.Fields{"chat_id": chatID, "error": err.Error()}).Debug("cant delete message")
	}
}

func (g *Gatekeeper) migrate(ctx context.Context, from, to int64) error {
	entry := g.logger.WithFields(log.Fields{"method": "migrate", "chat_id": from, "to": to})
	if err := g.store.MigrateChat(ctx, from, to); err != nil {
		entry.WithField("error", err.Error()).Error("cant migrate chat settings")
		return err
	}
	g.authority.Invalidate(from)

	g.tasks.CancelPrefix(scheduler.KindCaptchaTimeout, from)
	moved := g.pending.MoveChat(from, to)
	if len(moved) == 0 {
		entry.Info("chat migrated")
		return nil
	}
	settings, err := g.captchaSettings(ctx, to)
	if err != nil {
		return err
	}
	for _, p := range moved {
		remaining := settings.Timeout - g.now().Sub(p.CreatedAt)
		if remaining < time.Second {
			remaining = time.Second
		}
		g.scheduleTimeout(p.Key(), p.Nonce, remaining)
	}
	entry.WithField("pending", len(moved)).Info("chat migrated")
	return nil
}
