package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/event"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
	"github.com/iamwavecut/ngguard/internal/scheduler"
)

const (
	DefaultDeleteAfter = 120 * time.Second
	untilLayout        = "2006-01-02 15:04 MST"
)

const (
	DenyBotCapability  = "bot_capability"
	DenyActorAuthority = "actor_authority"
	DenyNoTarget       = "no_target"
	DenyTargetIsBot    = "target_is_bot"
	DenyTargetIsActor  = "target_is_actor"
	DenyProtected      = "target_protected"
	DenyRoleTransition = "role_transition"
	DenyPlatform       = "platform_failure"
)

type (
	platform interface {
		Self() api.User
		Send(ctx context.Context, c api.Chattable) (api.Message, error)
		DeleteMessage(ctx context.Context, chatID int64, messageID int) error
		BanMember(ctx context.Context, chatID, userID int64, until time.Time) error
		UnbanMember(ctx context.Context, chatID, userID int64) error
		RestrictMember(ctx context.Context, chatID, userID int64, perms api.ChatPermissions, until time.Time) error
		AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
		EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *api.InlineKeyboardMarkup) error
		GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error)
		GetChatAdministrators(ctx context.Context, chatID int64) ([]api.ChatMember, error)
		PromoteMember(ctx context.Context, chatID, userID int64, promote bool) error
		PinMessage(ctx context.Context, chatID int64, messageID int, silent bool) error
		UnpinMessage(ctx context.Context, chatID int64, messageID int) error
	}

	authority interface {
		CanModerate(ctx context.Context, chatID, userID int64, grant permissions.Grant) bool
		IsBanProtected(ctx context.Context, chatID, userID int64) bool
		BotCan(ctx context.Context, chatID int64, capability permissions.Capability) bool
	}

	prefsStore interface {
		GetUserPrefs(ctx context.Context, userID int64) (*db.UserPrefs, error)
	}

	taskScheduler interface {
		Schedule(key scheduler.Key, delay time.Duration, fn scheduler.Func)
	}

	publisher interface {
		Publish(e event.Event) bool
	}
)

type (
	Request struct {
		Kind             Kind
		ChatID           int64
		ChatTitle        string
		ThreadID         int
		Actor            *api.User
		Target           Target
		Duration         time.Duration
		Reason           string
		CommandMessageID int
		Language         string
	}

	// Decision is the verdict of the guard pipeline. Reason is user-facing.
	Decision struct {
		Allowed bool
		Code    string
		Reason  string
	}

	Outcome struct {
		Decision     Decision
		Until        time.Time
		Confirmation *api.Message
	}

	Options struct {
		DeleteAfter    time.Duration
		DeleteCommands bool
	}

	guard func(ctx context.Context, spec kindSpec, req *Request) Decision

	Executor struct {
		platform  platform
		authority authority
		prefs     prefsStore
		tasks     taskScheduler
		events    publisher
		options   Options
		now       func() time.Time
		logger    *log.Entry
	}
)

func NewExecutor(gateway platform, authority authority, prefs prefsStore, tasks taskScheduler, events publisher, options Options) *Executor {
	if options.DeleteAfter <= 0 {
		options.DeleteAfter = DefaultDeleteAfter
	}
	return &Executor{
		platform:  gateway,
		authority: authority,
		prefs:     prefs,
		tasks:     tasks,
		events:    events,
		options:   options,
		now:       time.Now,
		logger:    log.WithField("object", "ModerationExecutor"),
	}
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// actorGuards depend only on the bot and the actor; they run before the
// target is resolved.
func (e *Executor) actorGuards() []guard {
	return []guard{
		e.requireBotCapability,
		e.requireActorAuthority,
	}
}

func (e *Executor) targetGuards() []guard {
	return []guard{
		e.requireTarget,
		e.rejectBotTarget,
		e.rejectSelfTarget,
		e.rejectProtectedTarget,
		e.checkRoleTransition,
	}
}

// guards run in order; the first denial wins and no state-changing call is made.
func (e *Executor) guards() []guard {
	return append(e.actorGuards(), e.targetGuards()...)
}

func runGuards(ctx context.Context, guards []guard, spec kindSpec, req *Request) Decision {
	for _, g := range guards {
		if d := g(ctx, spec, req); !d.Allowed {
			return d
		}
	}
	return allow()
}

func (e *Executor) authorize(ctx context.Context, spec kindSpec, req *Request) Decision {
	return runGuards(ctx, e.guards(), spec, req)
}

// Preflight runs the actor guards alone. A denial is reported to the chat
// exactly as Execute would report it.
func (e *Executor) Preflight(ctx context.Context, req Request) Decision {
	spec, ok := kinds[req.Kind]
	if !ok {
		return allow()
	}
	d := runGuards(ctx, e.actorGuards(), spec, &req)
	if !d.Allowed {
		e.reject(ctx, req, d)
		e.publish(req, event.ResultDenied, time.Time{}, false)
	}
	return d
}

func (e *Executor) reject(ctx context.Context, req Request, d Decision) {
	e.getLogEntry().WithFields(log.Fields{
		"method":  "reject",
		"chat_id": req.ChatID,
		"kind":    string(req.Kind),
		"reason":  d.Code,
	}).Debug("action denied")
	e.reply(ctx, req, d.Reason)
}

func missingCapability(capability permissions.Capability, language string) string {
	switch capability {
	case permissions.CapPromote:
		return i18n.Get("I need to be an administrator with the right to add new admins.", language)
	case permissions.CapPin:
		return i18n.Get("I need to be an administrator with the right to pin messages.", language)
	}
	return i18n.Get("I need to be an administrator with the right to restrict members.", language)
}

func (e *Executor) requireBotCapability(ctx context.Context, spec kindSpec, req *Request) Decision {
	if e.authority.BotCan(ctx, req.ChatID, spec.capability) {
		return allow()
	}
	return deny(DenyBotCapability, missingCapability(spec.capability, req.Language))
}

func (e *Executor) requireActorAuthority(ctx context.Context, spec kindSpec, req *Request) Decision {
	if req.Actor != nil && e.authority.CanModerate(ctx, req.ChatID, req.Actor.ID, spec.grant) {
		return allow()
	}
	return deny(DenyActorAuthority, i18n.Get("You don't have permission to do that.", req.Language))
}

func (e *Executor) requireTarget(_ context.Context, _ kindSpec, req *Request) Decision {
	if req.Target.ID != 0 {
		return allow()
	}
	return deny(DenyNoTarget, i18n.Get("Specify a user: reply to their message or pass an id or @username.", req.Language))
}

func (e *Executor) rejectBotTarget(_ context.Context, _ kindSpec, req *Request) Decision {
	if req.Target.ID != e.platform.Self().ID {
		return allow()
	}
	return deny(DenyTargetIsBot, i18n.Get("I'm not going to do that to myself.", req.Language))
}

func (e *Executor) rejectSelfTarget(_ context.Context, _ kindSpec, req *Request) Decision {
	if req.Actor == nil || req.Target.ID != req.Actor.ID {
		return allow()
	}
	return deny(DenyTargetIsActor, i18n.Get("You can't do that to yourself.", req.Language))
}

func (e *Executor) rejectProtectedTarget(ctx context.Context, spec kindSpec, req *Request) Decision {
	if !spec.protected || !e.authority.IsBanProtected(ctx, req.ChatID, req.Target.ID) {
		return allow()
	}
	switch req.Kind {
	case KindKick:
		return deny(DenyProtected, i18n.Get("I can't kick an administrator.", req.Language))
	case KindMute, KindTempMute:
		return deny(DenyProtected, i18n.Get("I can't mute an administrator.", req.Language))
	default:
		return deny(DenyProtected, i18n.Get("I can't ban an administrator.", req.Language))
	}
}

// checkRoleTransition reads the target's current status for promote and demote.
func (e *Executor) checkRoleTransition(ctx context.Context, _ kindSpec, req *Request) Decision {
	if req.Kind != KindPromote && req.Kind != KindDemote {
		return allow()
	}
	member, err := e.platform.GetChatMember(ctx, req.ChatID, req.Target.ID)
	if err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"method":  "checkRoleTransition",
			"chat_id": req.ChatID,
			"user_id": req.Target.ID,
			"error":   err.Error(),
		}).Debug("cant read target membership")
		return deny(DenyRoleTransition, i18n.Get("I can't find this user in the chat.", req.Language))
	}
	switch {
	case member.HasLeft() || member.WasKicked():
		return deny(DenyRoleTransition, i18n.Get("I can't find this user in the chat.", req.Language))
	case req.Kind == KindPromote && (member.IsCreator() || member.IsAdministrator()):
		return deny(DenyRoleTransition, i18n.Get("This user is already an administrator.", req.Language))
	case req.Kind == KindDemote && member.IsCreator():
		return deny(DenyRoleTransition, i18n.Get("I can't demote the chat creator.", req.Language))
	case req.Kind == KindDemote && !member.IsAdministrator():
		return deny(DenyRoleTransition, i18n.Get("This user is not an administrator.", req.Language))
	}
	return allow()
}

// Execute authorizes and applies one moderation action. Rejections and
// platform failures are reported to the chat and returned in the outcome;
// only unexpected failures are returned as errors.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":  "Execute",
		"chat_id": req.ChatID,
		"user_id": req.Target.ID,
		"kind":    string(req.Kind),
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ctx, span := otel.Tracer("ngguard/moderation").Start(ctx, "moderation.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(req.Kind)),
		attribute.Int64("chat_id", req.ChatID),
		attribute.Int64("target_id", req.Target.ID),
	)

	spec, ok := kinds[req.Kind]
	if !ok {
		return nil, errors.New(errors.KindInvalidInput, "execute", fmt.Errorf("unknown action %q", req.Kind))
	}
	if spec.needsDuration && req.Duration <= 0 {
		return nil, ErrBadDuration
	}

	outcome := &Outcome{Decision: e.authorize(ctx, spec, &req)}
	if !outcome.Decision.Allowed {
		e.reject(ctx, req, outcome.Decision)
		e.publish(req, event.ResultDenied, time.Time{}, false)
		return outcome, nil
	}

	if spec.needsDuration {
		outcome.Until = e.now().Add(req.Duration)
	}

	if err := e.apply(ctx, req.Kind, req.ChatID, req.Target.ID, outcome.Until); err != nil {
		span.RecordError(err)
		outcome.Decision = e.platformFailure(ctx, req, spec.capability, err)
		e.publish(req, event.ResultFailed, outcome.Until, false)
		if errors.KindOf(err) == errors.KindInternal {
			return outcome, err
		}
		return outcome, nil
	}

	confirmation, err := e.confirm(ctx, req, spec, outcome.Until)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant send confirmation")
		e.publish(req, event.ResultPartial, outcome.Until, false)
		return outcome, nil
	}
	outcome.Confirmation = &confirmation
	e.scheduleDelete(req.ChatID, confirmation.MessageID)
	e.cleanupCommand(ctx, req)

	entry.Info("moderation action executed")
	e.publish(req, event.ResultOK, outcome.Until, false)
	return outcome, nil
}

func (e *Executor) apply(ctx context.Context, kind Kind, chatID, userID int64, until time.Time) error {
	switch kind {
	case KindBan, KindTempBan:
		return e.platform.BanMember(ctx, chatID, userID, until)
	case KindKick:
		if err := e.platform.BanMember(ctx, chatID, userID, time.Time{}); err != nil {
			return err
		}
		return e.platform.UnbanMember(ctx, chatID, userID)
	case KindMute, KindTempMute:
		return e.platform.RestrictMember(ctx, chatID, userID, telegram.MutedPermissions(), until)
	case KindUnban:
		return e.platform.UnbanMember(ctx, chatID, userID)
	case KindUnmute:
		return e.platform.RestrictMember(ctx, chatID, userID, telegram.FullPermissions(), time.Time{})
	case KindPromote, KindDemote:
		return e.platform.PromoteMember(ctx, chatID, userID, kind == KindPromote)
	default:
		return errors.New(errors.KindInvalidInput, "apply", fmt.Errorf("unknown action %q", kind))
	}
}

// platformFailure reports a failed platform call. Nothing is retried: a
// repeated ban or restrict could double the side effect.
func (e *Executor) platformFailure(ctx context.Context, req Request, capability permissions.Capability, err error) Decision {
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":  "platformFailure",
		"chat_id": req.ChatID,
		"user_id": req.Target.ID,
		"error":   err.Error(),
	})

	var reason string
	switch errors.KindOf(err) {
	case errors.KindCapability:
		entry.Debug("bot lacks rights")
		reason = missingCapability(capability, req.Language)
	case errors.KindTransient:
		entry.Warn("transient platform failure, action abandoned")
		reason = i18n.Get("Telegram did not respond in time, the action may not have completed.", req.Language)
	case errors.KindBadRequest:
		entry.Debug("platform rejected request")
		if req.Target.ID != 0 {
			reason = i18n.Get("Telegram rejected the request: the user may not be a member of this chat.", req.Language)
		} else {
			reason = i18n.Get("Telegram rejected the request.", req.Language)
		}
	default:
		entry.Error("moderation action failed")
		reason = i18n.Get("Something went wrong, the action was not completed.", req.Language)
	}
	e.reply(ctx, req, reason)
	return deny(DenyPlatform, reason)
}

func (e *Executor) confirm(ctx context.Context, req Request, spec kindSpec, until time.Time) (api.Message, error) {
	text := confirmationText(req, until)
	msg := api.NewMessage(req.ChatID, text)
	msg.ParseMode = api.ModeMarkdown
	msg.MessageThreadID = req.ThreadID
	msg.LinkPreviewOptions.IsDisabled = true
	if spec.undoable {
		msg.ReplyMarkup = api.NewInlineKeyboardMarkup(api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData(i18n.Get("Undo", req.Language), undoData(req.Kind, req.Target.ID, req.ChatID)),
		))
	}
	return e.platform.Send(ctx, msg)
}

func confirmationText(req Request, until time.Time) string {
	actor := bot.MentionUser(req.Actor)
	target := req.Target.Mention()
	untilText := until.UTC().Format(untilLayout)

	var text string
	switch req.Kind {
	case KindBan:
		text = fmt.Sprintf(i18n.Get("%s banned %s.", req.Language), actor, target)
	case KindTempBan:
		text = fmt.Sprintf(i18n.Get("%s banned %s until %s.", req.Language), actor, target, untilText)
	case KindKick:
		text = fmt.Sprintf(i18n.Get("%s kicked %s.", req.Language), actor, target)
	case KindMute:
		text = fmt.Sprintf(i18n.Get("%s muted %s.", req.Language), actor, target)
	case KindTempMute:
		text = fmt.Sprintf(i18n.Get("%s muted %s until %s.", req.Language), actor, target, untilText)
	case KindUnban:
		text = fmt.Sprintf(i18n.Get("%s unbanned %s.", req.Language), actor, target)
	case KindUnmute:
		text = fmt.Sprintf(i18n.Get("%s unmuted %s.", req.Language), actor, target)
	case KindPromote:
		text = fmt.Sprintf(i18n.Get("%s promoted %s to administrator.", req.Language), actor, target)
	case KindDemote:
		text = fmt.Sprintf(i18n.Get("%s demoted %s.", req.Language), actor, target)
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		text += "\n" + fmt.Sprintf(i18n.Get("Reason: %s", req.Language), api.EscapeText(api.ModeMarkdown, reason))
	}
	return text
}

func (e *Executor) scheduleDelete(chatID int64, messageID int) {
	if e.tasks == nil || messageID == 0 {
		return
	}
	key := scheduler.Key{Kind: scheduler.KindDeleteMessage, ChatID: chatID, MessageID: messageID}
	e.tasks.Schedule(key, e.options.DeleteAfter, func(ctx context.Context) {
		if err := e.platform.DeleteMessage(ctx, chatID, messageID); err != nil {
			e.getLogEntry().WithFields(log.Fields{"chat_id": chatID, "error": err.Error()}).Debug("cant delete confirmation")
		}
	})
}

// cleanupCommand removes the triggering command once the confirmation is out.
func (e *Executor) cleanupCommand(ctx context.Context, req Request) {
	if req.CommandMessageID == 0 || req.Actor == nil || !e.wantsCommandDeleted(ctx, req.Actor.ID) {
		return
	}
	if err := e.platform.DeleteMessage(ctx, req.ChatID, req.CommandMessageID); err != nil {
		e.getLogEntry().WithFields(log.Fields{"chat_id": req.ChatID, "error": err.Error()}).Debug("cant delete command message")
	}
}

func (e *Executor) wantsCommandDeleted(ctx context.Context, userID int64) bool {
	if e.prefs == nil {
		return e.options.DeleteCommands
	}
	prefs, err := e.prefs.GetUserPrefs(ctx, userID)
	if err != nil {
		e.getLogEntry().WithFields(log.Fields{"user_id": userID, "error": err.Error()}).Error("cant load user prefs")
		return e.options.DeleteCommands
	}
	if prefs == nil || prefs.DeleteModCommands == nil {
		return e.options.DeleteCommands
	}
	return *prefs.DeleteModCommands
}

func (e *Executor) reply(ctx context.Context, req Request, text string) {
	msg := api.NewMessage(req.ChatID, text)
	msg.MessageThreadID = req.ThreadID
	if req.CommandMessageID != 0 {
		msg.ReplyParameters.MessageID = req.CommandMessageID
		msg.ReplyParameters.ChatID = req.ChatID
		msg.ReplyParameters.AllowSendingWithoutReply = true
	}
	if _, err := e.platform.Send(ctx, msg); err != nil {
		e.getLogEntry().WithFields(log.Fields{"chat_id": req.ChatID, "error": err.Error()}).Warn("cant send reply")
	}
}

func (e *Executor) publish(req Request, result string, until time.Time, undo bool) {
	if e.events == nil {
		return
	}
	ev := event.ModerationEvent{
		Base:       event.Now(),
		ChatID:     req.ChatID,
		ChatTitle:  req.ChatTitle,
		TargetID:   req.Target.ID,
		TargetName: req.Target.Name,
		Action:     string(req.Kind),
		Reason:     req.Reason,
		Until:      until,
		Result:     result,
		Undo:       undo,
	}
	if req.Actor != nil {
		ev.ActorID = req.Actor.ID
		ev.ActorName = bot.GetFullName(req.Actor)
	}
	if !e.events.Publish(ev) {
		e.getLogEntry().WithField("chat_id", req.ChatID).Warn("moderation event dropped")
	}
}

func (e *Executor) getLogEntry() *log.Entry {
	return e.logger
}
