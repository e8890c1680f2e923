package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/captcha"
	"github.com/iamwavecut/ngguard/internal/event"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/scheduler"
)

const buttonsPerRow = 2

func timeoutKey(key captcha.Key) scheduler.Key {
	return scheduler.Key{Kind: scheduler.KindCaptchaTimeout, ChatID: key.ChatID, UserID: key.UserID}
}

func (g *Gatekeeper) captchaSettings(ctx context.Context, chatID int64) (captcha.Settings, error) {
	settings, err := g.store.GetCaptchaSettings(ctx, chatID)
	if err != nil {
		g.logger.WithFields(log.Fields{"chat_id": chatID, "error": err.Error()}).Error("cant load captcha settings")
		return captcha.Settings{}, errors.WithMessage(err, "load captcha settings")
	}
	settings.NormalizeWithin(g.minTimeout, g.maxTimeout)
	return settings, nil
}

func (g *Gatekeeper) challenge(ctx context.Context, chat *api.Chat, member *api.User, joinMsg *api.Message, settings captcha.Settings, language string) error {
	entry := g.logger.WithFields(log.Fields{"method": "challenge", "chat_id": chat.ID, "user_id": member.ID})

	puzzle := g.generator.Generate(settings.Mode, language)
	nonce := g.newNonce()
	threadID, joinMessageID := 0, 0
	if joinMsg != nil {
		threadID, joinMessageID = joinMsg.MessageThreadID, joinMsg.MessageID
	}

	if settings.MuteUntilSolved {
		if err := g.platform.RestrictMember(ctx, chat.ID, member.ID, telegram.MutedPermissions(), time.Time{}); err != nil {
			entry.WithField("error", err.Error()).Warn("cant mute member until solved")
		}
	}

	msg := api.NewMessage(chat.ID, challengeText(puzzle, member, settings.Timeout, language))
	msg.ParseMode = api.ModeMarkdown
	msg.MessageThreadID = threadID
	msg.ReplyMarkup = challengeKeyboard(puzzle, member.ID, nonce, language)
	sent, err := g.platform.Send(ctx, msg)
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant send challenge")
		if settings.MuteUntilSolved {
			if err := g.platform.RestrictMember(ctx, chat.ID, member.ID, telegram.FullPermissions(), time.Time{}); err != nil {
				entry.WithField("error", err.Error()).Warn("cant lift mute after failed challenge")
			}
		}
		return errors.WithMessage(err, "send challenge")
	}
	if joinMessageID != 0 {
		g.deleteMessage(ctx, chat.ID, joinMessageID)
	}

	pending := &captcha.Pending{
		ChatID:        chat.ID,
		UserID:        member.ID,
		Name:          bot.GetFullName(member),
		Answer:        puzzle.Answer,
		Mode:          puzzle.Mode,
		Options:       puzzle.Options,
		Nonce:         nonce,
		MessageID:     sent.MessageID,
		ThreadID:      threadID,
		JoinMessageID: joinMessageID,
		CreatedAt:     g.now(),
	}
	if superseded := g.pending.Put(pending); superseded != nil {
		entry.Debug("superseding previous challenge")
		g.deleteMessage(ctx, superseded.ChatID, superseded.MessageID)
	}
	g.scheduleTimeout(pending.Key(), nonce, settings.Timeout)

	entry.WithField("mode", string(puzzle.Mode)).Info("challenge issued")
	g.publishCaptcha(chat.ID, member.ID, puzzle.Mode, event.OutcomeIssued)
	return nil
}

func challengeText(p captcha.Puzzle, member *api.User, timeout time.Duration, language string) string {
	mention := bot.MentionUser(member)
	seconds := int(timeout.Seconds())
	subject := api.EscapeText(api.ModeMarkdown, p.Subject)
	switch p.Mode {
	case captcha.ModeMath:
		return fmt.Sprintf(i18n.Get("%s, solve %s within %d seconds to prove you are human.", language), mention, subject, seconds)
	case captcha.ModeText:
		return fmt.Sprintf(i18n.Get("%s, press the button with the word %s within %d seconds to prove you are human.", language), mention, subject, seconds)
	case captcha.ModeEmoji:
		return fmt.Sprintf(i18n.Get("%s, %s %s (answer within %d seconds)", language), mention, api.EscapeText(api.ModeMarkdown, p.Question), subject, seconds)
	default:
		return fmt.Sprintf(i18n.Get("%s, press the button below within %d seconds to prove you are human.", language), mention, seconds)
	}
}

func challengeKeyboard(p captcha.Puzzle, userID int64, nonce, language string) api.InlineKeyboardMarkup {
	var rows [][]api.InlineKeyboardButton
	var row []api.InlineKeyboardButton
	for i, option := range p.Options {
		label := option
		if p.Mode == captcha.ModeButton {
			label = i18n.Get("I'm human", language)
		}
		row = append(row, api.NewInlineKeyboardButtonData(label, callbackData(userID, nonce, i)))
		if len(row) == buttonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return api.NewInlineKeyboardMarkup(rows...)
}

func callbackData(userID int64, nonce string, option int) string {
	return fmt.Sprintf("%s%d;%s;%d", captchaCallbackPrefix, userID, nonce, option)
}

func parseCallbackData(data string) (userID int64, nonce string, option int, err error) {
	parts := strings.Split(strings.TrimPrefix(data, captchaCallbackPrefix), ";")
	if len(parts) != 3 {
		return 0, "", 0, errors.Errorf("malformed captcha data %q", data)
	}
	if userID, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return 0, "", 0, errors.Wrap(err, "parse user id")
	}
	if option, err = strconv.Atoi(parts[2]); err != nil {
		return 0, "", 0, errors.Wrap(err, "parse option")
	}
	return userID, parts[1], option, nil
}

func (g *Gatekeeper) scheduleTimeout(key captcha.Key, nonce string, after time.Duration) {
	g.tasks.Schedule(timeoutKey(key), after, func(ctx context.Context) {
		g.expire(ctx, key, nonce)
	})
}

func (g *Gatekeeper) handleAnswer(ctx context.Context, cq *api.CallbackQuery, chat *api.Chat) error {
	entry := g.logger.WithFields(log.Fields{"method": "handleAnswer", "chat_id": chat.ID})
	if cq.From == nil {
		return nil
	}
	language := g.s.GetLanguage(ctx, chat.ID, cq.From)

	userID, nonce, option, err := parseCallbackData(cq.Data)
	if err != nil {
		entry.WithField("error", err.Error()).Debug("ignoring captcha callback")
		g.answer(ctx, cq.ID, i18n.Get("This challenge has expired.", language), false)
		return nil
	}
	if cq.From.ID != userID {
		g.answer(ctx, cq.ID, i18n.Get("This challenge isn't yours.", language), true)
		return nil
	}

	key := captcha.Key{ChatID: chat.ID, UserID: userID}
	pending, ok := g.pending.Get(key)
	if !ok || pending.Nonce != nonce {
		entry.WithField("user_id", userID).Debug("stale challenge pressed")
		g.answer(ctx, cq.ID, i18n.Get("This challenge has expired.", language), false)
		if cq.Message != nil {
			g.deleteMessage(ctx, chat.ID, cq.Message.MessageID)
		}
		return nil
	}

	given, ok := pending.Option(option)
	if !ok || !captcha.Verify(pending.Answer, given) {
		g.answer(ctx, cq.ID, i18n.Get("Incorrect, try again.", language), true)
		g.publishCaptcha(chat.ID, userID, pending.Mode, event.OutcomeWrongAnswer)
		return nil
	}

	pending, ok = g.pending.TakeIf(key, nonce)
	if !ok {
		// the timeout got there first
		g.answer(ctx, cq.ID, i18n.Get("This challenge has expired.", language), false)
		return nil
	}
	g.tasks.Cancel(timeoutKey(key))
	g.answer(ctx, cq.ID, i18n.Get("Correct, welcome!", language), false)
	g.pass(ctx, chat, cq.From, pending, language)
	return nil
}

// pass finishes a solved challenge. The newbie mute is read from the settings
// in effect now, not from when the challenge was issued.
func (g *Gatekeeper) pass(ctx context.Context, chat *api.Chat, member *api.User, p *captcha.Pending, language string) {
	entry := g.logger.WithFields(log.Fields{"method": "pass", "chat_id": p.ChatID, "user_id": p.UserID})

	g.deleteMessage(ctx, p.ChatID, p.MessageID)
	if err := g.platform.RestrictMember(ctx, p.ChatID, p.UserID, telegram.FullPermissions(), time.Time{}); err != nil {
		entry.WithField("error", err.Error()).Warn("cant restore permissions")
	}

	settings, err := g.captchaSettings(ctx, p.ChatID)
	if err == nil && settings.NewbieMute > 0 {
		until := g.now().Add(settings.NewbieMute)
		if err := g.platform.RestrictMember(ctx, p.ChatID, p.UserID, telegram.MutedPermissions(), until); err != nil {
			entry.WithField("error", err.Error()).Warn("cant apply newbie mute")
		}
	}

	if !g.welcome(ctx, chat, member, p.ThreadID, language) {
		g.notify(ctx, p.ChatID, p.ThreadID, fmt.Sprintf(i18n.Get("%s passed the check, welcome!", language), bot.MentionUser(member)), true, noticeDeleteAfter)
	}
	entry.Info("challenge passed")
	g.publishCaptcha(p.ChatID, p.UserID, p.Mode, event.OutcomePassed)
}

// expire is the timeout path. It shares TakeIf with the success path, so at
// most one of them acts on a record, and a timer left over from an earlier
// challenge never resolves a newer one.
func (g *Gatekeeper) expire(ctx context.Context, key captcha.Key, nonce string) {
	entry := g.logger.WithFields(log.Fields{"method": "expire", "chat_id": key.ChatID, "user_id": key.UserID})

	p, ok := g.pending.TakeIf(key, nonce)
	if !ok {
		entry.Debug("challenge already resolved")
		return
	}
	language := g.s.GetLanguage(ctx, key.ChatID, nil)
	mention := bot.Mention(p.UserID, p.Name)

	g.deleteMessage(ctx, p.ChatID, p.MessageID)

	kick := true
	if settings, err := g.captchaSettings(ctx, p.ChatID); err == nil {
		kick = settings.KickOnFail
	}

	if kick {
		err := g.platform.BanMember(ctx, p.ChatID, p.UserID, time.Time{})
		if err == nil {
			err = g.platform.UnbanMember(ctx, p.ChatID, p.UserID)
		}
		if err != nil {
			entry.WithField("error", err.Error()).Warn("cant kick member after timeout")
		}
		g.notify(ctx, p.ChatID, p.ThreadID, fmt.Sprintf(i18n.Get("%s did not pass the check in time and was removed.", language), mention), true, noticeDeleteAfter)
		entry.Info("challenge expired, member kicked")
		g.publishCaptcha(p.ChatID, p.UserID, p.Mode, event.OutcomeKicked)
		return
	}

	g.notify(ctx, p.ChatID, p.ThreadID, fmt.Sprintf(i18n.Get("%s did not pass the check in time and remains muted.", language), mention), true, noticeDeleteAfter)
	entry.Info("challenge expired, member stays muted")
	g.publishCaptcha(p.ChatID, p.UserID, p.Mode, event.OutcomeMuted)
}

// forget drops the challenge of a member who left before answering.
func (g *Gatekeeper) forget(ctx context.Context, chatID, userID int64) {
	key := captcha.Key{ChatID: chatID, UserID: userID}
	p, ok := g.pending.Take(key)
	if !ok {
		return
	}
	g.tasks.Cancel(timeoutKey(key))
	g.deleteMessage(ctx, chatID, p.MessageID)
	g.logger.WithFields(log.Fields{"chat_id": chatID, "user_id": userID}).Debug("member left during challenge")
}

func (g *Gatekeeper) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := g.platform.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		g.logger.WithField("error", err.Error()).Debug("cant answer callback")
	}
}
