package handlers

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/event"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
)

// Admit runs the admission gate for one joining member: lockdown, then CAS,
// then captcha, then welcome. The returned decision names the stage that
// handled the member.
func (g *Gatekeeper) Admit(ctx context.Context, chat *api.Chat, member *api.User, joinMsg *api.Message) (string, error) {
	entry := g.logger.WithFields(log.Fields{"method": "Admit", "chat_id": chat.ID, "user_id": member.ID})

	if member.IsBot || member.ID == g.platform.Self().ID {
		entry.Debug("skipping bot member")
		return event.DecisionSkipped, nil
	}

	ctx, span := otel.Tracer("ngguard/admission").Start(ctx, "admission.admit")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chat.ID), attribute.Int64("user_id", member.ID))

	lockdown, err := g.store.GetLockdown(ctx, chat.ID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant load lockdown state")
		lockdown = db.DefaultLockdown()
	}
	if lockdown.Enabled {
		if err := g.platform.BanMember(ctx, chat.ID, member.ID, time.Time{}); err != nil {
			entry.WithField("error", err.Error()).Warn("cant ban member during lockdown")
		}
		if joinMsg != nil {
			g.deleteMessage(ctx, chat.ID, joinMsg.MessageID)
		}
		entry.Info("member banned by lockdown")
		g.publishAdmission(chat.ID, member, event.DecisionLockdownBan, lockdown.Reason)
		return event.DecisionLockdownBan, nil
	}

	language := g.s.GetLanguage(ctx, chat.ID, member)
	threadID := 0
	if joinMsg != nil {
		threadID = joinMsg.MessageThreadID
	}

	casSettings, err := g.store.GetCASSettings(ctx, chat.ID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant load cas settings")
		casSettings = db.DefaultCASSettings()
	}
	if casSettings.Enabled && g.cas != nil {
		verdict, err := g.cas.Check(ctx, member.ID)
		if err != nil {
			entry.WithField("error", err.Error()).Warn("cas check failed, admitting")
		} else if verdict.Flagged {
			g.applyCAS(ctx, chat, member, casSettings, verdict.Offenses, threadID, language)
			return event.DecisionCASAction, nil
		}
	}

	settings, err := g.captchaSettings(ctx, chat.ID)
	if err != nil {
		return "", err
	}
	if settings.Enabled {
		if err := g.challenge(ctx, chat, member, joinMsg, settings, language); err != nil {
			return "", err
		}
		g.publishAdmission(chat.ID, member, event.DecisionChallenge, string(settings.Mode))
		return event.DecisionChallenge, nil
	}

	if g.welcome(ctx, chat, member, threadID, language) {
		g.publishAdmission(chat.ID, member, event.DecisionWelcome, "")
		return event.DecisionWelcome, nil
	}
	g.publishAdmission(chat.ID, member, event.DecisionAdmitted, "")
	return event.DecisionAdmitted, nil
}

func (g *Gatekeeper) applyCAS(ctx context.Context, chat *api.Chat, member *api.User, settings db.CASSettings, offenses int, threadID int, language string) {
	entry := g.logger.WithFields(log.Fields{"method": "applyCAS", "chat_id": chat.ID, "user_id": member.ID, "action": string(settings.Action)})

	var (
		err    error
		notice string
	)
	switch settings.Action {
	case db.CASActionKick:
		if err = g.platform.BanMember(ctx, chat.ID, member.ID, time.Time{}); err == nil {
			err = g.platform.UnbanMember(ctx, chat.ID, member.ID)
		}
		notice = i18n.Get("%s [%d] is listed in CAS and was kicked.", language)
	case db.CASActionMute:
		err = g.platform.RestrictMember(ctx, chat.ID, member.ID, telegram.MutedPermissions(), time.Time{})
		notice = i18n.Get("%s [%d] is listed in CAS and was muted.", language)
	default:
		err = g.platform.BanMember(ctx, chat.ID, member.ID, time.Time{})
		notice = i18n.Get("%s [%d] is listed in CAS and was banned.", language)
	}
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant apply cas action")
	} else {
		entry.WithField("offenses", offenses).Info("cas action applied")
	}

	if settings.Notify {
		g.notify(ctx, chat.ID, threadID, fmt.Sprintf(notice, member.FirstName, member.ID), false, 0)
	}
	g.publishAdmission(chat.ID, member, event.DecisionCASAction, fmt.Sprintf("%s offenses=%d", settings.Action, offenses))
}

// welcome delivers the chat greeting and reports whether one was sent.
func (g *Gatekeeper) welcome(ctx context.Context, chat *api.Chat, member *api.User, threadID int, language string) bool {
	settings, err := g.store.GetWelcomeSettings(ctx, chat.ID)
	if err != nil {
		g.logger.WithFields(log.Fields{"chat_id": chat.ID, "error": err.Error()}).Error("cant load welcome settings")
		return false
	}
	if !settings.Enabled {
		return false
	}
	text := settings.Text
	if text == "" || text == db.DefaultWelcomeText {
		text = i18n.Get("Welcome, {{.mention}}!", language)
	}
	rendered := tool.ExecTemplate(text, welcomeVars(chat, member))
	g.notify(ctx, chat.ID, threadID, rendered, true, settings.DeleteAfter)
	return true
}

func welcomeVars(chat *api.Chat, member *api.User) map[string]any {
	return map[string]any{
		"first":   api.EscapeText(api.ModeMarkdown, member.FirstName),
		"mention": bot.MentionUser(member),
		"chat":    api.EscapeText(api.ModeMarkdown, chat.Title),
	}
}
