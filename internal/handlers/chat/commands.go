package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/captcha"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

const maxWelcomeDeleteAfter = 24 * time.Hour

// commandFunc receives the arguments split on whitespace and also verbatim,
// for commands that store free text.
type commandFunc func(ctx context.Context, chat *api.Chat, user *api.User, args []string, raw string, language string) (string, error)

type command struct {
	grant permissions.Grant
	run   commandFunc
}

func (g *Gatekeeper) commands() map[string]command {
	return map[string]command{
		"captcha":    {grant: permissions.GrantCaptcha, run: g.captchaCommand},
		"lockdown":   {grant: permissions.GrantLockdown, run: g.lockdownCommand},
		"unlock":     {grant: permissions.GrantLockdown, run: g.unlockCommand},
		"lockstatus": {grant: permissions.GrantLockdown, run: g.lockStatusCommand},
		"cas":        {grant: permissions.GrantCAS, run: g.casCommand},
		"welcome":    {grant: permissions.GrantWelcome, run: g.welcomeCommand},
	}
}

func (g *Gatekeeper) handleCommand(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) (bool, error) {
	name := strings.ToLower(msg.Command())
	cmd, ok := g.commands()[name]
	if !ok {
		return true, nil
	}
	entry := g.logger.WithFields(log.Fields{"method": "handleCommand", "command": name, "chat_id": chat.ID, "user_id": user.ID})
	language := g.s.GetLanguage(ctx, chat.ID, user)

	var reply string
	switch {
	case !chat.IsGroup() && !chat.IsSuperGroup():
		reply = i18n.Get("This command works only in groups.", language)
	case !g.authority.CanModerate(ctx, chat.ID, user.ID, cmd.grant):
		reply = i18n.Get("You don't have permission to do that.", language)
	default:
		var err error
		raw := msg.CommandArguments()
		reply, err = cmd.run(ctx, chat, user, strings.Fields(raw), raw, language)
		if err != nil {
			entry.WithField("error", err.Error()).Error("cant run command")
			reply = i18n.Get("Could not save the settings, try again later.", language)
		}
	}

	out := api.NewMessage(chat.ID, reply)
	out.MessageThreadID = msg.MessageThreadID
	out.ReplyParameters.MessageID = msg.MessageID
	out.ReplyParameters.ChatID = chat.ID
	out.ReplyParameters.AllowSendingWithoutReply = true
	out.LinkPreviewOptions.IsDisabled = true
	if _, err := g.platform.Send(ctx, out); err != nil {
		entry.WithField("error", err.Error()).Warn("cant send command reply")
	}
	return false, nil
}

func onOff(value bool, language string) string {
	if value {
		return i18n.Get("on", language)
	}
	return i18n.Get("off", language)
}

// afterFirstField drops the leading word of raw and trims the remainder,
// keeping inner line breaks.
func afterFirstField(raw string) string {
	raw = strings.TrimLeftFunc(raw, unicode.IsSpace)
	i := strings.IndexFunc(raw, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(raw[i:])
}

func parseSwitch(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "yes", "enable", "1":
		return true, true
	case "off", "no", "disable", "0":
		return false, true
	}
	return false, false
}

func (g *Gatekeeper) captchaStatus(s captcha.Settings, language string) string {
	return fmt.Sprintf(
		i18n.Get("Captcha: %s\nMode: %s\nTimeout: %d seconds\nKick on failure: %s\nMute until solved: %s\nNewbie mute: %d minutes", language),
		onOff(s.Enabled, language),
		s.Mode,
		int(s.Timeout.Seconds()),
		onOff(s.KickOnFail, language),
		onOff(s.MuteUntilSolved, language),
		int(s.NewbieMute.Minutes()),
	)
}

func (g *Gatekeeper) captchaCommand(ctx context.Context, chat *api.Chat, _ *api.User, args []string, _ string, language string) (string, error) {
	if len(args) == 0 {
		settings, err := g.captchaSettings(ctx, chat.ID)
		if err != nil {
			return "", err
		}
		return g.captchaStatus(settings, language), nil
	}

	var mutate func(*captcha.Settings) error
	switch sub := strings.ToLower(args[0]); {
	case len(args) == 1:
		enabled, ok := parseSwitch(sub)
		if !ok {
			return g.captchaUsage(language), nil
		}
		mutate = func(s *captcha.Settings) error { s.Enabled = enabled; return nil }
	case sub == "mode":
		mode, ok := captcha.ParseMode(args[1])
		if !ok {
			return fmt.Sprintf(i18n.Get("Unknown mode. Available: %s", language), modeList()), nil
		}
		mutate = func(s *captcha.Settings) error { s.Mode = mode; return nil }
	case sub == "timeout":
		seconds, err := strconv.Atoi(args[1])
		if err != nil || seconds < int(g.minTimeout/time.Second) || seconds > int(g.maxTimeout/time.Second) {
			return fmt.Sprintf(i18n.Get("Timeout must be a number of seconds between %d and %d.", language), int(g.minTimeout.Seconds()), int(g.maxTimeout.Seconds())), nil
		}
		timeout := time.Duration(seconds) * time.Second
		mutate = func(s *captcha.Settings) error { s.Timeout = timeout; return nil }
	case sub == "kick" || sub == "mute":
		value, ok := parseSwitch(args[1])
		if !ok {
			return g.captchaUsage(language), nil
		}
		mutate = func(s *captcha.Settings) error {
			if sub == "kick" {
				s.KickOnFail = value
			} else {
				s.MuteUntilSolved = value
			}
			return nil
		}
	case sub == "newbie":
		minutes, err := strconv.Atoi(args[1])
		if err != nil || minutes < 0 || minutes > int(captcha.MaxNewbieMute/time.Minute) {
			return fmt.Sprintf(i18n.Get("Newbie mute must be a number of minutes between 0 and %d.", language), int(captcha.MaxNewbieMute/time.Minute)), nil
		}
		mutate = func(s *captcha.Settings) error { s.NewbieMute = time.Duration(minutes) * time.Minute; return nil }
	default:
		return g.captchaUsage(language), nil
	}

	settings, err := g.store.UpdateCaptchaSettings(ctx, chat.ID, func(s *captcha.Settings) error {
		if err := mutate(s); err != nil {
			return err
		}
		s.NormalizeWithin(g.minTimeout, g.maxTimeout)
		return nil
	})
	if err != nil {
		return "", errors.WithMessage(err, "update captcha settings")
	}
	return g.captchaStatus(settings, language), nil
}

func (g *Gatekeeper) captchaUsage(language string) string {
	return i18n.Get("Usage: /captcha on|off, mode <mode>, timeout <seconds>, kick on|off, mute on|off, newbie <minutes>", language)
}

func modeList() string {
	names := make([]string, 0, len(captcha.Modes))
	for _, m := range captcha.Modes {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

func (g *Gatekeeper) lockdownCommand(ctx context.Context, chat *api.Chat, user *api.User, args []string, _ string, language string) (string, error) {
	reason := strings.Join(args, " ")
	if reason == "" {
		reason = i18n.Get("Spam attack", language)
	}
	lockdown, err := g.store.UpdateLockdown(ctx, chat.ID, func(l *db.Lockdown) error {
		l.Enabled = true
		l.Reason = reason
		l.Since = g.now().UTC()
		l.By = user.ID
		return nil
	})
	if err != nil {
		return "", errors.WithMessage(err, "enable lockdown")
	}
	g.logger.WithFields(log.Fields{"chat_id": chat.ID, "user_id": user.ID}).Info("lockdown enabled")
	return fmt.Sprintf(i18n.Get("Lockdown enabled: %s. New members will be banned on join.", language), lockdown.Reason), nil
}

func (g *Gatekeeper) unlockCommand(ctx context.Context, chat *api.Chat, user *api.User, _ []string, _ string, language string) (string, error) {
	_, err := g.store.UpdateLockdown(ctx, chat.ID, func(l *db.Lockdown) error {
		*l = db.DefaultLockdown()
		return nil
	})
	if err != nil {
		return "", errors.WithMessage(err, "disable lockdown")
	}
	g.logger.WithFields(log.Fields{"chat_id": chat.ID, "user_id": user.ID}).Info("lockdown disabled")
	return i18n.Get("Lockdown disabled.", language), nil
}

func (g *Gatekeeper) lockStatusCommand(ctx context.Context, chat *api.Chat, _ *api.User, _ []string, _ string, language string) (string, error) {
	lockdown, err := g.store.GetLockdown(ctx, chat.ID)
	if err != nil {
		return "", errors.WithMessage(err, "load lockdown")
	}
	if !lockdown.Enabled {
		return i18n.Get("Lockdown is off.", language), nil
	}
	return fmt.Sprintf(i18n.Get("Lockdown is active since %s: %s", language), lockdown.Since.Format(time.RFC822), lockdown.Reason), nil
}

func (g *Gatekeeper) casStatus(s db.CASSettings, language string) string {
	return fmt.Sprintf(
		i18n.Get("CAS check: %s\nAction: %s\nNotifications: %s", language),
		onOff(s.Enabled, language), s.Action, onOff(s.Notify, language),
	)
}

func (g *Gatekeeper) casCommand(ctx context.Context, chat *api.Chat, _ *api.User, args []string, _ string, language string) (string, error) {
	if len(args) == 0 {
		settings, err := g.store.GetCASSettings(ctx, chat.ID)
		if err != nil {
			return "", errors.WithMessage(err, "load cas settings")
		}
		return g.casStatus(settings, language), nil
	}

	var mutate func(*db.CASSettings)
	switch sub := strings.ToLower(args[0]); {
	case len(args) == 1:
		enabled, ok := parseSwitch(sub)
		if !ok {
			return g.casUsage(language), nil
		}
		mutate = func(s *db.CASSettings) { s.Enabled = enabled }
	case sub == "action":
		action, ok := db.ParseCASAction(args[1])
		if !ok {
			return g.casUsage(language), nil
		}
		mutate = func(s *db.CASSettings) { s.Action = action }
	case sub == "notify":
		notify, ok := parseSwitch(args[1])
		if !ok {
			return g.casUsage(language), nil
		}
		mutate = func(s *db.CASSettings) { s.Notify = notify }
	default:
		return g.casUsage(language), nil
	}

	settings, err := g.store.UpdateCASSettings(ctx, chat.ID, func(s *db.CASSettings) error {
		mutate(s)
		return nil
	})
	if err != nil {
		return "", errors.WithMessage(err, "update cas settings")
	}
	return g.casStatus(settings, language), nil
}

func (g *Gatekeeper) casUsage(language string) string {
	return i18n.Get("Usage: /cas on|off, action ban|kick|mute, notify on|off", language)
}

func (g *Gatekeeper) welcomeStatus(s db.WelcomeSettings, language string) string {
	return fmt.Sprintf(
		i18n.Get("Welcome message: %s\nDelete after: %d seconds\nText: %s", language),
		onOff(s.Enabled, language), int(s.DeleteAfter.Seconds()), s.Text,
	)
}

func (g *Gatekeeper) welcomeCommand(ctx context.Context, chat *api.Chat, _ *api.User, args []string, raw string, language string) (string, error) {
	if len(args) == 0 {
		settings, err := g.store.GetWelcomeSettings(ctx, chat.ID)
		if err != nil {
			return "", errors.WithMessage(err, "load welcome settings")
		}
		return g.welcomeStatus(settings, language), nil
	}

	var mutate func(*db.WelcomeSettings)
	switch sub := strings.ToLower(args[0]); {
	case len(args) == 1 && sub != "text":
		enabled, ok := parseSwitch(sub)
		if !ok {
			return g.welcomeUsage(language), nil
		}
		mutate = func(s *db.WelcomeSettings) { s.Enabled = enabled }
	case sub == "text":
		text := afterFirstField(raw)
		if text == "" {
			text = db.DefaultWelcomeText
		}
		if _, err := template.New("welcome").Parse(text); err != nil {
			return i18n.Get("The welcome text is not a valid template.", language), nil
		}
		mutate = func(s *db.WelcomeSettings) { s.Text = text }
	case sub == "delete":
		seconds, err := strconv.Atoi(args[1])
		if err != nil || seconds < 0 || seconds > int(maxWelcomeDeleteAfter/time.Second) {
			return g.welcomeUsage(language), nil
		}
		after := time.Duration(seconds) * time.Second
		mutate = func(s *db.WelcomeSettings) { s.DeleteAfter = after }
	default:
		return g.welcomeUsage(language), nil
	}

	settings, err := g.store.UpdateWelcomeSettings(ctx, chat.ID, func(s *db.WelcomeSettings) error {
		mutate(s)
		return nil
	})
	if err != nil {
		return "", errors.WithMessage(err, "update welcome settings")
	}
	return g.welcomeStatus(settings, language), nil
}

func (g *Gatekeeper) welcomeUsage(language string) string {
	return i18n.Get("Usage: /welcome on|off, text <template>, delete <seconds>", language)
}
