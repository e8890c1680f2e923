package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

type (
	adminStore interface {
		ListBotAdmins(ctx context.Context, chatID int64) ([]*db.BotAdmin, error)
		UpsertBotAdmin(ctx context.Context, admin *db.BotAdmin) error
		DeleteBotAdmin(ctx context.Context, chatID, userID int64) (bool, error)
		GetUserPrefs(ctx context.Context, userID int64) (*db.UserPrefs, error)
		SetDeleteModCommands(ctx context.Context, userID int64, enabled bool) error
	}

	authority interface {
		Resolve(ctx context.Context, chatID, userID int64) permissions.Level
		CanConfigure(ctx context.Context, chatID, userID int64) bool
	}

	sender interface {
		Send(ctx context.Context, c api.Chattable) (api.Message, error)
	}

	// Admin manages bot-admin roles and personal moderation preferences.
	Admin struct {
		s              bot.Service
		store          adminStore
		authority      authority
		platform       sender
		deleteCommands bool
		logger         *log.Entry
	}
)

// NewAdmin takes the global default for deleting moderation commands, used
// when a user has no preference of their own.
func NewAdmin(s bot.Service, store adminStore, authority authority, platform sender, deleteCommands bool) *Admin {
	return &Admin{
		s:              s,
		store:          store,
		authority:      authority,
		platform:       platform,
		deleteCommands: deleteCommands,
		logger:         log.WithField("handler", "admin"),
	}
}

func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if u == nil || u.Message == nil || chat == nil || user == nil || !u.Message.IsCommand() {
		return true, nil
	}

	msg := u.Message
	args := strings.Fields(msg.CommandArguments())
	language := a.s.GetLanguage(ctx, chat.ID, user)

	var reply string
	switch strings.ToLower(msg.Command()) {
	case "botadmins":
		reply, err = a.listCommand(ctx, chat, user, args, language)
	case "addbotadmin":
		reply, err = a.addCommand(ctx, user, args, language)
	case "rembotadmin":
		reply, err = a.removeCommand(ctx, user, args, language)
	case "modcmds":
		reply, err = a.modCmdsCommand(ctx, user, args, language)
	default:
		return true, nil
	}

	entry := a.logger.WithFields(log.Fields{"method": "Handle", "command": msg.Command(), "chat_id": chat.ID, "user_id": user.ID})
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant run admin command")
		reply = i18n.Get("Could not save the settings, try again later.", language)
	}

	out := api.NewMessage(chat.ID, reply)
	out.MessageThreadID = msg.MessageThreadID
	out.ReplyParameters.MessageID = msg.MessageID
	out.ReplyParameters.ChatID = chat.ID
	out.ReplyParameters.AllowSendingWithoutReply = true
	if _, err := a.platform.Send(ctx, out); err != nil {
		entry.WithField("error", err.Error()).Warn("cant send reply")
	}
	return false, nil
}

// targetChat reads an optional leading chat id and falls back to the current group.
func targetChat(chat *api.Chat, args []string) (int64, []string, bool) {
	if len(args) > 0 {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil && id < 0 {
			return id, args[1:], true
		}
	}
	if chat.IsGroup() || chat.IsSuperGroup() {
		return chat.ID, args, true
	}
	return 0, args, false
}

func (a *Admin) listCommand(ctx context.Context, chat *api.Chat, user *api.User, args []string, language string) (string, error) {
	chatID, _, ok := targetChat(chat, args)
	if !ok {
		return i18n.Get("Usage: /botadmins [chat_id]", language), nil
	}
	if a.authority.Resolve(ctx, chatID, user.ID).Authority < permissions.AuthorityPlatformAdmin {
		return i18n.Get("You don't have permission to do that.", language), nil
	}

	admins, err := a.store.ListBotAdmins(ctx, chatID)
	if err != nil {
		return "", errors.WithMessage(err, "list bot admins")
	}
	if len(admins) == 0 {
		return fmt.Sprintf(i18n.Get("No bot admins in chat %d.", language), chatID), nil
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf(i18n.Get("Bot admins of chat %d:", language), chatID))
	for _, admin := range admins {
		b.WriteString(fmt.Sprintf("\n%d: %s", admin.UserID, admin.Role))
	}
	return b.String(), nil
}

func (a *Admin) addCommand(ctx context.Context, user *api.User, args []string, language string) (string, error) {
	usage := i18n.Get("Usage: /addbotadmin <chat_id> <user_id> [owner|admin|moderator]", language)
	if len(args) < 2 || len(args) > 3 {
		return usage, nil
	}
	chatID, errChat := strconv.ParseInt(args[0], 10, 64)
	userID, errUser := strconv.ParseInt(args[1], 10, 64)
	if errChat != nil || errUser != nil || userID <= 0 {
		return usage, nil
	}
	role := permissions.RoleModerator
	if len(args) == 3 {
		var ok bool
		if role, ok = permissions.ParseRole(args[2]); !ok {
			return fmt.Sprintf(i18n.Get("Unknown role. Available: %s", language), "owner, admin, moderator"), nil
		}
	}

	if !a.authority.CanConfigure(ctx, chatID, user.ID) {
		return i18n.Get("You don't have permission to do that.", language), nil
	}
	// a bot admin cannot hand out a role above their own
	if level := a.authority.Resolve(ctx, chatID, user.ID); level.Authority == permissions.AuthorityBotAdmin && role.Rank() > level.Role.Rank() {
		return i18n.Get("You can't appoint a role above your own.", language), nil
	}

	err := a.store.UpsertBotAdmin(ctx, &db.BotAdmin{
		ChatID:  chatID,
		UserID:  userID,
		Role:    string(role),
		AddedBy: user.ID,
	})
	if err != nil {
		return "", errors.WithMessage(err, "upsert bot admin")
	}
	a.logger.WithFields(log.Fields{"chat_id": chatID, "user_id": userID, "role": string(role), "by": user.ID}).Info("bot admin appointed")
	return fmt.Sprintf(i18n.Get("User %d is now %s in chat %d.", language), userID, role, chatID), nil
}

func (a *Admin) removeCommand(ctx context.Context, user *api.User, args []string, language string) (string, error) {
	usage := i18n.Get("Usage: /rembotadmin <chat_id> <user_id>", language)
	if len(args) != 2 {
		return usage, nil
	}
	chatID, errChat := strconv.ParseInt(args[0], 10, 64)
	userID, errUser := strconv.ParseInt(args[1], 10, 64)
	if errChat != nil || errUser != nil {
		return usage, nil
	}
	if !a.authority.CanConfigure(ctx, chatID, user.ID) {
		return i18n.Get("You don't have permission to do that.", language), nil
	}

	removed, err := a.store.DeleteBotAdmin(ctx, chatID, userID)
	if err != nil {
		return "", errors.WithMessage(err, "delete bot admin")
	}
	if !removed {
		return fmt.Sprintf(i18n.Get("User %d is not a bot admin in chat %d.", language), userID, chatID), nil
	}
	a.logger.WithFields(log.Fields{"chat_id": chatID, "user_id": userID, "by": user.ID}).Info("bot admin removed")
	return fmt.Sprintf(i18n.Get("User %d is no longer a bot admin in chat %d.", language), userID, chatID), nil
}

func (a *Admin) modCmdsCommand(ctx context.Context, user *api.User, args []string, language string) (string, error) {
	status := func(enabled bool) string {
		state := i18n.Get("off", language)
		if enabled {
			state = i18n.Get("on", language)
		}
		return fmt.Sprintf(i18n.Get("Deleting your moderation commands: %s", language), state)
	}

	if len(args) == 0 {
		prefs, err := a.store.GetUserPrefs(ctx, user.ID)
		if err != nil {
			return "", errors.WithMessage(err, "get user prefs")
		}
		enabled := a.deleteCommands
		if prefs != nil && prefs.DeleteModCommands != nil {
			enabled = *prefs.DeleteModCommands
		}
		return status(enabled), nil
	}

	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on", "yes":
		enabled = true
	case "off", "no":
	default:
		return i18n.Get("Usage: /modcmds on|off", language), nil
	}
	if err := a.store.SetDeleteModCommands(ctx, user.ID, enabled); err != nil {
		return "", errors.WithMessage(err, "set user prefs")
	}
	return status(enabled), nil
}
