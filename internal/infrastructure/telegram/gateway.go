package telegram

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Gateway wraps the bot API: every call waits for the outbound rate limiter
// and every failure is classified into an error kind.
type Gateway struct {
	bot     *api.BotAPI
	limiter *rate.Limiter
	logger  *log.Entry
}

func NewGateway(bot *api.BotAPI, perSecond float64) *Gateway {
	if perSecond <= 0 {
		perSecond = 25
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Gateway{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  log.WithField("object", "TelegramGateway"),
	}
}

func (g *Gateway) Self() api.User {
	return g.bot.Self
}

func (g *Gateway) BotAPI() *api.BotAPI {
	return g.bot
}

func (g *Gateway) wait(ctx context.Context, op string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return Classify(op, err)
	}
	return nil
}

func (g *Gateway) Send(ctx context.Context, c api.Chattable) (api.Message, error) {
	if err := g.wait(ctx, "send"); err != nil {
		return api.Message{}, err
	}
	msg, err := g.bot.Send(c)
	return msg, Classify("send", err)
}

func (g *Gateway) Request(ctx context.Context, c api.Chattable) error {
	if err := g.wait(ctx, "request"); err != nil {
		return err
	}
	_, err := g.bot.Request(c)
	return Classify("request", err)
}

func (g *Gateway) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if messageID == 0 {
		return nil
	}
	if err := g.wait(ctx, "deleteMessage"); err != nil {
		return err
	}
	_, err := g.bot.Request(api.NewDeleteMessage(chatID, messageID))
	return Classify("deleteMessage", err)
}

// BanMember bans until the given time; the zero time bans forever.
func (g *Gateway) BanMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := g.wait(ctx, "banChatMember"); err != nil {
		return err
	}
	_, err := g.bot.Request(api.BanChatMemberConfig{
		ChatMemberConfig: memberConfig(chatID, userID),
		UntilDate:        unixOrZero(until),
		RevokeMessages:   false,
	})
	return Classify("banChatMember", err)
}

func (g *Gateway) UnbanMember(ctx context.Context, chatID, userID int64) error {
	if err := g.wait(ctx, "unbanChatMember"); err != nil {
		return err
	}
	_, err := g.bot.Request(api.UnbanChatMemberConfig{
		ChatMemberConfig: memberConfig(chatID, userID),
		OnlyIfBanned:     true,
	})
	return Classify("unbanChatMember", err)
}

func (g *Gateway) RestrictMember(ctx context.Context, chatID, userID int64, perms api.ChatPermissions, until time.Time) error {
	if err := g.wait(ctx, "restrictChatMember"); err != nil {
		return err
	}
	_, err := g.bot.Request(api.RestrictChatMemberConfig{
		ChatMemberConfig: memberConfig(chatID, userID),
		UntilDate:        unixOrZero(until),
		Permissions:      &perms,
	})
	return Classify("restrictChatMember", err)
}

// PromoteMember grants or revokes the administrator rights of a member.
func (g *Gateway) PromoteMember(ctx context.Context, chatID, userID int64, promote bool) error {
	if err := g.wait(ctx, "promoteChatMember"); err != nil {
		return err
	}
	_, err := g.bot.Request(AdministratorRights(chatID, userID, promote))
	return Classify("promoteChatMember", err)
}

func (g *Gateway) PinMessage(ctx context.Context, chatID int64, messageID int, silent bool) error {
	if err := g.wait(ctx, "pinChatMessage"); err != nil {
		return err
	}
	_, err := g.bot.Request(api.NewPinChatMessage(chatID, messageID, silent))
	return Classify("pinChatMessage", err)
}

// UnpinMessage unpins the given message; messageID 0 unpins the most recent pin.
func (g *Gateway) UnpinMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := g.wait(ctx, "unpinChatMessage"); err != nil {
		return err
	}
	_, err := g.bot.Request(api.NewUnpinChatMessage(chatID, messageID))
	return Classify("unpinChatMessage", err)
}

func (g *Gateway) GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error) {
	if err := g.wait(ctx, "getChatMember"); err != nil {
		return api.ChatMember{}, err
	}
	member, err := g.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
	return member, Classify("getChatMember", err)
}

func (g *Gateway) GetChatAdministrators(ctx context.Context, chatID int64) ([]api.ChatMember, error) {
	if err := g.wait(ctx, "getChatAdministrators"); err != nil {
		return nil, err
	}
	admins, err := g.bot.GetChatAdministrators(api.ChatAdministratorsConfig{
		ChatConfig: api.ChatConfig{ChatID: chatID},
	})
	return admins, Classify("getChatAdministrators", err)
}

func (g *Gateway) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := g.wait(ctx, "answerCallbackQuery"); err != nil {
		return err
	}
	cb := api.NewCallback(callbackID, text)
	if alert {
		cb = api.NewCallbackWithAlert(callbackID, text)
	}
	_, err := g.bot.Request(cb)
	return Classify("answerCallbackQuery", err)
}

func (g *Gateway) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *api.InlineKeyboardMarkup) error {
	if err := g.wait(ctx, "editMessageText"); err != nil {
		return err
	}
	edit := api.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = api.ModeMarkdown
	edit.ReplyMarkup = markup
	_, err := g.bot.Send(edit)
	return Classify("editMessageText", err)
}

func memberConfig(chatID, userID int64) api.ChatMemberConfig {
	return api.ChatMemberConfig{
		ChatConfig: api.ChatConfig{ChatID: chatID},
		UserID:     userID,
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
