package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
)

// Service is the shared context every handler is built from.
type Service interface {
	GetGateway() *telegram.Gateway
	GetDB() db.Client
	GetLanguage(ctx context.Context, chatID int64, user *api.User) string
	RememberUser(ctx context.Context, user *api.User)
}

// Handler defines the interface for all update handlers in the system
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}

type userStore interface {
	UpsertKnownUser(ctx context.Context, user *db.KnownUser) error
}
