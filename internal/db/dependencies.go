package db

import (
	"context"

	"github.com/iamwavecut/ngguard/internal/captcha"
)

type Client interface {
	Close() error

	GetCaptchaSettings(ctx context.Context, chatID int64) (captcha.Settings, error)
	UpdateCaptchaSettings(ctx context.Context, chatID int64, fn func(*captcha.Settings) error) (captcha.Settings, error)
	GetCASSettings(ctx context.Context, chatID int64) (CASSettings, error)
	UpdateCASSettings(ctx context.Context, chatID int64, fn func(*CASSettings) error) (CASSettings, error)
	GetLockdown(ctx context.Context, chatID int64) (Lockdown, error)
	UpdateLockdown(ctx context.Context, chatID int64, fn func(*Lockdown) error) (Lockdown, error)
	GetWelcomeSettings(ctx context.Context, chatID int64) (WelcomeSettings, error)
	UpdateWelcomeSettings(ctx context.Context, chatID int64, fn func(*WelcomeSettings) error) (WelcomeSettings, error)

	GetBotAdmin(ctx context.Context, chatID, userID int64) (*BotAdmin, error)
	ListBotAdmins(ctx context.Context, chatID int64) ([]*BotAdmin, error)
	UpsertBotAdmin(ctx context.Context, admin *BotAdmin) error
	DeleteBotAdmin(ctx context.Context, chatID, userID int64) (bool, error)

	UpsertKnownUser(ctx context.Context, user *KnownUser) error
	GetKnownUserByUsername(ctx context.Context, username string) (*KnownUser, error)

	GetUserPrefs(ctx context.Context, userID int64) (*UserPrefs, error)
	SetDeleteModCommands(ctx context.Context, userID int64, enabled bool) error

	MigrateChat(ctx context.Context, from, to int64) error

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}
