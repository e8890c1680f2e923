package bot

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
)

const (
	seenUsersSize = 50000
	seenUsersTTL  = time.Hour
)

type service struct {
	gateway         *telegram.Gateway
	db              db.Client
	users           userStore
	defaultLanguage string
	seen            *expirable.LRU[int64, string]
	logger          *log.Entry
}

func NewService(gateway *telegram.Gateway, dbClient db.Client, defaultLanguage string) *service {
	if defaultLanguage == "" {
		defaultLanguage = i18n.DefaultLanguage
	}
	return &service{
		gateway:         gateway,
		db:              dbClient,
		users:           dbClient,
		defaultLanguage: defaultLanguage,
		seen:            expirable.NewLRU[int64, string](seenUsersSize, nil, seenUsersTTL),
		logger:          log.WithField("object", "BotService"),
	}
}

func (s *service) GetGateway() *telegram.Gateway {
	return s.gateway
}

func (s *service) GetDB() db.Client {
	return s.db
}

func (s *service) GetLanguage(ctx context.Context, chatID int64, user *api.User) string {
	if user != nil && tool.In(user.LanguageCode, i18n.GetLanguagesList()...) {
		return user.LanguageCode
	}
	return s.defaultLanguage
}

// RememberUser feeds the username index. Unchanged users are skipped.
func (s *service) RememberUser(ctx context.Context, user *api.User) {
	if user == nil || user.ID == 0 {
		return
	}
	fingerprint := db.NormalizeUsername(user.UserName) + "|" + user.FirstName
	if prev, ok := s.seen.Get(user.ID); ok && prev == fingerprint {
		return
	}
	err := s.users.UpsertKnownUser(ctx, &db.KnownUser{
		UserID:    user.ID,
		Username:  user.UserName,
		FirstName: user.FirstName,
	})
	if err != nil {
		s.logger.WithFields(log.Fields{"user_id": user.ID, "error": err.Error()}).Error("cant remember user")
		return
	}
	s.seen.Add(user.ID, fingerprint)
}
