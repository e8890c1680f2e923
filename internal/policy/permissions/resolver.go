package permissions

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/db"
)

const (
	MaxAdminCacheTTL = 5 * time.Minute
	adminCacheSize   = 4096
)

type (
	// Static holds the process-wide user sets from configuration.
	Static struct {
		Owner      int64
		Developers []int64
		Sudo       []int64
		Support    []int64
		Whitelist  []int64
	}

	Level struct {
		Authority      Authority
		Role           Role
		PlatformStatus string
	}

	adminStore interface {
		GetBotAdmin(ctx context.Context, chatID, userID int64) (*db.BotAdmin, error)
	}

	platform interface {
		Self() api.User
		GetChatAdministrators(ctx context.Context, chatID int64) ([]api.ChatMember, error)
	}

	Resolver struct {
		static   Static
		store    adminStore
		platform platform
		admins   *expirable.LRU[int64, map[int64]api.ChatMember]
		logger   *log.Entry
	}
)

func NewResolver(static Static, store adminStore, platform platform, ttl time.Duration) *Resolver {
	if ttl <= 0 || ttl > MaxAdminCacheTTL {
		ttl = MaxAdminCacheTTL
	}
	return &Resolver{
		static:   static,
		store:    store,
		platform: platform,
		admins:   expirable.NewLRU[int64, map[int64]api.ChatMember](adminCacheSize, nil, ttl),
		logger:   log.WithField("object", "PermissionResolver"),
	}
}

func (s Static) globalAuthority(userID int64) Authority {
	switch {
	case userID == 0:
		return AuthorityRegular
	case userID == s.Owner:
		return AuthorityOwner
	case contains(s.Developers, userID):
		return AuthorityDeveloper
	case contains(s.Sudo, userID):
		return AuthoritySudo
	}
	return AuthorityRegular
}

func (s Static) isWhitelisted(userID int64) bool {
	return contains(s.Support, userID) || contains(s.Whitelist, userID)
}

// Resolve returns the highest authority the user holds in the chat.
func (r *Resolver) Resolve(ctx context.Context, chatID, userID int64) Level {
	if a := r.static.globalAuthority(userID); a.IsGlobal() {
		return Level{Authority: a}
	}
	if role, ok := r.botAdminRole(ctx, chatID, userID); ok {
		return Level{Authority: AuthorityBotAdmin, Role: role}
	}
	if member, ok := r.platformAdmin(ctx, chatID, userID); ok {
		return Level{Authority: AuthorityPlatformAdmin, PlatformStatus: member.Status}
	}
	if r.static.isWhitelisted(userID) {
		return Level{Authority: AuthorityWhitelisted}
	}
	return Level{Authority: AuthorityRegular}
}

// CanModerate reports whether the user may use a feature guarded by grant.
// Bot-admin and platform layers are checked independently. On the platform
// layer moderation needs the restrict right and pinning needs the pin right;
// everything else needs a chat manager.
func (r *Resolver) CanModerate(ctx context.Context, chatID, userID int64, grant Grant) bool {
	if r.static.globalAuthority(userID).IsGlobal() {
		return true
	}
	if role, ok := r.botAdminRole(ctx, chatID, userID); ok && role.Has(grant) {
		return true
	}
	member, ok := r.platformAdmin(ctx, chatID, userID)
	if !ok {
		return false
	}
	switch {
	case IsModerationGrant(grant):
		return IsPrivilegedModerator(&member)
	case grant == GrantPins:
		return IsManager(&member) || HasCapability(&member, CapPin)
	}
	return IsManager(&member)
}

// CanConfigure reports whether the user may change bot settings of the chat.
func (r *Resolver) CanConfigure(ctx context.Context, chatID, userID int64) bool {
	if r.static.globalAuthority(userID).IsGlobal() {
		return true
	}
	if role, ok := r.botAdminRole(ctx, chatID, userID); ok && role.Rank() >= RoleAdmin.Rank() {
		return true
	}
	member, ok := r.platformAdmin(ctx, chatID, userID)
	return ok && IsManager(&member)
}

// IsBanProtected does not depend on who is acting.
func (r *Resolver) IsBanProtected(ctx context.Context, chatID, userID int64) bool {
	if r.static.globalAuthority(userID) != AuthorityRegular || r.static.isWhitelisted(userID) {
		return true
	}
	_, ok := r.platformAdmin(ctx, chatID, userID)
	return ok
}

// BotCan reads the bot's own rights from the cached administrators list.
func (r *Resolver) BotCan(ctx context.Context, chatID int64, capability Capability) bool {
	self := r.platform.Self()
	member, ok := r.platformAdmin(ctx, chatID, self.ID)
	if !ok {
		return false
	}
	return HasCapability(&member, capability)
}

func (r *Resolver) Invalidate(chatID int64) {
	r.admins.Remove(chatID)
}

func (r *Resolver) botAdminRole(ctx context.Context, chatID, userID int64) (Role, bool) {
	if r.store == nil {
		return "", false
	}
	admin, err := r.store.GetBotAdmin(ctx, chatID, userID)
	if err != nil {
		r.logger.WithFields(log.Fields{"chat_id": chatID, "user_id": userID, "error": err.Error()}).Warn("cant load bot admin")
		return "", false
	}
	if admin == nil {
		return "", false
	}
	return ParseRole(admin.Role)
}

// platformAdmin fails closed: a lookup error means not an admin.
func (r *Resolver) platformAdmin(ctx context.Context, chatID, userID int64) (api.ChatMember, bool) {
	if chatID == userID {
		return api.ChatMember{Status: "creator"}, true
	}
	admins, ok := r.admins.Get(chatID)
	if !ok {
		list, err := r.platform.GetChatAdministrators(ctx, chatID)
		if err != nil {
			r.logger.WithFields(log.Fields{"chat_id": chatID, "error": err.Error()}).Warn("cant fetch chat administrators")
			return api.ChatMember{}, false
		}
		admins = make(map[int64]api.ChatMember, len(list))
		for _, m := range list {
			if m.User == nil {
				continue
			}
			admins[m.User.ID] = m
		}
		r.admins.Add(chatID, admins)
	}
	member, ok := admins[userID]
	if !ok || !IsPlatformAdmin(&member) {
		return api.ChatMember{}, false
	}
	return member, true
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
