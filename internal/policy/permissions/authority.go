package permissions

import "strings"

// Authority is totally ordered; a higher value implies every lower one.
type Authority int

const (
	AuthorityRegular Authority = iota
	AuthorityWhitelisted
	AuthorityPlatformAdmin
	AuthorityBotAdmin
	AuthoritySudo
	AuthorityDeveloper
	AuthorityOwner
)

func (a Authority) String() string {
	switch a {
	case AuthorityWhitelisted:
		return "whitelisted"
	case AuthorityPlatformAdmin:
		return "platform_admin"
	case AuthorityBotAdmin:
		return "bot_admin"
	case AuthoritySudo:
		return "sudo"
	case AuthorityDeveloper:
		return "developer"
	case AuthorityOwner:
		return "owner"
	default:
		return "regular"
	}
}

func (a Authority) IsGlobal() bool {
	return a >= AuthoritySudo
}

type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleOwner, RoleAdmin, RoleModerator:
		return r, true
	}
	return "", false
}

func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleModerator:
		return 1
	}
	return 0
}

type Grant string

const (
	GrantBans     Grant = "bans"
	GrantMutes    Grant = "mutes"
	GrantWarns    Grant = "warns"
	GrantWelcome  Grant = "welcome"
	GrantCaptcha  Grant = "captcha"
	GrantFilters  Grant = "filters"
	GrantNotes    Grant = "notes"
	GrantRules    Grant = "rules"
	GrantLockdown Grant = "lockdown"
	GrantCAS      Grant = "cas"
	GrantPins     Grant = "pins"
	GrantAdmins   Grant = "admins"
)

var (
	AllGrants = []Grant{
		GrantBans, GrantMutes, GrantWarns, GrantWelcome, GrantCaptcha,
		GrantFilters, GrantNotes, GrantRules, GrantLockdown, GrantCAS, GrantPins, GrantAdmins,
	}
	moderationGrants = []Grant{GrantBans, GrantMutes, GrantWarns}
)

// RolePermissions returns the grants implied by a bot-admin role.
func RolePermissions(role Role) []Grant {
	switch role {
	case RoleOwner:
		return AllGrants
	case RoleAdmin:
		return AllGrants[:len(AllGrants)-1]
	case RoleModerator:
		return moderationGrants
	}
	return nil
}

func (r Role) Has(grant Grant) bool {
	for _, g := range RolePermissions(r) {
		if g == grant {
			return true
		}
	}
	return false
}

func IsModerationGrant(grant Grant) bool {
	for _, g := range moderationGrants {
		if g == grant {
			return true
		}
	}
	return false
}

type Capability int

const (
	CapRestrict Capability = iota
	CapDelete
	CapPromote
	CapPin
)

func (c Capability) String() string {
	switch c {
	case CapRestrict:
		return "restrict"
	case CapDelete:
		return "delete"
	case CapPromote:
		return "promote"
	case CapPin:
		return "pin"
	}
	return "unknown"
}
