package permissions

import api "github.com/OvyFlash/telegram-bot-api"

func IsManager(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && (member.CanManageChat || member.CanPromoteMembers)
}

func IsPrivilegedModerator(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if IsManager(member) {
		return true
	}
	return member.IsAdministrator() && member.CanRestrictMembers
}

func IsPlatformAdmin(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	return member.IsCreator() || member.IsAdministrator()
}

// HasCapability reads a capability off the member's own rights.
func HasCapability(member *api.ChatMember, capability Capability) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	if !member.IsAdministrator() {
		return false
	}
	switch capability {
	case CapRestrict:
		return member.CanRestrictMembers
	case CapDelete:
		return member.CanDeleteMessages
	case CapPromote:
		return member.CanPromoteMembers
	case CapPin:
		return member.CanPinMessages
	}
	return false
}
