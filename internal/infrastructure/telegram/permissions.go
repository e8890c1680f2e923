package telegram

import api "github.com/OvyFlash/telegram-bot-api"

// MutedPermissions revokes every send permission.
func MutedPermissions() api.ChatPermissions {
	return api.ChatPermissions{}
}

// FullPermissions restores the member-level send permissions.
func FullPermissions() api.ChatPermissions {
	return api.ChatPermissions{
		CanSendMessages:       true,
		CanSendAudios:         true,
		CanSendDocuments:      true,
		CanSendPhotos:         true,
		CanSendVideos:         true,
		CanSendVideoNotes:     true,
		CanSendVoiceNotes:     true,
		CanSendPolls:          true,
		CanSendOtherMessages:  true,
		CanAddWebPagePreviews: true,
		CanInviteUsers:        true,
	}
}

// AdministratorRights grants the standard administrator set when granted is
// true and revokes every right otherwise.
func AdministratorRights(chatID, userID int64, granted bool) api.PromoteChatMemberConfig {
	return api.PromoteChatMemberConfig{
		ChatMemberConfig:    memberConfig(chatID, userID),
		CanManageChat:       granted,
		CanChangeInfo:       granted,
		CanPostMessages:     granted,
		CanEditMessages:     granted,
		CanDeleteMessages:   granted,
		CanManageVideoChats: granted,
		CanInviteUsers:      granted,
		CanRestrictMembers:  granted,
		CanPinMessages:      granted,
	}
}
