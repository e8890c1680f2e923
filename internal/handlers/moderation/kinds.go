package handlers

import (
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

type Kind string

const (
	KindBan      Kind = "ban"
	KindTempBan  Kind = "tempban"
	KindKick     Kind = "kick"
	KindMute     Kind = "mute"
	KindTempMute Kind = "tempmute"
	KindUnban    Kind = "unban"
	KindUnmute   Kind = "unmute"
	KindPromote  Kind = "promote"
	KindDemote   Kind = "demote"
)

type kindSpec struct {
	grant         permissions.Grant
	capability    permissions.Capability
	protected     bool
	needsDuration bool
	undoable      bool
	reverse       Kind
}

var kinds = map[Kind]kindSpec{
	KindBan:      {grant: permissions.GrantBans, capability: permissions.CapRestrict, protected: true, undoable: true, reverse: KindUnban},
	KindTempBan:  {grant: permissions.GrantBans, capability: permissions.CapRestrict, protected: true, needsDuration: true, undoable: true, reverse: KindUnban},
	KindKick:     {grant: permissions.GrantBans, capability: permissions.CapRestrict, protected: true},
	KindMute:     {grant: permissions.GrantMutes, capability: permissions.CapRestrict, protected: true, undoable: true, reverse: KindUnmute},
	KindTempMute: {grant: permissions.GrantMutes, capability: permissions.CapRestrict, protected: true, needsDuration: true, undoable: true, reverse: KindUnmute},
	KindUnban:    {grant: permissions.GrantBans, capability: permissions.CapRestrict},
	KindUnmute:   {grant: permissions.GrantMutes, capability: permissions.CapRestrict},
	KindPromote:  {grant: permissions.GrantAdmins, capability: permissions.CapPromote},
	KindDemote:   {grant: permissions.GrantAdmins, capability: permissions.CapPromote},
}

func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	_, ok := kinds[k]
	return k, ok
}

// commandKinds maps bot commands to actions.
var commandKinds = map[string]Kind{
	"ban":      KindBan,
	"tban":     KindTempBan,
	"tempban":  KindTempBan,
	"kick":     KindKick,
	"mute":     KindMute,
	"tmute":    KindTempMute,
	"tempmute": KindTempMute,
	"unban":    KindUnban,
	"unmute":   KindUnmute,
	"promote":  KindPromote,
	"demote":   KindDemote,
}
