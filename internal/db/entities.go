package db

import (
	"strings"
	"time"
)

const (
	FeatureCaptcha  = "captcha"
	FeatureCAS      = "cas"
	FeatureLockdown = "lockdown"
	FeatureWelcome  = "welcome"

	DefaultLockdownReason = "Spam attack"
	DefaultWelcomeText    = "Welcome, {{.mention}}!"
)

type CASAction string

const (
	CASActionBan  CASAction = "ban"
	CASActionKick CASAction = "kick"
	CASActionMute CASAction = "mute"
)

func ParseCASAction(s string) (CASAction, bool) {
	switch a := CASAction(strings.ToLower(s)); a {
	case CASActionBan, CASActionKick, CASActionMute:
		return a, true
	}
	return CASActionBan, false
}

type (
	CASSettings struct {
		Enabled bool      `json:"enabled"`
		Action  CASAction `json:"action"`
		Notify  bool      `json:"notify"`
	}

	Lockdown struct {
		Enabled bool      `json:"enabled"`
		Reason  string    `json:"reason"`
		Since   time.Time `json:"since"`
		By      int64     `json:"by"`
	}

	WelcomeSettings struct {
		Enabled     bool          `json:"enabled"`
		Text        string        `json:"text"`
		DeleteAfter time.Duration `json:"delete_after"`
	}

	BotAdmin struct {
		ChatID    int64     `db:"chat_id"`
		UserID    int64     `db:"user_id"`
		Role      string    `db:"role"`
		AddedBy   int64     `db:"added_by"`
		CreatedAt time.Time `db:"created_at"`
	}

	KnownUser struct {
		UserID    int64     `db:"user_id"`
		Username  string    `db:"username"`
		FirstName string    `db:"first_name"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	UserPrefs struct {
		UserID int64 `db:"user_id"`
		// nil means the global default applies
		DeleteModCommands *bool     `db:"delete_mod_commands"`
		UpdatedAt         time.Time `db:"updated_at"`
	}
)

func DefaultCASSettings() CASSettings {
	return CASSettings{Enabled: false, Action: CASActionBan, Notify: true}
}

func DefaultLockdown() Lockdown {
	return Lockdown{Reason: DefaultLockdownReason}
}

func DefaultWelcomeSettings() WelcomeSettings {
	return WelcomeSettings{Enabled: false, Text: DefaultWelcomeText}
}

// NormalizeUsername lowercases and strips a leading @.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
