package captcha

import "time"

type Mode string

const (
	ModeButton Mode = "button"
	ModeMath   Mode = "math"
	ModeText   Mode = "text"
	ModeEmoji  Mode = "emoji"
)

const (
	MinTimeout     = 30 * time.Second
	MaxTimeout     = 600 * time.Second
	DefaultTimeout = 120 * time.Second
	MaxNewbieMute  = 24 * time.Hour
)

var Modes = []Mode{ModeButton, ModeMath, ModeText, ModeEmoji}

func ParseMode(s string) (Mode, bool) {
	for _, m := range Modes {
		if string(m) == s {
			return m, true
		}
	}
	return ModeButton, false
}

type Settings struct {
	Enabled         bool          `json:"enabled"`
	Mode            Mode          `json:"mode"`
	Timeout         time.Duration `json:"timeout"`
	KickOnFail      bool          `json:"kick_on_fail"`
	MuteUntilSolved bool          `json:"mute_until_solved"`
	NewbieMute      time.Duration `json:"newbie_mute"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:         false,
		Mode:            ModeButton,
		Timeout:         DefaultTimeout,
		KickOnFail:      true,
		MuteUntilSolved: true,
	}
}

// Normalize clamps the timeout into [MinTimeout, MaxTimeout] and resets unknown modes to button.
func (s *Settings) Normalize() {
	s.NormalizeWithin(MinTimeout, MaxTimeout)
}

func (s *Settings) NormalizeWithin(minTimeout, maxTimeout time.Duration) {
	if _, ok := ParseMode(string(s.Mode)); !ok {
		s.Mode = ModeButton
	}
	switch {
	case s.Timeout < minTimeout:
		s.Timeout = minTimeout
	case s.Timeout > maxTimeout:
		s.Timeout = maxTimeout
	}
	switch {
	case s.NewbieMute < 0:
		s.NewbieMute = 0
	case s.NewbieMute > MaxNewbieMute:
		s.NewbieMute = MaxNewbieMute
	}
}
