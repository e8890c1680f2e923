package handlers

import (
	stderrors "errors"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/iamwavecut/ngguard/internal/errors"
)

var ErrBadDuration = errors.New(errors.KindInvalidInput, "parse duration", stderrors.New("bad duration format"))

var durationUnits = map[string]time.Duration{
	"s":    time.Second,
	"с":    time.Second,
	"сек":  time.Second,
	"m":    time.Minute,
	"м":    time.Minute,
	"мин":  time.Minute,
	"h":    time.Hour,
	"ч":    time.Hour,
	"час":  time.Hour,
	"d":    24 * time.Hour,
	"д":    24 * time.Hour,
	"дн":   24 * time.Hour,
	"день": 24 * time.Hour,
	"дней": 24 * time.Hour,
}

// ParseDuration reads tokens like 30m, 2h, 1d or 5мин. Anything else is
// rejected with ErrBadDuration.
func ParseDuration(token string) (time.Duration, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	split := strings.IndexFunc(token, func(r rune) bool { return !unicode.IsDigit(r) })
	if split <= 0 {
		return 0, ErrBadDuration
	}
	unit, ok := durationUnits[token[split:]]
	if !ok {
		return 0, ErrBadDuration
	}
	value, err := strconv.ParseInt(token[:split], 10, 64)
	if err != nil || value <= 0 {
		return 0, ErrBadDuration
	}
	if value > math.MaxInt64/int64(unit) {
		return 0, ErrBadDuration
	}
	return time.Duration(value) * unit, nil
}
