package telegram

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/errors"
)

var capabilityMarkers = []string{
	"not enough rights",
	"have no rights",
	"chat_admin_required",
	"need administrator rights",
	"can't remove chat owner",
	"user is an administrator of the chat",
}

// Classify maps a bot API failure to an error kind. Callers match kinds with
// errors.Is(err, errors.ErrTransient) and friends instead of reading messages.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.New(kindOf(err), op, err)
}

func kindOf(err error) errors.Kind {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.KindTransient
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.KindTransient
	}

	code, retryAfter, message, ok := apiError(err)
	if !ok {
		return errors.KindInternal
	}
	message = strings.ToLower(message)
	for _, marker := range capabilityMarkers {
		if strings.Contains(message, marker) {
			return errors.KindCapability
		}
	}
	switch {
	case code == http.StatusTooManyRequests || retryAfter > 0:
		return errors.KindTransient
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return errors.KindUnauthorized
	case code == http.StatusBadRequest:
		return errors.KindBadRequest
	case code >= http.StatusInternalServerError:
		return errors.KindTransient
	default:
		return errors.KindInternal
	}
}

func apiError(err error) (code, retryAfter int, message string, ok bool) {
	var ptr *api.Error
	if stderrors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.RetryAfter, ptr.Message, true
	}
	return 0, 0, "", false
}
