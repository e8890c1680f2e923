package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	t.Parallel()

	base := errors.New("Bad Request: user not found")
	err := fmt.Errorf("ban user: %w", New(KindBadRequest, "banChatMember", base))

	if !Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request kind to match")
	}
	if Is(err, ErrTransient) {
		t.Fatalf("unexpected transient match")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected underlying error to be reachable")
	}
	if got := KindOf(err); got != KindBadRequest {
		t.Fatalf("unexpected kind: %s", got)
	}
	if got := KindOf(base); got != KindInternal {
		t.Fatalf("plain errors should be internal, got %s", got)
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"no cause", &Error{Kind: KindNotFound, Op: "lookup"}, "lookup: not_found"},
		{"no op", &Error{Kind: KindTransient, Err: errors.New("timeout")}, "timeout"},
		{"full", &Error{Kind: KindCapability, Op: "restrict", Err: errors.New("not enough rights")}, "restrict: not enough rights"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}
