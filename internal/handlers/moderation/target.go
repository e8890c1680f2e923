package handlers

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"unicode/utf16"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/errors"
)

var (
	ErrUnknownUser = errors.New(errors.KindTargetResolution, "resolve target", stderrors.New("user unknown to bot"))
	ErrNoTarget    = errors.New(errors.KindTargetResolution, "resolve target", stderrors.New("no target given"))
)

type Target struct {
	ID   int64
	Name string
}

func (t Target) Mention() string {
	return bot.Mention(t.ID, t.Name)
}

type userLookup interface {
	GetKnownUserByUsername(ctx context.Context, username string) (*db.KnownUser, error)
}

// ResolveTarget picks the command target: reply sender, numeric id,
// @username from the known-user index, then a text mention. The rest of the
// arguments is returned as the remainder.
func ResolveTarget(ctx context.Context, msg *api.Message, lookup userLookup) (Target, string, error) {
	if msg == nil {
		return Target{}, "", ErrNoTarget
	}
	args := strings.TrimSpace(msg.CommandArguments())

	if reply := msg.ReplyToMessage; reply != nil {
		switch {
		case reply.SenderChat != nil:
			return Target{ID: reply.SenderChat.ID, Name: reply.SenderChat.Title}, args, nil
		case reply.From != nil:
			return Target{ID: reply.From.ID, Name: bot.GetFullName(reply.From)}, args, nil
		}
	}

	fields := strings.Fields(args)
	if len(fields) > 0 {
		first := fields[0]
		rest := strings.TrimSpace(strings.TrimPrefix(args, first))

		if id, err := strconv.ParseInt(first, 10, 64); err == nil && id != 0 {
			return Target{ID: id}, rest, nil
		}

		if strings.HasPrefix(first, "@") {
			known, err := lookup.GetKnownUserByUsername(ctx, first)
			if err != nil {
				return Target{}, "", errors.New(errors.KindInternal, "lookup username", err)
			}
			if known == nil {
				return Target{}, "", ErrUnknownUser
			}
			name := known.FirstName
			if name == "" {
				name = known.Username
			}
			return Target{ID: known.UserID, Name: name}, rest, nil
		}
	}

	for _, entity := range msg.Entities {
		if entity.Type != "text_mention" || entity.User == nil {
			continue
		}
		return Target{ID: entity.User.ID, Name: bot.GetFullName(entity.User)}, textAfter(msg.Text, entity.Offset+entity.Length), nil
	}

	return Target{}, "", ErrNoTarget
}

// textAfter cuts text at a UTF-16 offset, the unit entity offsets use.
func textAfter(text string, offset int) string {
	units := utf16.Encode([]rune(text))
	if offset >= len(units) {
		return ""
	}
	return strings.TrimSpace(string(utf16.Decode(units[offset:])))
}
