package handlers

import (
	"context"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/event"
)

func TestResolveTarget(t *testing.T) {
	t.Parallel()

	lookup := &stubLookup{users: map[string]*db.KnownUser{
		"alice": {UserID: 11, Username: "alice", FirstName: "Alice"},
	}}

	reply := commandMessage("/ban flood")
	reply.ReplyToMessage = &api.Message{From: &api.User{ID: 12, FirstName: "Bob"}}

	mention := commandMessage("/ban Карл spam")
	mention.Entities = append(mention.Entities, api.MessageEntity{Type: "text_mention", Offset: 5, Length: 4, User: &api.User{ID: 13, FirstName: "Карл"}})

	tests := []struct {
		name     string
		msg      *api.Message
		wantID   int64
		wantRest string
		wantErr  error
	}{
		{"reply", reply, 12, "flood", nil},
		{"numeric id", commandMessage("/ban 42 too loud"), 42, "too loud", nil},
		{"negative id", commandMessage("/ban -100500"), -100500, "", nil},
		{"known username", commandMessage("/ban @Alice spam"), 11, "spam", nil},
		{"unknown username", commandMessage("/tban @charlie 2h spam"), 0, "", ErrUnknownUser},
		{"text mention", mention, 13, "spam", nil},
		{"nothing", commandMessage("/ban"), 0, "", ErrNoTarget},
		{"plain words", commandMessage("/ban somebody"), 0, "", ErrNoTarget},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target, rest, err := ResolveTarget(context.Background(), tt.msg, lookup)
			if err != tt.wantErr {
				t.Fatalf("got error %v want %v", err, tt.wantErr)
			}
			if target.ID != tt.wantID || rest != tt.wantRest {
				t.Fatalf("got %d %q want %d %q", target.ID, rest, tt.wantID, tt.wantRest)
			}
		})
	}
}

func newModeration(f *fixture, lookup *stubLookup) *Moderation {
	return NewModeration(stubService{}, f.executor, lookup)
}

func handleCommand(t *testing.T, m *Moderation, text string) {
	t.Helper()
	handleMessage(t, m, commandMessage(text))
}

func handleMessage(t *testing.T, m *Moderation, msg *api.Message) {
	t.Helper()
	chat := msg.Chat
	proceed, err := m.Handle(context.Background(), &api.Update{Message: msg}, &chat, msg.From)
	if err != nil {
		t.Fatalf("handle %q: %v", msg.Text, err)
	}
	if proceed {
		t.Fatalf("moderation command %q must stop propagation", msg.Text)
	}
}

func TestUnauthorizedCallerLearnsNothingAboutTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		botCan    bool
		actorID   int64
		wantReply string
	}{
		{"unknown username", "/ban @charlie", true, 2, "You don't have permission to do that."},
		{"known username", "/ban @alice spam", true, 2, "You don't have permission to do that."},
		{"bad duration", "/tban 42 abc", true, 2, "You don't have permission to do that."},
		{"no target", "/mute", true, 2, "You don't have permission to do that."},
		{"bot lacks rights", "/tban @charlie 2h", false, 1, "I need to be an administrator with the right to restrict members."},
		{"bot lacks promote right", "/promote @alice", false, 1, "I need to be an administrator with the right to add new admins."},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(Options{})
			f.authority.botCan = tt.botCan
			lookup := &stubLookup{users: map[string]*db.KnownUser{
				"alice": {UserID: 11, Username: "alice", FirstName: "Alice"},
			}}
			msg := commandMessage(tt.text)
			msg.From = &api.User{ID: tt.actorID, FirstName: "Eve"}
			handleMessage(t, newModeration(f, lookup), msg)

			if lookup.lookups != 0 {
				t.Fatalf("username looked up %d times for a denied caller", lookup.lookups)
			}
			if f.platform.indexOf("member:") >= 0 || len(f.platform.memberCalls()) != 0 {
				t.Fatalf("unexpected platform calls %v", f.platform.calls)
			}
			if got := f.platform.lastText(); got != tt.wantReply {
				t.Fatalf("got %q want %q", got, tt.wantReply)
			}
			ev, ok := f.events.last()
			if !ok || ev.Result != event.ResultDenied || ev.TargetID != 0 {
				t.Fatalf("unexpected event %+v", ev)
			}
		})
	}
}

func TestUnknownUsernameMakesNoPlatformCall(t *testing.T) {
	t.Parallel()

	f := newFixture(Options{})
	handleCommand(t, newModeration(f, &stubLookup{}), "/tban @charlie 2h spam")

	if calls := f.platform.memberCalls(); len(calls) != 0 {
		t.Fatalf("unexpected member calls %v", calls)
	}
	if got := f.platform.lastText(); got != "I don't know this user yet: reply to one of their messages or use their numeric id." {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestMuteAdministratorCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(Options{})
	handleCommand(t, newModeration(f, &stubLookup{}), "/mute 555 30m")

	if calls := f.platform.memberCalls(); len(calls) != 0 {
		t.Fatalf("unexpected member calls %v", calls)
	}
	if got := f.platform.lastText(); got != "I can't mute an administrator." {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestMuteWithLeadingDuration(t *testing.T) {
	t.Parallel()

	f := newFixture(Options{})
	handleCommand(t, newModeration(f, &stubLookup{}), "/mute 42 30m flood")

	calls := f.platform.memberCalls()
	if len(calls) != 1 || calls[0] != "restrict:42:muted" {
		t.Fatalf("unexpected calls %v", calls)
	}
	if want := f.now.Add(30 * time.Minute); !f.platform.until[0].Equal(want) {
		t.Fatalf("unexpected expiry %s", f.platform.until[0])
	}
	ev, _ := f.events.last()
	if ev.Action != string(KindTempMute) || ev.Reason != "flood" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestBadDurationCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(Options{})
	handleCommand(t, newModeration(f, &stubLookup{}), "/tban 42 abc")

	if len(f.platform.memberCalls()) != 0 {
		t.Fatalf("bad duration must not reach the platform")
	}
	if got := f.platform.lastText(); got != "Bad duration format. Use a number with a unit, e.g. 30m, 2h or 1d." {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestNonCommandsPassThrough(t *testing.T) {
	t.Parallel()

	f := newFixture(Options{})
	m := newModeration(f, &stubLookup{})
	msg := &api.Message{Text: "hello", Chat: api.Chat{ID: testChatID, Type: "supergroup"}, From: &api.User{ID: 1}}
	proceed, err := m.Handle(context.Background(), &api.Update{Message: msg}, &msg.Chat, msg.From)
	if err != nil || !proceed {
		t.Fatalf("plain messages must pass through, got %t %v", proceed, err)
	}
}
