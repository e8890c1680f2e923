package handlers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/captcha"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/event"
	"github.com/iamwavecut/ngguard/internal/scheduler"
)

var newcomer = api.User{ID: 42, FirstName: "Ann"}

func enableCaptcha(f *fixture, mutate func(*captcha.Settings)) {
	_, _ = f.store.UpdateCaptchaSettings(context.Background(), testChatID, func(s *captcha.Settings) error {
		s.Enabled = true
		if mutate != nil {
			mutate(s)
		}
		return nil
	})
}

func enableCAS(f *fixture, action db.CASAction, notify bool) {
	_, _ = f.store.UpdateCASSettings(context.Background(), testChatID, func(s *db.CASSettings) error {
		s.Enabled, s.Action, s.Notify = true, action, notify
		return nil
	})
}

func timeoutFor(userID int64) scheduler.Key {
	return scheduler.Key{Kind: scheduler.KindCaptchaTimeout, ChatID: testChatID, UserID: userID}
}

func optionIndex(t *testing.T, p *captcha.Pending, value string) int {
	t.Helper()
	for i, o := range p.Options {
		if o == value {
			return i
		}
	}
	t.Fatalf("option %q not found in %v", value, p.Options)
	return -1
}

func TestLockdownBansBeforeEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, nil)
	enableCAS(f, db.CASActionKick, true)
	f.cas.flagged[newcomer.ID] = true
	_, _ = f.store.UpdateWelcomeSettings(context.Background(), testChatID, func(s *db.WelcomeSettings) error {
		s.Enabled = true
		return nil
	})
	_, _ = f.store.UpdateLockdown(context.Background(), testChatID, func(l *db.Lockdown) error {
		l.Enabled = true
		return nil
	})

	decision, err := f.gk.Admit(context.Background(), f.chat, &newcomer, nil)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if decision != event.DecisionLockdownBan {
		t.Fatalf("unexpected decision %s", decision)
	}
	if calls := f.platform.memberCalls(); len(calls) != 1 || calls[0] != "ban:42" {
		t.Fatalf("expected exactly one ban, got %v", calls)
	}
	if texts := f.platform.sentTexts(); len(texts) != 0 {
		t.Fatalf("lockdown must not send anything, got %v", texts)
	}
	if f.cas.calls != 0 || f.pending.Len() != 0 {
		t.Fatalf("lockdown must skip cas and captcha")
	}
}

func TestCASKickNeverReachesCaptcha(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, nil)
	enableCAS(f, db.CASActionKick, true)
	f.cas.flagged[newcomer.ID] = true

	f.join(t, newcomer)

	calls := f.platform.memberCalls()
	if len(calls) != 2 || calls[0] != "ban:42" || calls[1] != "unban:42" {
		t.Fatalf("expected kick, got %v", calls)
	}
	texts := f.platform.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Ann") || !strings.Contains(texts[0], "42") {
		t.Fatalf("expected one notice naming the user, got %v", texts)
	}
	if f.pending.Len() != 0 {
		t.Fatalf("flagged user must not get a captcha record")
	}
	if _, ok := f.tasks.get(timeoutFor(newcomer.ID)); ok {
		t.Fatalf("no captcha timeout expected")
	}
}

func TestCASFailureFailsOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, nil)
	enableCAS(f, db.CASActionBan, true)
	f.cas.err = errors.New("cas unavailable")

	decision, err := f.gk.Admit(context.Background(), f.chat, &newcomer, nil)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if decision != event.DecisionChallenge {
		t.Fatalf("cas outage must fall through to captcha, got %s", decision)
	}
}

func TestBotsAreSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, nil)
	for _, member := range []api.User{{ID: 7, IsBot: true}, {ID: testBotID}} {
		member := member
		decision, err := f.gk.Admit(context.Background(), f.chat, &member, nil)
		if err != nil || decision != event.DecisionSkipped {
			t.Fatalf("bot %d: got %s %v", member.ID, decision, err)
		}
	}
	if len(f.platform.memberCalls()) != 0 {
		t.Fatalf("bots must not be touched")
	}
}

func TestMathCaptchaScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gk.generator.RandInt = scripted(7, 10, 1)
	enableCaptcha(f, func(s *captcha.Settings) {
		s.Mode = captcha.ModeMath
		s.Timeout = 60 * time.Second
	})

	f.join(t, newcomer)

	p, ok := f.pending.Get(captcha.Key{ChatID: testChatID, UserID: newcomer.ID})
	if !ok {
		t.Fatalf("expected pending challenge")
	}
	if p.Answer != "3" {
		t.Fatalf("expected swapped subtraction with answer 3, got %q", p.Answer)
	}
	texts := f.platform.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0], "10 - 7 = ?") {
		t.Fatalf("unexpected challenge %v", texts)
	}
	task, ok := f.tasks.get(timeoutFor(newcomer.ID))
	if !ok || task.delay != 60*time.Second {
		t.Fatalf("expected 60s timeout, got %+v", task)
	}
	if calls := f.platform.memberCalls(); len(calls) != 1 || calls[0] != "restrict:42:muted" {
		t.Fatalf("expected mute until solved, got %v", calls)
	}

	f.press(t, newcomer, callbackData(newcomer.ID, p.Nonce, optionIndex(t, p, "3")))

	if f.pending.Len() != 0 {
		t.Fatalf("record must be removed on pass")
	}
	if _, ok := f.tasks.get(timeoutFor(newcomer.ID)); ok {
		t.Fatalf("timeout must be cancelled on pass")
	}
	calls := f.platform.memberCalls()
	if calls[len(calls)-1] != "restrict:42:full" {
		t.Fatalf("mute must be lifted, got %v", calls)
	}

	// a timeout that lost the cancel race must be a no-op
	f.platform.reset()
	task.fn(context.Background())
	if calls := f.platform.memberCalls(); len(calls) != 0 {
		t.Fatalf("stale timeout acted: %v", calls)
	}

	outcomes := f.events.captchaOutcomes()
	if len(outcomes) != 2 || outcomes[0] != event.OutcomeIssued || outcomes[1] != event.OutcomePassed {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}

func TestWrongAnswerAndForeignPresser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, func(s *captcha.Settings) { s.Mode = captcha.ModeText })
	f.join(t, newcomer)
	p, _ := f.pending.Get(captcha.Key{ChatID: testChatID, UserID: newcomer.ID})

	wrong := -1
	for i, o := range p.Options {
		if o != p.Answer {
			wrong = i
			break
		}
	}

	stranger := api.User{ID: 77, FirstName: "Eve"}
	f.press(t, stranger, callbackData(newcomer.ID, p.Nonce, optionIndex(t, p, p.Answer)))
	if got := f.platform.lastAnswer(); got != "true:This challenge isn't yours." {
		t.Fatalf("unexpected answer %q", got)
	}

	for i := 0; i < 5; i++ {
		f.press(t, newcomer, callbackData(newcomer.ID, p.Nonce, wrong))
		if got := f.platform.lastAnswer(); got != "true:Incorrect, try again." {
			t.Fatalf("unexpected answer %q", got)
		}
	}
	if _, ok := f.pending.Get(p.Key()); !ok {
		t.Fatalf("wrong answers must keep the record")
	}

	f.press(t, newcomer, callbackData(newcomer.ID, p.Nonce, optionIndex(t, p, p.Answer)))
	if f.pending.Len() != 0 {
		t.Fatalf("correct answer after retries must pass")
	}
}

func TestRejoinSupersedesChallenge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, nil)
	f.join(t, newcomer)
	first, _ := f.pending.Get(captcha.Key{ChatID: testChatID, UserID: newcomer.ID})
	f.join(t, newcomer)
	second, _ := f.pending.Get(captcha.Key{ChatID: testChatID, UserID: newcomer.ID})

	if first.Nonce == second.Nonce || f.pending.Len() != 1 {
		t.Fatalf("second join must replace the record")
	}

	f.press(t, newcomer, callbackData(newcomer.ID, first.Nonce, 0))
	if got := f.platform.lastAnswer(); got != "false:This challenge has expired." {
		t.Fatalf("old button must not validate, got %q", got)
	}
	if _, ok := f.pending.Get(second.Key()); !ok {
		t.Fatalf("current record must survive a stale press")
	}
}

func TestStaleTimeoutSparesNewerChallenge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, nil)
	f.join(t, newcomer)
	stale, ok := f.tasks.get(timeoutFor(newcomer.ID))
	if !ok {
		t.Fatalf("timeout not scheduled")
	}
	f.join(t, newcomer)
	current, _ := f.pending.Get(captcha.Key{ChatID: testChatID, UserID: newcomer.ID})
	f.platform.reset()

	stale.fn(context.Background())

	if calls := f.platform.memberCalls(); len(calls) != 0 {
		t.Fatalf("stale timer must not touch the member, got %v", calls)
	}
	if texts := f.platform.sentTexts(); len(texts) != 0 {
		t.Fatalf("stale timer must stay silent, got %v", texts)
	}
	if p, ok := f.pending.Get(current.Key()); !ok || p.Nonce != current.Nonce {
		t.Fatalf("current record must survive a stale timer")
	}

	fresh, _ := f.tasks.get(timeoutFor(newcomer.ID))
	fresh.fn(context.Background())
	if f.pending.Len() != 0 {
		t.Fatalf("current timer must still expire the record")
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		kick      bool
		wantCalls []string
		wantText  string
		outcome   string
	}{
		{"kick on fail", true, []string{"ban:42", "unban:42"}, "was removed", event.OutcomeKicked},
		{"stay muted", false, nil, "remains muted", event.OutcomeMuted},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			enableCaptcha(f, func(s *captcha.Settings) { s.KickOnFail = tt.kick })
			f.join(t, newcomer)
			task, ok := f.tasks.get(timeoutFor(newcomer.ID))
			if !ok {
				t.Fatalf("timeout not scheduled")
			}
			f.platform.reset()

			task.fn(context.Background())

			calls := f.platform.memberCalls()
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("got %v want %v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Fatalf("got %v want %v", calls, tt.wantCalls)
				}
			}
			texts := f.platform.sentTexts()
			if len(texts) != 1 || !strings.Contains(texts[0], tt.wantText) {
				t.Fatalf("unexpected notice %v", texts)
			}
			if f.pending.Len() != 0 {
				t.Fatalf("expired record must be removed")
			}
			outcomes := f.events.captchaOutcomes()
			if outcomes[len(outcomes)-1] != tt.outcome {
				t.Fatalf("unexpected outcomes %v", outcomes)
			}

			f.platform.reset()
			task.fn(context.Background())
			if len(f.platform.memberCalls()) != 0 || len(f.platform.sentTexts()) != 0 {
				t.Fatalf("second firing must be a no-op")
			}
		})
	}
}

func TestNewbieMuteUsesCurrentSettings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, nil)
	f.join(t, newcomer)
	p, _ := f.pending.Get(captcha.Key{ChatID: testChatID, UserID: newcomer.ID})

	enableCaptcha(f, func(s *captcha.Settings) { s.NewbieMute = 10 * time.Minute })
	f.platform.reset()
	before := time.Now()
	f.press(t, newcomer, callbackData(newcomer.ID, p.Nonce, 0))

	calls := f.platform.memberCalls()
	if len(calls) != 2 || calls[0] != "restrict:42:full" || calls[1] != "restrict:42:muted" {
		t.Fatalf("expected restore then newbie mute, got %v", calls)
	}
	if until := f.platform.until[1]; until.Before(before.Add(10 * time.Minute)) {
		t.Fatalf("newbie mute too short: %s", until)
	}
}

func TestLeaveDropsChallenge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, nil)
	f.join(t, newcomer)

	u := &api.Update{Message: &api.Message{MessageID: 11, Chat: *f.chat, LeftChatMember: &newcomer}}
	if _, err := f.gk.Handle(context.Background(), u, f.chat, &newcomer); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if f.pending.Len() != 0 {
		t.Fatalf("record must be dropped")
	}
	if _, ok := f.tasks.get(timeoutFor(newcomer.ID)); ok {
		t.Fatalf("timeout must be cancelled")
	}
}

func TestWelcomeWithoutCaptcha(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, _ = f.store.UpdateWelcomeSettings(context.Background(), testChatID, func(s *db.WelcomeSettings) error {
		s.Enabled = true
		s.Text = "Hi {{.first}}, welcome to {{.chat}}"
		s.DeleteAfter = 30 * time.Second
		return nil
	})

	decision, err := f.gk.Admit(context.Background(), f.chat, &newcomer, nil)
	if err != nil || decision != event.DecisionWelcome {
		t.Fatalf("got %s %v", decision, err)
	}
	texts := f.platform.sentTexts()
	if len(texts) != 1 || texts[0] != "Hi Ann, welcome to Test chat" {
		t.Fatalf("unexpected welcome %v", texts)
	}
	task, ok := f.tasks.get(scheduler.Key{Kind: scheduler.KindDeleteMessage, ChatID: testChatID, MessageID: 2001})
	if !ok || task.delay != 30*time.Second {
		t.Fatalf("welcome deletion not scheduled")
	}

	g := newFixture(t)
	if decision, _ := g.gk.Admit(context.Background(), g.chat, &newcomer, nil); decision != event.DecisionAdmitted {
		t.Fatalf("plain join should be admitted, got %s", decision)
	}
}

func TestMigrateMovesState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	enableCaptcha(f, nil)
	f.join(t, newcomer)

	const newChatID = int64(-100777)
	u := &api.Update{Message: &api.Message{MessageID: 12, Chat: *f.chat, MigrateToChatID: newChatID}}
	if _, err := f.gk.Handle(context.Background(), u, f.chat, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(f.store.migrated) != 1 || f.store.migrated[0] != [2]int64{testChatID, newChatID} {
		t.Fatalf("store not migrated: %v", f.store.migrated)
	}
	if _, ok := f.pending.Get(captcha.Key{ChatID: newChatID, UserID: newcomer.ID}); !ok {
		t.Fatalf("pending challenge not moved")
	}
	if _, ok := f.tasks.get(timeoutFor(newcomer.ID)); ok {
		t.Fatalf("old timeout must be cancelled")
	}
	if _, ok := f.tasks.get(scheduler.Key{Kind: scheduler.KindCaptchaTimeout, ChatID: newChatID, UserID: newcomer.ID}); !ok {
		t.Fatalf("timeout must be rescheduled for the new chat")
	}
}

func TestMemberUpdatesInvalidateAdminCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := &api.Update{ChatMember: &api.ChatMemberUpdated{Chat: *f.chat}}
	proceed, err := f.gk.Handle(context.Background(), u, f.chat, nil)
	if err != nil || !proceed {
		t.Fatalf("got %t %v", proceed, err)
	}
	if len(f.authority.invalidated) != 1 || f.authority.invalidated[0] != testChatID {
		t.Fatalf("admin cache not invalidated")
	}
}
