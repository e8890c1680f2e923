package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/adapters/cas"
	"github.com/iamwavecut/ngguard/internal/captcha"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/event"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
	"github.com/iamwavecut/ngguard/internal/scheduler"
)

const (
	testChatID = int64(-1001)
	testBotID  = int64(999)
	adminID    = int64(1)
)

type stubPlatform struct {
	mu      sync.Mutex
	calls   []string
	sent    []api.MessageConfig
	until   []time.Time
	answers []string
	nextMsg int
}

func (p *stubPlatform) Self() api.User {
	return api.User{ID: testBotID, IsBot: true}
}

func (p *stubPlatform) Send(_ context.Context, c api.Chattable) (api.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextMsg++
	p.calls = append(p.calls, "send")
	if msg, ok := c.(api.MessageConfig); ok {
		p.sent = append(p.sent, msg)
	}
	return api.Message{MessageID: 2000 + p.nextMsg}, nil
}

func (p *stubPlatform) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("delete:%d", messageID))
	return nil
}

func (p *stubPlatform) BanMember(_ context.Context, _ int64, userID int64, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("ban:%d", userID))
	return nil
}

func (p *stubPlatform) UnbanMember(_ context.Context, _ int64, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("unban:%d", userID))
	return nil
}

func (p *stubPlatform) RestrictMember(_ context.Context, _ int64, userID int64, perms api.ChatPermissions, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	mode := "muted"
	if perms == telegram.FullPermissions() {
		mode = "full"
	}
	p.calls = append(p.calls, fmt.Sprintf("restrict:%d:%s", userID, mode))
	p.until = append(p.until, until)
	return nil
}

func (p *stubPlatform) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers = append(p.answers, fmt.Sprintf("%t:%s", alert, text))
	return nil
}

func (p *stubPlatform) memberCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if strings.HasPrefix(c, "ban:") || strings.HasPrefix(c, "unban:") || strings.HasPrefix(c, "restrict:") {
			out = append(out, c)
		}
	}
	return out
}

func (p *stubPlatform) sentTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, m := range p.sent {
		out = append(out, m.Text)
	}
	return out
}

func (p *stubPlatform) lastAnswer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.answers) == 0 {
		return ""
	}
	return p.answers[len(p.answers)-1]
}

func (p *stubPlatform) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls, p.sent, p.until, p.answers = nil, nil, nil, nil
}

type stubAuthority struct {
	mu          sync.Mutex
	admins      map[int64]bool
	invalidated []int64
}

func (a *stubAuthority) CanModerate(_ context.Context, _ int64, userID int64, _ permissions.Grant) bool {
	return a.admins[userID]
}

func (a *stubAuthority) Invalidate(chatID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidated = append(a.invalidated, chatID)
}

type memStore struct {
	mu       sync.Mutex
	captcha  map[int64]captcha.Settings
	cas      map[int64]db.CASSettings
	lockdown map[int64]db.Lockdown
	welcome  map[int64]db.WelcomeSettings
	migrated [][2]int64
}

func newMemStore() *memStore {
	return &memStore{
		captcha:  map[int64]captcha.Settings{},
		cas:      map[int64]db.CASSettings{},
		lockdown: map[int64]db.Lockdown{},
		welcome:  map[int64]db.WelcomeSettings{},
	}
}

func (s *memStore) GetCaptchaSettings(_ context.Context, chatID int64) (captcha.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.captcha[chatID]; ok {
		return v, nil
	}
	return captcha.DefaultSettings(), nil
}

func (s *memStore) UpdateCaptchaSettings(ctx context.Context, chatID int64, fn func(*captcha.Settings) error) (captcha.Settings, error) {
	v, _ := s.GetCaptchaSettings(ctx, chatID)
	if err := fn(&v); err != nil {
		return captcha.Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captcha[chatID] = v
	return v, nil
}

func (s *memStore) GetCASSettings(_ context.Context, chatID int64) (db.CASSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cas[chatID]; ok {
		return v, nil
	}
	return db.DefaultCASSettings(), nil
}

func (s *memStore) UpdateCASSettings(ctx context.Context, chatID int64, fn func(*db.CASSettings) error) (db.CASSettings, error) {
	v, _ := s.GetCASSettings(ctx, chatID)
	if err := fn(&v); err != nil {
		return db.CASSettings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cas[chatID] = v
	return v, nil
}

func (s *memStore) GetLockdown(_ context.Context, chatID int64) (db.Lockdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.lockdown[chatID]; ok {
		return v, nil
	}
	return db.DefaultLockdown(), nil
}

func (s *memStore) UpdateLockdown(ctx context.Context, chatID int64, fn func(*db.Lockdown) error) (db.Lockdown, error) {
	v, _ := s.GetLockdown(ctx, chatID)
	if err := fn(&v); err != nil {
		return db.Lockdown{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockdown[chatID] = v
	return v, nil
}

func (s *memStore) GetWelcomeSettings(_ context.Context, chatID int64) (db.WelcomeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.welcome[chatID]; ok {
		return v, nil
	}
	return db.DefaultWelcomeSettings(), nil
}

func (s *memStore) UpdateWelcomeSettings(ctx context.Context, chatID int64, fn func(*db.WelcomeSettings) error) (db.WelcomeSettings, error) {
	v, _ := s.GetWelcomeSettings(ctx, chatID)
	if err := fn(&v); err != nil {
		return db.WelcomeSettings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.welcome[chatID] = v
	return v, nil
}

func (s *memStore) MigrateChat(_ context.Context, from, to int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrated = append(s.migrated, [2]int64{from, to})
	if v, ok := s.captcha[from]; ok {
		s.captcha[to] = v
		delete(s.captcha, from)
	}
	return nil
}

type stubCAS struct {
	mu      sync.Mutex
	flagged map[int64]bool
	err     error
	calls   int
}

func (c *stubCAS) Check(_ context.Context, userID int64) (cas.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return cas.Verdict{}, c.err
	}
	if c.flagged[userID] {
		return cas.Verdict{Flagged: true, Offenses: 3}, nil
	}
	return cas.Verdict{}, nil
}

type scheduledTask struct {
	delay time.Duration
	fn    scheduler.Func
}

// stubScheduler never fires on its own; tests fire tasks explicitly.
type stubScheduler struct {
	mu    sync.Mutex
	tasks map[scheduler.Key]scheduledTask
}

func newStubScheduler() *stubScheduler {
	return &stubScheduler{tasks: map[scheduler.Key]scheduledTask{}}
}

func (s *stubScheduler) Schedule(key scheduler.Key, delay time.Duration, fn scheduler.Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[key] = scheduledTask{delay: delay, fn: fn}
}

func (s *stubScheduler) Cancel(key scheduler.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	delete(s.tasks, key)
	return ok
}

func (s *stubScheduler) CancelPrefix(kind scheduler.Kind, chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.tasks {
		if key.Kind == kind && key.ChatID == chatID {
			delete(s.tasks, key)
			n++
		}
	}
	return n
}

func (s *stubScheduler) get(key scheduler.Key) (scheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	return t, ok
}

type stubPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *stubPublisher) Publish(e event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return true
}

func (s *stubPublisher) captchaOutcomes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if c, ok := e.(event.CaptchaEvent); ok {
			out = append(out, c.Outcome)
		}
	}
	return out
}

type stubService struct{}

func (stubService) GetGateway() *telegram.Gateway { return nil }
func (stubService) GetDB() db.Client               { return nil }
func (stubService) GetLanguage(context.Context, int64, *api.User) string {
	return "en"
}
func (stubService) RememberUser(context.Context, *api.User) {}

// scripted returns the given draws first, then cycles through each range.
func scripted(values ...int) func(min, max int) int {
	var mu sync.Mutex
	n := 0
	return func(min, max int) int {
		mu.Lock()
		defer mu.Unlock()
		defer func() { n++ }()
		if n < len(values) {
			return values[n]
		}
		return min + n%(max-min+1)
	}
}

type fixture struct {
	platform  *stubPlatform
	authority *stubAuthority
	store     *memStore
	cas       *stubCAS
	tasks     *stubScheduler
	events    *stubPublisher
	pending   *captcha.Store
	gk        *Gatekeeper
	chat      *api.Chat
}

func newFixture(t *testing.T) *fixture {
	generator, err := captcha.NewGenerator()
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	f := &fixture{
		platform:  &stubPlatform{},
		authority: &stubAuthority{admins: map[int64]bool{adminID: true}},
		store:     newMemStore(),
		cas:       &stubCAS{flagged: map[int64]bool{}},
		tasks:     newStubScheduler(),
		events:    &stubPublisher{},
		pending:   captcha.NewStore(),
		chat:      &api.Chat{ID: testChatID, Type: "supergroup", Title: "Test chat"},
	}
	f.gk = NewGatekeeper(stubService{}, Dependencies{
		Platform:  f.platform,
		Authority: f.authority,
		Store:     f.store,
		CAS:       f.cas,
		Tasks:     f.tasks,
		Events:    f.events,
		Generator: generator,
		Pending:   f.pending,
	})
	nonces := 0
	f.gk.newNonce = func() string {
		nonces++
		return fmt.Sprintf("nonce%03d", nonces)
	}
	return f
}

func (f *fixture) join(t *testing.T, member api.User) {
	u := &api.Update{Message: &api.Message{
		MessageID:      10,
		Chat:           *f.chat,
		From:           &member,
		NewChatMembers: []api.User{member},
	}}
	if _, err := f.gk.Handle(context.Background(), u, f.chat, &member); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func (f *fixture) press(t *testing.T, from api.User, data string) {
	u := &api.Update{CallbackQuery: &api.CallbackQuery{
		ID:      "cb",
		From:    &from,
		Data:    data,
		Message: &api.Message{MessageID: 2001, Chat: *f.chat},
	}}
	if _, err := f.gk.Handle(context.Background(), u, f.chat, &from); err != nil {
		t.Fatalf("press: %v", err)
	}
}

func (f *fixture) command(t *testing.T, from api.User, text string) string {
	cmd := strings.Fields(text)[0]
	msg := &api.Message{
		MessageID: 50,
		Text:      text,
		Chat:      *f.chat,
		From:      &from,
		Entities:  []api.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
	proceed, err := f.gk.Handle(context.Background(), &api.Update{Message: msg}, f.chat, &from)
	if err != nil {
		t.Fatalf("command %q: %v", text, err)
	}
	if proceed {
		t.Fatalf("command %q must be consumed", text)
	}
	texts := f.platform.sentTexts()
	if len(texts) == 0 {
		t.Fatalf("command %q got no reply", text)
	}
	return texts[len(texts)-1]
}
