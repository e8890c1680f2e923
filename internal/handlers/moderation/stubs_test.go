package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/db"
	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/event"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
	"github.com/iamwavecut/ngguard/internal/scheduler"
)

const (
	testChatID = int64(-1001)
	testBotID  = int64(999)
)

type stubPlatform struct {
	mu        sync.Mutex
	calls     []string
	sent      []api.MessageConfig
	until     []time.Time
	banErr    error
	pinErr    error
	nextMsg   int
	statuses  map[int64]string
	admins    []api.ChatMember
	adminsErr error
}

func (p *stubPlatform) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *stubPlatform) Self() api.User {
	return api.User{ID: testBotID, IsBot: true, UserName: "guard_bot"}
}

func (p *stubPlatform) Send(_ context.Context, c api.Chattable) (api.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextMsg++
	p.record("send")
	if msg, ok := c.(api.MessageConfig); ok {
		p.sent = append(p.sent, msg)
	}
	return api.Message{MessageID: 1000 + p.nextMsg}, nil
}

func (p *stubPlatform) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("delete:%d", messageID))
	return nil
}

func (p *stubPlatform) BanMember(_ context.Context, _ int64, userID int64, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("ban:%d", userID))
	p.until = append(p.until, until)
	return p.banErr
}

func (p *stubPlatform) UnbanMember(_ context.Context, _ int64, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("unban:%d", userID))
	return nil
}

func (p *stubPlatform) RestrictMember(_ context.Context, _ int64, userID int64, perms api.ChatPermissions, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	mode := "muted"
	if perms == telegram.FullPermissions() {
		mode = "full"
	}
	p.record(fmt.Sprintf("restrict:%d:%s", userID, mode))
	p.until = append(p.until, until)
	return nil
}

func (p *stubPlatform) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("answer:%t:%s", alert, text))
	return nil
}

func (p *stubPlatform) EditMessageText(_ context.Context, _ int64, messageID int, text string, _ *api.InlineKeyboardMarkup) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("edit:%d:%s", messageID, text))
	return nil
}

// GetChatMember reports "member" for users without a configured status.
func (p *stubPlatform) GetChatMember(_ context.Context, _ int64, userID int64) (api.ChatMember, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("member:%d", userID))
	status, ok := p.statuses[userID]
	switch {
	case status == "missing":
		return api.ChatMember{}, ngerrors.New(ngerrors.KindBadRequest, "getChatMember", errors.New("user not found"))
	case !ok:
		status = "member"
	}
	return api.ChatMember{User: &api.User{ID: userID}, Status: status}, nil
}

func (p *stubPlatform) GetChatAdministrators(context.Context, int64) ([]api.ChatMember, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("admins")
	return p.admins, p.adminsErr
}

func (p *stubPlatform) PromoteMember(_ context.Context, _ int64, userID int64, promote bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if promote {
		p.record(fmt.Sprintf("promote:%d", userID))
	} else {
		p.record(fmt.Sprintf("demote:%d", userID))
	}
	return nil
}

func (p *stubPlatform) PinMessage(_ context.Context, _ int64, messageID int, silent bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("pin:%d:%t", messageID, silent))
	return p.pinErr
}

func (p *stubPlatform) UnpinMessage(_ context.Context, _ int64, messageID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("unpin:%d", messageID))
	return p.pinErr
}

// memberCalls returns only the calls that change a membership or a chat.
func (p *stubPlatform) memberCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if strings.HasPrefix(c, "ban:") || strings.HasPrefix(c, "unban:") || strings.HasPrefix(c, "restrict:") ||
			strings.HasPrefix(c, "promote:") || strings.HasPrefix(c, "demote:") || strings.HasPrefix(c, "pin:") || strings.HasPrefix(c, "unpin:") {
			out = append(out, c)
		}
	}
	return out
}

func (p *stubPlatform) lastText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return ""
	}
	return p.sent[len(p.sent)-1].Text
}

func (p *stubPlatform) indexOf(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

type stubAuthority struct {
	moderators map[int64]bool
	protected  map[int64]bool
	botCan     bool
	// denied grants are refused even to moderators
	denied map[permissions.Grant]bool
}

func (a *stubAuthority) CanModerate(_ context.Context, _ int64, userID int64, grant permissions.Grant) bool {
	return a.moderators[userID] && !a.denied[grant]
}

func (a *stubAuthority) IsBanProtected(_ context.Context, _ int64, userID int64) bool {
	return a.protected[userID]
}

func (a *stubAuthority) BotCan(context.Context, int64, permissions.Capability) bool {
	return a.botCan
}

type stubPrefs struct {
	prefs map[int64]bool
}

func (s *stubPrefs) GetUserPrefs(_ context.Context, userID int64) (*db.UserPrefs, error) {
	p := &db.UserPrefs{UserID: userID}
	if v, ok := s.prefs[userID]; ok {
		p.DeleteModCommands = &v
	}
	return p, nil
}

type scheduledTask struct {
	key   scheduler.Key
	delay time.Duration
	fn    scheduler.Func
}

type stubScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
}

func (s *stubScheduler) Schedule(key scheduler.Key, delay time.Duration, fn scheduler.Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduledTask{key: key, delay: delay, fn: fn})
}

type stubPublisher struct {
	mu     sync.Mutex
	events []event.ModerationEvent
}

func (s *stubPublisher) Publish(e event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := e.(event.ModerationEvent); ok {
		s.events = append(s.events, m)
	}
	return true
}

func (s *stubPublisher) last() (event.ModerationEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return event.ModerationEvent{}, false
	}
	return s.events[len(s.events)-1], true
}

type stubLookup struct {
	users   map[string]*db.KnownUser
	lookups int
}

func (l *stubLookup) GetKnownUserByUsername(_ context.Context, username string) (*db.KnownUser, error) {
	l.lookups++
	return l.users[db.NormalizeUsername(username)], nil
}

type stubService struct{}

func (stubService) GetGateway() *telegram.Gateway { return nil }
func (stubService) GetDB() db.Client               { return nil }
func (stubService) GetLanguage(context.Context, int64, *api.User) string {
	return "en"
}
func (stubService) RememberUser(context.Context, *api.User) {}

type fixture struct {
	platform  *stubPlatform
	authority *stubAuthority
	prefs     *stubPrefs
	tasks     *stubScheduler
	events    *stubPublisher
	executor  *Executor
	now       time.Time
}

func newFixture(options Options) *fixture {
	f := &fixture{
		platform: &stubPlatform{},
		authority: &stubAuthority{
			moderators: map[int64]bool{1: true},
			protected:  map[int64]bool{555: true},
			botCan:     true,
		},
		prefs:  &stubPrefs{prefs: map[int64]bool{}},
		tasks:  &stubScheduler{},
		events: &stubPublisher{},
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.executor = NewExecutor(f.platform, f.authority, f.prefs, f.tasks, f.events, options)
	f.executor.now = func() time.Time { return f.now }
	return f
}

func commandMessage(text string) *api.Message {
	command := strings.Fields(text)[0]
	return &api.Message{
		MessageID: 77,
		Text:      text,
		Chat:      api.Chat{ID: testChatID, Type: "supergroup", Title: "Test"},
		From:      &api.User{ID: 1, FirstName: "Admin"},
		Entities:  []api.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}},
	}
}
