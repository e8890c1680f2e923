package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/infra"
)

type Kind string

const (
	KindCaptchaTimeout Kind = "captcha_timeout"
	KindDeleteMessage  Kind = "delete_message"
)

// Key identifies a task by its domain record rather than by a formatted name,
// so negative chat ids never need parsing.
type Key struct {
	Kind      Kind
	ChatID    int64
	UserID    int64
	MessageID int
}

func (k Key) String() string {
	return fmt.Sprintf("%s{chat=%d user=%d message=%d}", k.Kind, k.ChatID, k.UserID, k.MessageID)
}

type Func func(ctx context.Context)

type task struct {
	timer *time.Timer
	gen   uint64
}

type Scheduler struct {
	mutex   sync.Mutex
	tasks   map[Key]*task
	gen     uint64
	stopped bool

	runCtx    context.Context
	runCancel context.CancelFunc
	running   sync.WaitGroup

	logger *log.Entry
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:     map[Key]*task{},
		runCtx:    ctx,
		runCancel: cancel,
		logger:    log.WithField("object", "Scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.getLogEntry().Debug("scheduler started")
	return nil
}

// Stop drops every pending task and waits for callbacks already running.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return nil
	}
	s.stopped = true
	dropped := len(s.tasks)
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	s.mutex.Unlock()
	s.runCancel()

	s.getLogEntry().WithField("dropped", dropped).Debug("scheduler stopping")

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule runs fn once after delay. A pending task under the same key is replaced.
func (s *Scheduler) Schedule(key Key, delay time.Duration, fn Func) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopped {
		s.getLogEntry().WithField("key", key.String()).Debug("scheduler stopped, task ignored")
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.tasks[key] = &task{
		gen: gen,
		timer: time.AfterFunc(delay, func() {
			s.fire(key, gen, fn)
		}),
	}
}

func (s *Scheduler) fire(key Key, gen uint64, fn Func) {
	s.mutex.Lock()
	t, ok := s.tasks[key]
	if !ok || t.gen != gen || s.stopped {
		s.mutex.Unlock()
		return
	}
	delete(s.tasks, key)
	s.running.Add(1)
	s.mutex.Unlock()

	defer s.running.Done()
	infra.RunRecovered(key.String(), func() {
		fn(s.runCtx)
	})
}

// Cancel reports whether a pending task was removed before it fired.
func (s *Scheduler) Cancel(key Key) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// CancelPrefix cancels every task of kind in the chat.
func (s *Scheduler) CancelPrefix(kind Kind, chatID int64) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	cancelled := 0
	for key, t := range s.tasks {
		if key.Kind != kind || key.ChatID != chatID {
			continue
		}
		t.timer.Stop()
		delete(s.tasks, key)
		cancelled++
	}
	return cancelled
}

func (s *Scheduler) Pending(key Key) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) getLogEntry() *log.Entry {
	return s.logger
}
