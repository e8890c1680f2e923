package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

type recordingHandler struct {
	name    string
	proceed bool
	err     error
	calls   *[]string
	mu      *sync.Mutex
}

func (h recordingHandler) Handle(_ context.Context, _ *api.Update, _ *api.Chat, _ *api.User) (bool, error) {
	h.mu.Lock()
	*h.calls = append(*h.calls, h.name)
	h.mu.Unlock()
	return h.proceed, h.err
}

func freshMessage() *api.Update {
	return &api.Update{Message: &api.Message{
		MessageID: 1,
		Date:      int(time.Now().Unix()),
		Chat:      api.Chat{ID: -100},
		From:      &api.User{ID: 7},
	}}
}

func TestProcessStopsWhenHandlerDeclines(t *testing.T) {
	t.Parallel()

	var calls []string
	mu := &sync.Mutex{}
	up := NewUpdateProcessor(nil,
		recordingHandler{name: "first", proceed: true, calls: &calls, mu: mu},
		nil,
		recordingHandler{name: "second", proceed: false, calls: &calls, mu: mu},
		recordingHandler{name: "third", proceed: true, calls: &calls, mu: mu},
	)
	if err := up.Process(context.Background(), freshMessage()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("unexpected call chain: %v", calls)
	}
}

func TestProcessPropagatesErrors(t *testing.T) {
	t.Parallel()

	var calls []string
	boom := errors.New("boom")
	var observed error
	up := NewUpdateProcessor(nil,
		recordingHandler{name: "failing", err: boom, calls: &calls, mu: &sync.Mutex{}},
	).WithObserver(func(_ time.Duration, err error) { observed = err })

	err := up.Process(context.Background(), freshMessage())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
	if !errors.Is(observed, boom) {
		t.Fatalf("observer should see the error, got %v", observed)
	}
}

func TestProcessSkipsOutdatedUpdates(t *testing.T) {
	t.Parallel()

	var calls []string
	up := NewUpdateProcessor(nil, recordingHandler{name: "h", proceed: true, calls: &calls, mu: &sync.Mutex{}})
	u := freshMessage()
	u.Message.Date = int(time.Now().Add(-2 * UpdateTimeout).Unix())
	if err := up.Process(context.Background(), u); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("outdated update must not reach handlers")
	}
}

type stubSource struct {
	updates []api.Update
}

func (s stubSource) Updates(ctx context.Context) <-chan api.Update {
	ch := make(chan api.Update)
	go func() {
		defer close(ch)
		for _, u := range s.updates {
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

type countingHandler struct {
	n *atomic.Int32
}

func (h countingHandler) Handle(context.Context, *api.Update, *api.Chat, *api.User) (bool, error) {
	h.n.Add(1)
	return true, nil
}

func TestDispatcherDrainsSource(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	updates := make([]api.Update, 0, 50)
	for i := 0; i < 50; i++ {
		u := freshMessage()
		u.UpdateID = i
		updates = append(updates, *u)
	}
	d := NewDispatcher(NewUpdateProcessor(nil, countingHandler{n: &n}), stubSource{updates: updates}, 4)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not finish")
	}
	if got := n.Load(); got != 50 {
		t.Fatalf("expected 50 processed updates, got %d", got)
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
