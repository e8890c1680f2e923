package event

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/infra"
)

const DefaultQueueSize = 1024

type Subscriber func(ctx context.Context, e Event)

// Bus delivers events to subscribers on a single worker goroutine.
// Publish never blocks; events are dropped when the queue is full.
type Bus struct {
	q       chan Event
	subs    []Subscriber
	dropped atomic.Int64

	logger         *log.Entry
	startStopMutex sync.Mutex
	started        bool
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Bus{
		q:      make(chan Event, size),
		logger: log.WithField("object", "EventBus"),
	}
}

// Subscribe must be called before Start.
func (b *Bus) Subscribe(sub Subscriber) {
	b.startStopMutex.Lock()
	defer b.startStopMutex.Unlock()
	b.subs = append(b.subs, sub)
}

func (b *Bus) Publish(e Event) bool {
	if b == nil || e == nil {
		return false
	}
	select {
	case b.q <- e:
		return true
	default:
		n := b.dropped.Add(1)
		b.logger.WithFields(log.Fields{"type": e.Type(), "dropped": n}).Warn("event queue is full, dropping event")
		return false
	}
}

func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) Start(ctx context.Context) error {
	b.startStopMutex.Lock()
	defer b.startStopMutex.Unlock()
	if b.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.started = true
	subs := append([]Subscriber(nil), b.subs...)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		infra.GoRecoverable(-1, "event_bus", func() { b.run(runCtx, subs) })
	}()
	return nil
}

func (b *Bus) Stop(ctx context.Context) error {
	b.startStopMutex.Lock()
	if !b.started {
		b.startStopMutex.Unlock()
		return nil
	}
	b.started = false
	cancel := b.cancel
	b.startStopMutex.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) run(ctx context.Context, subs []Subscriber) {
	b.logger.Trace("event worker started")
	for {
		select {
		case <-ctx.Done():
			b.drain(subs)
			b.logger.Debug("event worker stopped")
			return
		case e := <-b.q:
			b.deliver(ctx, subs, e)
		}
	}
}

// drain delivers what is already queued so a shutdown does not lose audit records.
func (b *Bus) drain(subs []Subscriber) {
	ctx := context.Background()
	for {
		select {
		case e := <-b.q:
			b.deliver(ctx, subs, e)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, subs []Subscriber, e Event) {
	for _, sub := range subs {
		sub := sub
		infra.RunRecovered("event:"+e.Type(), func() {
			sub(ctx, e)
		})
	}
}
