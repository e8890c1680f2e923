package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/ngguard/internal/infra"
)

const (
	longPollTimeout = 60
	pollBuffer      = 100
	pollRetryStep   = time.Second
	pollRetryMax    = 30 * time.Second

	// OffsetKey stores the next getUpdates offset so a restart does not replay updates.
	OffsetKey = "last_update_offset"
)

type UpdateSource interface {
	Updates(ctx context.Context) <-chan api.Update
}

// Dispatcher processes updates concurrently. Updates of the same chat are not
// serialized; shared state is guarded by the stores themselves.
type Dispatcher struct {
	processor *UpdateProcessor
	source    UpdateSource
	workers   int

	logger         *log.Entry
	startStopMutex sync.Mutex
	started        bool
	cancel         context.CancelFunc
	done           chan struct{}
}

func NewDispatcher(processor *UpdateProcessor, source UpdateSource, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		processor: processor,
		source:    source,
		workers:   workers,
		logger:    log.WithField("object", "Dispatcher"),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.startStopMutex.Lock()
	defer d.startStopMutex.Unlock()
	if d.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true

	done := d.done
	go func() {
		defer close(done)
		// the update source cannot be reopened, so a panic here ends dispatching
		infra.GoRecoverable(0, "dispatcher", func() { d.run(runCtx) })
	}()
	return nil
}

// Done is closed when the update source is exhausted or the dispatcher stops.
func (d *Dispatcher) Done() <-chan struct{} {
	d.startStopMutex.Lock()
	defer d.startStopMutex.Unlock()
	return d.done
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.startStopMutex.Lock()
	if !d.started {
		d.startStopMutex.Unlock()
		return nil
	}
	d.started = false
	cancel, done := d.cancel, d.done
	d.startStopMutex.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	updates := d.source.Updates(ctx)

	d.logger.WithField("workers", d.workers).Info("dispatching updates")
	for update := range updates {
		u := update
		g.Go(func() error {
			infra.RunRecovered("process_update", func() {
				if err := d.processor.Process(gctx, &u); err != nil {
					d.logger.WithFields(log.Fields{"update_id": u.UpdateID, "error": err.Error()}).Error("cant process update")
				}
			})
			return nil
		})
	}
	_ = g.Wait()
	d.logger.Info("dispatcher finished")
}

type (
	updatesFetcher interface {
		GetUpdates(config api.UpdateConfig) ([]api.Update, error)
	}

	offsetStore interface {
		GetKV(ctx context.Context, key string) (string, error)
		SetKV(ctx context.Context, key string, value string) error
	}

	// LongPoll pulls updates with getUpdates until the context is cancelled.
	// The next offset is kept in the offset store when one is given.
	LongPoll struct {
		bot     updatesFetcher
		offsets offsetStore
		config  api.UpdateConfig
		logger  *log.Entry
	}
)

func NewLongPoll(bot updatesFetcher, offsets offsetStore) *LongPoll {
	cfg := api.NewUpdate(0)
	cfg.Timeout = longPollTimeout
	cfg.AllowedUpdates = []string{"message", "edited_message", "callback_query", "chat_member", "my_chat_member"}
	return &LongPoll{
		bot:     bot,
		offsets: offsets,
		config:  cfg,
		logger:  log.WithField("object", "LongPoll"),
	}
}

func (p *LongPoll) loadOffset(ctx context.Context) int {
	if p.offsets == nil {
		return 0
	}
	raw, err := p.offsets.GetKV(ctx, OffsetKey)
	if err != nil {
		p.logger.WithField("error", err.Error()).Warn("cant load update offset")
		return 0
	}
	if raw == "" {
		return 0
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		p.logger.WithField("value", raw).Warn("ignoring malformed update offset")
		return 0
	}
	return offset
}

func (p *LongPoll) saveOffset(ctx context.Context, offset int) {
	if p.offsets == nil {
		return
	}
	if err := p.offsets.SetKV(ctx, OffsetKey, strconv.Itoa(offset)); err != nil {
		p.logger.WithFields(log.Fields{"offset": offset, "error": err.Error()}).Warn("cant save update offset")
	}
}

func (p *LongPoll) Updates(ctx context.Context) <-chan api.Update {
	ch := make(chan api.Update, pollBuffer)
	config := p.config
	config.Offset = p.loadOffset(ctx)

	go func() {
		defer close(ch)
		backoff := pollRetryStep
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			updates, err := p.bot.GetUpdates(config)
			if err != nil {
				p.logger.WithFields(log.Fields{"error": err.Error(), "backoff": backoff.String()}).Warn("cant get updates")
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, pollRetryMax)
				continue
			}
			backoff = pollRetryStep

			before := config.Offset
			for _, update := range updates {
				if update.UpdateID < config.Offset {
					continue
				}
				select {
				case ch <- update:
					config.Offset = update.UpdateID + 1
				case <-ctx.Done():
					if config.Offset != before {
						p.saveOffset(context.WithoutCancel(ctx), config.Offset)
					}
					return
				}
			}
			if config.Offset != before {
				p.saveOffset(ctx, config.Offset)
			}
		}
	}()

	return ch
}
