package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultShutdownTimeout = 15 * time.Second

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Hooks adapts plain functions to a Component; either may be nil.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (h Hooks) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

func (h Hooks) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}

type named struct {
	name      string
	component Component
}

// Runtime starts components in registration order and stops them in reverse.
type Runtime struct {
	components []named
	logger     *log.Entry
}

func NewRuntime() *Runtime {
	return &Runtime{logger: log.WithField("object", "Runtime")}
}

func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.components = append(r.components, named{name: name, component: component})
}

// Start rolls back the already started components when one of them fails.
func (r *Runtime) Start(ctx context.Context) error {
	started := make([]named, 0, len(r.components))
	for _, c := range r.components {
		if err := c.component.Start(ctx); err != nil {
			_ = r.stop(ctx, started)
			return fmt.Errorf("start %s: %w", c.name, err)
		}
		r.logger.WithField("component", c.name).Debug("started")
		started = append(started, c)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	return r.stop(ctx, r.components)
}

// Run starts everything, waits for ctx to end and stops within timeout.
func (r *Runtime) Run(ctx context.Context, timeout time.Duration) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	r.logger.Info("running")
	<-ctx.Done()
	r.logger.Info("shutting down")

	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return r.Stop(stopCtx)
}

func (r *Runtime) stop(ctx context.Context, components []named) error {
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.component.Stop(ctx); err != nil {
			r.logger.WithFields(log.Fields{"component": c.name, "error": err.Error()}).Warn("cant stop component")
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", c.name, err))
			continue
		}
		r.logger.WithField("component", c.name).Debug("stopped")
	}
	return stopErr
}
