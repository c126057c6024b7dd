// Package supervisor runs a set of named goroutines under one shared
// context, recovering panics and collecting the first failure.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	logx "stockcast/pkg/logx"
)

// Supervisor owns a derived context and tracks every goroutine launched
// through Go/Go0. Panics inside supervised goroutines are turned into
// errors instead of crashing the process. With cancel-on-error enabled,
// the first failure tears the shared context down so siblings can exit.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	mu    sync.Mutex
	first error
	live  map[string]struct{}

	wg sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError controls whether the first goroutine failure cancels
// the supervisor context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		live:   map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel tears the shared context down without waiting for goroutines.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded failure, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

// Active returns how many supervised goroutines are still running.
func (s *Supervisor) Active() int64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.live))
}

// Go launches fn on the supervisor context. The name shows up in logs and
// error messages. Context cancellation is not treated as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.track(name, true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.track(name, false)
		s.fail(name, s.runOne(name, fn))
	}()
}

// Go0 is Go for functions without an error result.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Wait blocks until every supervised goroutine has exited, or until ctx
// expires. On a clean finish it returns the first recorded failure.
func (s *Supervisor) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runOne executes a single goroutine body, converting panics to errors.
func (s *Supervisor) runOne(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			if !s.log.IsZero() {
				s.log.Error("goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}
	}()
	if !s.log.IsZero() {
		s.log.Debug("goroutine started", logx.String("name", name))
	}
	err = fn(s.ctx)
	if !s.log.IsZero() {
		s.log.Debug("goroutine stopped", logx.String("name", name), logx.Err(err))
	}
	return err
}

func (s *Supervisor) track(name string, up bool) {
	s.mu.Lock()
	if up {
		s.live[name] = struct{}{}
	} else {
		delete(s.live, name)
	}
	s.mu.Unlock()
}

// fail records err as the supervisor failure unless it is nil or plain
// cancellation, and cancels siblings when configured to.
func (s *Supervisor) fail(name string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.mu.Lock()
	if s.first == nil {
		s.first = fmt.Errorf("%s: %w", name, err)
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}
