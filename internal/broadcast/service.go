package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stockcast/internal/eventbus"
	"stockcast/internal/storage"
	"stockcast/internal/tradingday"
	"stockcast/pkg/logx"
)

// Deps are the scheduler's collaborators. Store and Bus are optional.
type Deps struct {
	Provider ContentProvider
	Sessions SessionRegistry
	Days     tradingday.Classifier
	Store    storage.Store
	Bus      eventbus.Bus
	Log      logx.Logger
}

// Service is the broadcast scheduler. One instance owns the due-minute mark
// and the retry queue exclusively; both are guarded by mu because tick
// execution fans out into goroutines.
type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	// now is the clock source, replaceable in tests.
	now func() time.Time

	mu      sync.Mutex
	mark    string // last minute the matcher handled
	retries []*retryEntry

	runMu    sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopDone chan struct{}
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("broadcast: nil content provider")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("broadcast: nil session registry")
	}
	if deps.Days == nil {
		return nil, fmt.Errorf("broadcast: nil trading-day classifier")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TickInterval <= 0 || cfg.TickInterval > time.Second {
		cfg.TickInterval = time.Second
	}
	if cfg.RetrySpacing <= 0 {
		cfg.RetrySpacing = defaultRetrySpacing
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}
	return &Service{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With(logx.String("component", "broadcast")),
		now:  time.Now,
		ctx:  context.Background(),
	}, nil
}

// Start launches the tick loop. Disabled config is not an error; the
// service simply stays idle.
func (s *Service) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return fmt.Errorf("broadcast: already started")
	}
	if !s.cfg.Enabled {
		s.log.Info("broadcast disabled")
		return nil
	}
	if len(s.cfg.Tasks) == 0 {
		s.log.Warn("broadcast enabled with no valid tasks")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stopDone = make(chan struct{})
	s.running = true
	go s.loop()

	s.log.Info("broadcast started",
		logx.String("timezone", s.cfg.Location.String()),
		logx.Int("tasks", len(s.cfg.Tasks)),
		logx.Duration("tick", s.cfg.TickInterval))
	return nil
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Service) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.stopDone
	s.running = false
	s.log.Info("broadcast stopped")
}

func (s *Service) loop() {
	defer close(s.stopDone)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

// tick runs one full scheduling cycle: due retries first, then the matcher,
// then the trading-day gate, then execution. All work launched by a tick is
// awaited before the tick returns, so retry-queue mutation never races a
// later cycle.
func (s *Service) tick(now time.Time) {
	now = now.In(s.cfg.Location)
	minute := now.Format("15:04")

	s.runRetries(s.ctx, now, minute)

	s.mu.Lock()
	due := s.collectDue(minute)
	s.mu.Unlock()
	if len(due) == 0 {
		return
	}

	verdict := s.deps.Days.Classify(s.ctx, now)
	if !verdict.Trading {
		s.log.Info("broadcast suppressed on non-trading day",
			logx.String("minute", minute),
			logx.String("day_kind", string(verdict.Kind)),
			logx.String("source", string(verdict.Source)))
		return
	}

	results := make([]error, len(due))
	var wg sync.WaitGroup
	for i, task := range due {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			results[i] = s.execute(s.ctx, task, attemptInitial)
		}(i, task)
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range due {
		if results[i] == nil {
			if s.deps.Bus != nil {
				s.deps.Bus.Publish(eventbus.Event{
					Type: eventbus.BroadcastFired,
					Time: now,
					Data: map[string]any{"content": string(task.Content), "minute": minute},
				})
			}
			continue
		}
		s.log.Warn("broadcast failed, queued for retry",
			logx.String("content", string(task.Content)),
			logx.String("minute", minute),
			logx.Err(results[i]))
		s.enqueueRetry(task, minute, now)
	}
}

// Snapshot returns the scheduler state for status commands.
func (s *Service) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Enabled:    s.cfg.Enabled,
		Timezone:   s.cfg.Location.String(),
		TaskCount:  len(s.cfg.Tasks),
		LastMinute: s.mark,
	}
	for _, task := range s.cfg.Tasks {
		st.Tasks = append(st.Tasks, TaskStatus{
			Schedule: append([]string(nil), task.Schedule...),
			Kind:     task.Kind,
			Targets:  len(task.Targets),
			Content:  task.Content,
		})
	}
	for _, e := range s.retries {
		st.Retries = append(st.Retries, RetryStatus{
			Content:     e.task.Content,
			ScheduledAt: e.scheduledAt,
			Attempts:    e.attempts,
			LastAttempt: e.lastAttemptAt,
		})
	}
	return st
}
