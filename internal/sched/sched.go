// Package sched runs low-frequency maintenance jobs (holiday prefetch,
// delivery-log prune) on a cron timetable. It is deliberately separate from
// the broadcast tick loop: broadcasts need a 1-second clock, maintenance
// needs a calendar.
package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stockcast/pkg/logx"
)

type Job func(ctx context.Context)

type queued struct {
	name string
	job  Job
}

// Scheduler wraps cron with a single worker so jobs never run concurrently
// with each other and a panicking job cannot kill the process.
type Scheduler struct {
	cron  *cron.Cron
	log   logx.Logger
	queue chan queued

	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopDone chan struct{}
}

func New(loc *time.Location, log logx.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:  cron.New(cron.WithLocation(loc)),
		log:   log.With(logx.String("component", "sched")),
		queue: make(chan queued, 16),
	}
}

// AddDaily schedules job every day at the given HH:MM wall time. Must be
// called before Start.
func (s *Scheduler) AddDaily(name, clock string, job Job) error {
	h, m, err := parseClock(clock)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	_, err = s.cron.AddFunc(fmt.Sprintf("%d %d * * *", m, h), func() {
		select {
		case s.queue <- queued{name: name, job: job}:
		default:
			s.log.Warn("maintenance job dropped, queue full", logx.String("job", name))
		}
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stopDone = make(chan struct{})
	s.running = true
	go s.worker()
	s.cron.Start()
	s.log.Info("maintenance scheduler started")
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cancel()
	<-s.stopDone
	s.running = false
	s.log.Info("maintenance scheduler stopped")
}

func (s *Scheduler) worker() {
	defer close(s.stopDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case q := <-s.queue:
			s.run(q)
		}
	}
}

func (s *Scheduler) run(q queued) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("maintenance job panicked",
				logx.String("job", q.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	start := time.Now()
	q.job(s.ctx)
	s.log.Info("maintenance job done",
		logx.String("job", q.name),
		logx.Duration("took", time.Since(start)))
}

func parseClock(clock string) (h, m int, err error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", clock)
	}
	h, errH := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", clock)
	}
	return h, m, nil
}
