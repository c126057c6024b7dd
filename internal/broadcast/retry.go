package broadcast

import (
	"context"
	"sync"
	"time"

	"stockcast/internal/eventbus"
	"stockcast/pkg/logx"
)

// retryEntry tracks one failed firing awaiting re-attempt. Entries are
// created only when a matcher-fired execution fails; retry failures mutate
// the existing entry until it resolves, expires or hits the attempt cutoff.
type retryEntry struct {
	task          Task
	scheduledAt   string // minute the task was originally due
	attempts      int
	lastAttemptAt time.Time
}

// expired reports whether the task's next scheduled occurrence after
// scheduledAt has arrived, which abandons the old failure in favor of the
// upcoming fresh run. A wrapped occurrence (next <= scheduledAt, i.e. the
// schedule has no later entry today) never expires the entry: single-entry
// schedules are bounded by the attempt cutoff instead of a ~24h wait.
func (e *retryEntry) expired(minute string) bool {
	next := e.task.nextOccurrence(e.scheduledAt)
	return next > e.scheduledAt && minute >= next
}

// runRetries advances the retry queue for this tick. Entries whose spacing
// has not elapsed are left alone. Due entries are either expired or
// dispatched: attempts and lastAttemptAt update at dispatch so an entry is
// never picked twice while its execution is still in flight. Executions run
// concurrently and are awaited before the tick returns.
func (s *Service) runRetries(ctx context.Context, now time.Time, minute string) {
	type dispatch struct {
		entry *retryEntry
	}

	s.mu.Lock()
	var dispatches []dispatch
	kept := s.retries[:0]
	for _, e := range s.retries {
		if now.Sub(e.lastAttemptAt) < s.cfg.RetrySpacing {
			kept = append(kept, e)
			continue
		}
		if e.expired(minute) {
			s.log.Info("broadcast retry expired, next scheduled run supersedes it",
				logx.String("content", string(e.task.Content)),
				logx.String("scheduled_at", e.scheduledAt),
				logx.Int("attempts", e.attempts))
			s.publish(eventbus.BroadcastExpired, e)
			continue
		}
		e.attempts++
		e.lastAttemptAt = now
		dispatches = append(dispatches, dispatch{entry: e})
		kept = append(kept, e)
	}
	s.retries = kept
	s.mu.Unlock()

	if len(dispatches) == 0 {
		return
	}

	results := make([]error, len(dispatches))
	var wg sync.WaitGroup
	for i, d := range dispatches {
		wg.Add(1)
		go func(i int, e *retryEntry) {
			defer wg.Done()
			results[i] = s.execute(ctx, e.task, attemptRetry)
		}(i, d.entry)
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range dispatches {
		e := d.entry
		if results[i] == nil {
			s.removeRetry(e)
			s.log.Info("broadcast retry delivered",
				logx.String("content", string(e.task.Content)),
				logx.String("scheduled_at", e.scheduledAt),
				logx.Int("attempts", e.attempts))
			s.publish(eventbus.BroadcastResolved, e)
			continue
		}
		if e.attempts >= s.cfg.RetryMax {
			s.removeRetry(e)
			s.log.Warn("broadcast abandoned after retry cutoff",
				logx.String("content", string(e.task.Content)),
				logx.String("scheduled_at", e.scheduledAt),
				logx.Int("attempts", e.attempts),
				logx.Err(results[i]))
			s.publish(eventbus.BroadcastAbandoned, e)
			continue
		}
		s.log.Warn("broadcast retry failed, will retry",
			logx.String("content", string(e.task.Content)),
			logx.String("scheduled_at", e.scheduledAt),
			logx.Int("attempts", e.attempts),
			logx.Err(results[i]))
	}
}

// enqueueRetry records a failed matcher firing. Callers must hold s.mu.
func (s *Service) enqueueRetry(task Task, minute string, now time.Time) {
	e := &retryEntry{task: task, scheduledAt: minute, lastAttemptAt: now}
	s.retries = append(s.retries, e)
	s.publish(eventbus.BroadcastQueued, e)
}

// removeRetry drops an entry by identity. Callers must hold s.mu.
func (s *Service) removeRetry(target *retryEntry) {
	for i, e := range s.retries {
		if e == target {
			s.retries = append(s.retries[:i], s.retries[i+1:]...)
			return
		}
	}
}

func (s *Service) publish(eventType eventbus.Type, e *retryEntry) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{
		Type: eventType,
		Time: time.Now(),
		Data: map[string]any{
			"content":      string(e.task.Content),
			"scheduled_at": e.scheduledAt,
			"attempts":     e.attempts,
		},
	})
}
