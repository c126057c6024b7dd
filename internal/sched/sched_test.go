package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"stockcast/pkg/logx"
)

func TestParseClock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"07:00", 7, 0, false},
		{"3:30", 3, 30, false},
		{" 23:59 ", 23, 59, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tc := range tests {
		h, m, err := parseClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseClock(%q): want error", tc.in)
			}
			continue
		}
		if err != nil || h != tc.h || m != tc.m {
			t.Errorf("parseClock(%q) = %d, %d, %v; want %d, %d", tc.in, h, m, err, tc.h, tc.m)
		}
	}
}

func TestAddDailyRejectsBadClock(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	if err := s.AddDaily("x", "25:00", func(ctx context.Context) {}); err == nil {
		t.Error("want error")
	}
	if err := s.AddDaily("x", "07:00", func(ctx context.Context) {}); err != nil {
		t.Errorf("AddDaily: %v", err)
	}
}

func TestWorkerRunsQueuedJobs(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	s.Start()
	defer s.Stop()

	var ran atomic.Int32
	done := make(chan struct{})
	s.queue <- queued{name: "test", job: func(ctx context.Context) {
		ran.Add(1)
		close(done)
	}}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	if ran.Load() != 1 {
		t.Errorf("ran = %d", ran.Load())
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	s.Start()
	defer s.Stop()

	s.queue <- queued{name: "boom", job: func(ctx context.Context) { panic("boom") }}
	done := make(chan struct{})
	s.queue <- queued{name: "after", job: func(ctx context.Context) { close(done) }}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}
