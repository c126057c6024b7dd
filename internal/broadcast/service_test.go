package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"stockcast/internal/storage"
	"stockcast/internal/tradingday"
	"stockcast/pkg/logx"
)

type fakeProvider struct {
	mu         sync.Mutex
	textErr    error
	imageErr   error
	textCalls  int
	imageCalls int
}

func (p *fakeProvider) FetchText(ctx context.Context, tag ContentTag) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.textCalls++
	if p.textErr != nil {
		return "", p.textErr
	}
	return "上证指数 3100.00 +0.5%", nil
}

func (p *fakeProvider) FetchImage(ctx context.Context, tag ContentTag) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imageCalls++
	if p.imageErr != nil {
		return nil, p.imageErr
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

type sendCall struct {
	kind    Kind
	target  string
	payload Payload
}

type fakeSession struct {
	mu     sync.Mutex
	id     string
	online bool
	// failures holds per-target remaining failure counts; -1 fails forever.
	failures map[string]int
	calls    []sendCall
}

func (s *fakeSession) ID() string   { return s.id }
func (s *fakeSession) Online() bool { return s.online }

func (s *fakeSession) send(kind Kind, target string, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{kind: kind, target: target, payload: p})
	n, ok := s.failures[target]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		s.failures[target] = n - 1
	}
	return fmt.Errorf("send to %s refused", target)
}

func (s *fakeSession) SendPrivate(ctx context.Context, target string, p Payload) error {
	return s.send(KindPrivate, target, p)
}

func (s *fakeSession) SendChannel(ctx context.Context, target string, p Payload) error {
	return s.send(KindChannel, target, p)
}

func (s *fakeSession) sentTo(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.calls {
		if c.target == target {
			n++
		}
	}
	return n
}

type fakeRegistry struct{ sessions []Session }

func (r *fakeRegistry) Sessions() []Session { return r.sessions }

type fakeDays struct {
	mu      sync.Mutex
	verdict tradingday.Verdict
	calls   int
}

func (d *fakeDays) Classify(ctx context.Context, date time.Time) tradingday.Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.verdict
}

type fakeStore struct {
	mu   sync.Mutex
	recs []storage.DeliveryRecord
}

func (s *fakeStore) AppendDelivery(ctx context.Context, rec storage.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *fakeStore) RecentDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error) {
	return nil, nil
}
func (s *fakeStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) countAttempt(label string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, rec := range s.recs {
		if rec.Attempt == label {
			n++
		}
	}
	return n
}

var tradingVerdict = tradingday.Verdict{Trading: true, Kind: tradingday.KindWorkday, Source: tradingday.SourceCalendar}

type fixture struct {
	svc      *Service
	provider *fakeProvider
	session  *fakeSession
	days     *fakeDays
	store    *fakeStore
}

func newFixture(t *testing.T, tasks []Task) *fixture {
	t.Helper()
	f := &fixture{
		provider: &fakeProvider{},
		session:  &fakeSession{id: "s1", online: true, failures: map[string]int{}},
		days:     &fakeDays{verdict: tradingVerdict},
		store:    &fakeStore{},
	}
	cfg := Config{
		Enabled:      true,
		Location:     time.UTC,
		TickInterval: time.Second,
		RetrySpacing: 60 * time.Second,
		RetryMax:     3,
		Tasks:        tasks,
	}
	svc, err := New(cfg, Deps{
		Provider: f.provider,
		Sessions: &fakeRegistry{sessions: []Session{f.session}},
		Days:     f.days,
		Store:    f.store,
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.svc = svc
	return f
}

// at returns a Tuesday clock reading; 2026-09-01 is a Tuesday.
func at(h, m, sec int) time.Time {
	return time.Date(2026, time.September, 1, h, m, sec, 0, time.UTC)
}

func channelTask(schedule string, targets ...string) Task {
	return Task{
		Schedule: strings.Split(schedule, ","),
		Kind:     KindChannel,
		Targets:  targets,
		Content:  ContentActiveCap,
	}
}

func TestFiresOncePerMinuteAcrossTicks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("09:30", "c1")})
	// One tick per second across the boundary, 09:29:59 through 09:30:59.
	f.svc.tick(at(9, 29, 59))
	for sec := 0; sec < 60; sec++ {
		f.svc.tick(at(9, 30, sec))
	}
	if got := f.session.sentTo("c1"); got != 1 {
		t.Errorf("sends = %d, want exactly 1", got)
	}
}

func TestMatcherMarkAdvancesWithoutMatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("09:30", "c1")})
	s := f.svc

	s.mu.Lock()
	if due := s.collectDue("09:00"); due != nil {
		t.Errorf("due at 09:00 = %v", due)
	}
	// Same minute again: already handled, even though nothing matched.
	if due := s.collectDue("09:00"); due != nil {
		t.Errorf("second pass = %v", due)
	}
	if due := s.collectDue("09:30"); len(due) != 1 {
		t.Errorf("due at 09:30 = %v", due)
	}
	if due := s.collectDue("09:30"); due != nil {
		t.Errorf("re-fire within minute = %v", due)
	}
	s.mu.Unlock()
}

func TestNonTradingDaySuppressesFiring(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("09:30", "c1")})
	f.days.verdict = tradingday.Verdict{Trading: false, Kind: tradingday.KindWeekend, Source: tradingday.SourceHeuristic}

	f.svc.tick(at(9, 30, 0))
	if n := len(f.session.calls); n != 0 {
		t.Errorf("sends = %d, want 0", n)
	}
	if n := f.provider.textCalls; n != 0 {
		t.Errorf("content fetches = %d, want 0", n)
	}
	// Suppression is not a failure: nothing to retry.
	if st := f.svc.Snapshot(); len(st.Retries) != 0 {
		t.Errorf("retries = %+v", st.Retries)
	}
}

func TestClassifierOnlyConsultedWhenDue(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("09:30", "c1")})
	for sec := 0; sec < 30; sec++ {
		f.svc.tick(at(9, 0, sec))
	}
	if f.days.calls != 0 {
		t.Errorf("classifier calls = %d, want 0 on idle minutes", f.days.calls)
	}
}

func TestRetryCutoffExactlyThreeAttempts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("10:00", "c1")})
	f.session.failures["c1"] = -1

	f.svc.tick(at(10, 0, 0)) // initial firing fails
	if st := f.svc.Snapshot(); len(st.Retries) != 1 || st.Retries[0].Attempts != 0 {
		t.Fatalf("after firing: %+v", st.Retries)
	}

	f.svc.tick(at(10, 0, 30)) // spacing not elapsed, no attempt
	if got := f.session.sentTo("c1"); got != 1 {
		t.Fatalf("sends after 30s = %d, want 1", got)
	}

	for i, tick := range []time.Time{at(10, 1, 0), at(10, 2, 0), at(10, 3, 0)} {
		f.svc.tick(tick)
		if got, want := f.session.sentTo("c1"), 2+i; got != want {
			t.Fatalf("sends after retry %d = %d, want %d", i+1, got, want)
		}
	}
	if st := f.svc.Snapshot(); len(st.Retries) != 0 {
		t.Fatalf("queue after cutoff = %+v", st.Retries)
	}
	// Never a fourth retry.
	f.svc.tick(at(10, 4, 0))
	f.svc.tick(at(10, 5, 0))
	if got := f.session.sentTo("c1"); got != 4 {
		t.Errorf("total sends = %d, want 4 (1 initial + 3 retries)", got)
	}
}

func TestRetryExpiresAtNextScheduledOccurrence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("09:30,15:00", "c1")})
	f.session.failures["c1"] = -1

	f.svc.tick(at(9, 30, 0))
	if st := f.svc.Snapshot(); len(st.Retries) != 1 || st.Retries[0].ScheduledAt != "09:30" {
		t.Fatalf("after 09:30: %+v", st.Retries)
	}

	// Clock reaches the next scheduled occurrence: the stale entry expires
	// without another attempt, then the fresh 15:00 firing runs (and fails).
	f.svc.tick(at(15, 0, 0))
	st := f.svc.Snapshot()
	if len(st.Retries) != 1 || st.Retries[0].ScheduledAt != "15:00" {
		t.Fatalf("after 15:00: %+v", st.Retries)
	}
	if n := f.store.countAttempt("retry"); n != 0 {
		t.Errorf("retry sends = %d, want 0 (expired, not retried)", n)
	}
	if n := f.store.countAttempt("initial"); n != 2 {
		t.Errorf("initial sends = %d, want 2", n)
	}
}

func TestSingleEntryScheduleBoundedByCutoffNotWrap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("09:30", "c1")})
	f.session.failures["c1"] = -1

	f.svc.tick(at(9, 30, 0))
	// Hours later the wrapped next occurrence (tomorrow 09:30) has not
	// arrived: retries keep dispatching until the attempt cutoff.
	f.svc.tick(at(18, 0, 0))
	f.svc.tick(at(19, 0, 0))
	f.svc.tick(at(20, 0, 0))
	if got := f.session.sentTo("c1"); got != 4 {
		t.Errorf("sends = %d, want 4 (1 initial + 3 retries)", got)
	}
	if st := f.svc.Snapshot(); len(st.Retries) != 0 {
		t.Errorf("queue = %+v, want empty after cutoff", st.Retries)
	}
}

func TestPartialTargetFailureRetriesAllTargets(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("10:00", "c1", "c2")})
	f.session.failures["c2"] = 1 // fails once, then recovers

	f.svc.tick(at(10, 0, 0))
	if st := f.svc.Snapshot(); len(st.Retries) != 1 {
		t.Fatalf("partial failure must fail the whole task: %+v", st.Retries)
	}

	f.svc.tick(at(10, 1, 0))
	if st := f.svc.Snapshot(); len(st.Retries) != 0 {
		t.Fatalf("queue = %+v, want resolved", st.Retries)
	}
	// The retry resends to both targets; c1 accepts the duplicate.
	if got := f.session.sentTo("c1"); got != 2 {
		t.Errorf("c1 sends = %d, want 2", got)
	}
	if got := f.session.sentTo("c2"); got != 2 {
		t.Errorf("c2 sends = %d, want 2", got)
	}
}

func TestContentFetchFailureFailsTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("10:00", "c1")})
	f.provider.textErr = fmt.Errorf("upstream 502")

	f.svc.tick(at(10, 0, 0))
	if n := len(f.session.calls); n != 0 {
		t.Errorf("sends = %d, want 0 when fetch fails", n)
	}
	if st := f.svc.Snapshot(); len(st.Retries) != 1 {
		t.Errorf("retries = %+v, want 1", st.Retries)
	}
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []Task{channelTask("10:00", "c1", "c2")})

	f.svc.tick(at(10, 0, 0))

	for _, target := range []string{"c1", "c2"} {
		if got := f.session.sentTo(target); got != 1 {
			t.Errorf("%s sends = %d, want 1", target, got)
		}
	}
	for _, c := range f.session.calls {
		if c.kind != KindChannel {
			t.Errorf("kind = %q", c.kind)
		}
		if !strings.HasPrefix(c.payload.Text, "📊 定时广播 - 指数看板：") {
			t.Errorf("payload = %q, want broadcast label prefix", c.payload.Text)
		}
		if !strings.Contains(c.payload.Text, "上证指数") {
			t.Errorf("payload missing fetched content: %q", c.payload.Text)
		}
	}
	if st := f.svc.Snapshot(); len(st.Retries) != 0 {
		t.Errorf("retries = %+v, want none", st.Retries)
	}
}

func TestImagePayloadForBoards(t *testing.T) {
	t.Parallel()
	task := Task{Schedule: []string{"10:00"}, Kind: KindPrivate, Targets: []string{"u1"}, Content: ContentLimitUp}
	f := newFixture(t, []Task{task})

	f.svc.tick(at(10, 0, 0))
	if n := len(f.session.calls); n != 1 {
		t.Fatalf("sends = %d, want 1", n)
	}
	p := f.session.calls[0].payload
	if len(p.Image) == 0 || p.Text != "" {
		t.Errorf("payload = %+v, want image", p)
	}
	if !strings.Contains(p.Caption, "涨停看板") {
		t.Errorf("caption = %q", p.Caption)
	}
	if f.session.calls[0].kind != KindPrivate {
		t.Errorf("kind = %q", f.session.calls[0].kind)
	}
}

func TestPickSessionPrefersOnline(t *testing.T) {
	t.Parallel()
	offline := &fakeSession{id: "a", online: false}
	online := &fakeSession{id: "b", online: true}
	f := newFixture(t, nil)

	f.svc.deps.Sessions = &fakeRegistry{sessions: []Session{offline, online}}
	got, err := f.svc.pickSession()
	if err != nil || got.ID() != "b" {
		t.Errorf("pickSession = %v, %v; want online session b", got, err)
	}

	alsoOffline := &fakeSession{id: "c", online: false}
	f.svc.deps.Sessions = &fakeRegistry{sessions: []Session{offline, alsoOffline}}
	got, err = f.svc.pickSession()
	if err != nil || got.ID() != "a" {
		t.Errorf("pickSession = %v, %v; want first session fallback", got, err)
	}

	f.svc.deps.Sessions = &fakeRegistry{}
	if _, err := f.svc.pickSession(); err == nil {
		t.Error("want error with no sessions")
	}
}
