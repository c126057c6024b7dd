// Package tradingday decides whether a calendar date is an A-share trading
// day. The primary source is a public holiday calendar API; when it is
// unreachable the classifier degrades to a weekday heuristic rather than
// failing, so broadcast scheduling never stalls on a third-party outage.
package tradingday

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"stockcast/pkg/logx"
)

// DayKind is the calendar category of a date.
type DayKind string

const (
	KindWorkday      DayKind = "workday"
	KindWeekend      DayKind = "weekend"
	KindHoliday      DayKind = "holiday"
	KindCompensatory DayKind = "compensatory" // weekend shifted to a workday
)

// Source records which path produced a verdict.
type Source string

const (
	SourceCalendar  Source = "calendar"
	SourceHeuristic Source = "heuristic"
)

// Verdict is the classification of a single date. Heuristic verdicts are
// best-effort: holidays falling on weekdays are reported as trading days.
type Verdict struct {
	Trading bool
	Kind    DayKind
	Source  Source
}

// Classifier answers trading-day queries. Implemented by Calendar; the
// broadcast service depends on this interface so tests can pin the verdict.
type Classifier interface {
	Classify(ctx context.Context, date time.Time) Verdict
}

const defaultBaseURL = "https://timor.tech"

// cacheLimit bounds the memo map; entries are keyed by date so the steady
// state is one entry per day.
const cacheLimit = 64

// Calendar classifies dates via the timor.tech holiday API with a per-date
// memo cache. Safe for concurrent use.
type Calendar struct {
	baseURL string
	http    *http.Client
	log     logx.Logger

	mu    sync.Mutex
	cache map[string]Verdict
}

func New(baseURL string, timeout time.Duration, log logx.Logger) *Calendar {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Calendar{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With(logx.String("component", "tradingday")),
		cache:   make(map[string]Verdict),
	}
}

// Classify returns the verdict for date's calendar day in date's location.
// Calendar lookups are cached per date; heuristic fallbacks are not, so a
// recovered API replaces them on the next query.
func (c *Calendar) Classify(ctx context.Context, date time.Time) Verdict {
	key := date.Format("2006-01-02")

	c.mu.Lock()
	if v, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v, err := c.lookup(ctx, key)
	if err != nil {
		c.log.Warn("holiday lookup failed, using weekday heuristic",
			logx.String("date", key), logx.Err(err))
		return heuristic(date)
	}

	c.mu.Lock()
	if len(c.cache) >= cacheLimit {
		c.cache = make(map[string]Verdict)
	}
	c.cache[key] = v
	c.mu.Unlock()
	return v
}

// Prefetch warms the cache for today in loc. Used by the daily
// maintenance job so the first morning broadcast never waits on the API.
func (c *Calendar) Prefetch(ctx context.Context, loc *time.Location) {
	c.Classify(ctx, time.Now().In(loc))
}

type holidayResponse struct {
	Code int `json:"code"`
	Type struct {
		Type int    `json:"type"`
		Name string `json:"name"`
	} `json:"type"`
}

func (c *Calendar) lookup(ctx context.Context, date string) (Verdict, error) {
	u := c.baseURL + "/api/holiday/info/" + date
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("fetch holiday info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("holiday info: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Verdict{}, fmt.Errorf("read holiday info: %w", err)
	}
	var hr holidayResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return Verdict{}, fmt.Errorf("decode holiday info: %w", err)
	}
	if hr.Code != 0 {
		return Verdict{}, fmt.Errorf("holiday info: api code %d", hr.Code)
	}
	switch hr.Type.Type {
	case 0:
		return Verdict{Trading: true, Kind: KindWorkday, Source: SourceCalendar}, nil
	case 1:
		return Verdict{Trading: false, Kind: KindWeekend, Source: SourceCalendar}, nil
	case 2:
		return Verdict{Trading: false, Kind: KindHoliday, Source: SourceCalendar}, nil
	case 3:
		return Verdict{Trading: true, Kind: KindCompensatory, Source: SourceCalendar}, nil
	default:
		return Verdict{}, fmt.Errorf("holiday info: unknown day type %d", hr.Type.Type)
	}
}

func heuristic(date time.Time) Verdict {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return Verdict{Trading: false, Kind: KindWeekend, Source: SourceHeuristic}
	default:
		return Verdict{Trading: true, Kind: KindWorkday, Source: SourceHeuristic}
	}
}
