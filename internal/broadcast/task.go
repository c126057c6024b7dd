package broadcast

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"stockcast/internal/config"
	"stockcast/pkg/logx"
)

const (
	defaultTimezone     = "Asia/Shanghai"
	defaultTickInterval = time.Second
	defaultRetrySpacing = 60 * time.Second
	defaultRetryMax     = 3
)

// BuildConfig normalizes the raw config section into scheduler config.
// Invalid tasks are skipped with a warning, never fatal; a tick interval
// coarser than one second is clamped, since a slower clock can step over a
// minute boundary without sampling it.
func BuildConfig(raw config.BroadcastConfig, log logx.Logger) (Config, error) {
	tz := strings.TrimSpace(raw.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	tick := config.DurationOrDefault(raw.TickInterval, defaultTickInterval)
	if tick > time.Second {
		log.Warn("tick interval clamped to 1s",
			logx.Duration("configured", tick))
		tick = time.Second
	}
	if tick <= 0 {
		tick = defaultTickInterval
	}

	cfg := Config{
		Enabled:      raw.Enabled,
		Location:     loc,
		TickInterval: tick,
		RetrySpacing: config.DurationOrDefault(raw.RetrySpacing, defaultRetrySpacing),
		RetryMax:     raw.RetryMax,
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}

	for i, tc := range raw.Tasks {
		task, err := NormalizeTask(tc)
		if err != nil {
			log.Warn("broadcast task skipped",
				logx.Int("index", i), logx.Err(err))
			continue
		}
		cfg.Tasks = append(cfg.Tasks, task)
	}
	return cfg, nil
}

// NormalizeTask validates and canonicalizes one raw task. A task with no
// valid schedule entry or no target after trimming is an error (callers skip
// it, they do not abort).
func NormalizeTask(tc config.BroadcastTaskConfig) (Task, error) {
	kind, err := parseKind(tc.Kind)
	if err != nil {
		return Task{}, err
	}
	content, err := parseContent(tc.Content)
	if err != nil {
		return Task{}, err
	}

	var schedule []string
	seen := make(map[string]bool)
	for _, entry := range splitList(tc.Schedule) {
		minute, err := normalizeClock(entry)
		if err != nil {
			return Task{}, fmt.Errorf("schedule entry %q: %w", entry, err)
		}
		if !seen[minute] {
			seen[minute] = true
			schedule = append(schedule, minute)
		}
	}
	if len(schedule) == 0 {
		return Task{}, fmt.Errorf("empty schedule")
	}
	sort.Strings(schedule)

	targets := splitList(tc.Targets)
	if len(targets) == 0 {
		return Task{}, fmt.Errorf("empty targets")
	}

	return Task{Schedule: schedule, Kind: kind, Targets: targets, Content: content}, nil
}

// splitList splits on ascii and fullwidth commas, trims each entry and
// drops empties, so " 001, , 002 " becomes ["001" "002"].
func splitList(s string) []string {
	s = strings.ReplaceAll(s, "，", ",")
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeClock canonicalizes a time-of-day string: "9:5" becomes "09:05".
func normalizeClock(s string) (string, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("want HH:MM")
	}
	h, errH := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return "", fmt.Errorf("want HH:MM")
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}
