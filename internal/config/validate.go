package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks constraints the strict decoder cannot express. It runs on
// every load, including hot reloads, before the snapshot is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if cfg.Telegram.SendRatePerSec < 0 {
		return fmt.Errorf("telegram.send_rate_per_sec: negative value")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path is required when file logging is enabled")
	}

	if _, err := ParseDurationField("market.timeout", cfg.Market.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("trading_day.timeout", cfg.TradingDay.Timeout); err != nil {
		return err
	}

	if err := validateBroadcast(&cfg.Broadcast); err != nil {
		return err
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none":
		case "sqlite":
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				return fmt.Errorf("storage.path is required for the sqlite driver")
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
		if cfg.Storage.RetentionDays < 0 {
			return fmt.Errorf("storage.retention_days: negative value")
		}
	}

	if cfg.Maintenance.Enabled {
		for field, raw := range map[string]string{
			"maintenance.holiday_prefetch_at": cfg.Maintenance.HolidayPrefetchAt,
			"maintenance.prune_at":            cfg.Maintenance.PruneAt,
		} {
			if raw == "" {
				continue
			}
			if err := checkClockTime(field, raw); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateBroadcast(b *BroadcastConfig) error {
	if tz := strings.TrimSpace(b.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("broadcast.timezone: %w", err)
		}
	}
	if _, err := ParseDurationField("broadcast.tick_interval", b.TickInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("broadcast.retry_spacing", b.RetrySpacing); err != nil {
		return err
	}
	if b.RetryMax < 0 {
		return fmt.Errorf("broadcast.retry_max: negative value")
	}
	// Task entries are not checked here. Malformed tasks are skipped with
	// a warning when the scheduler config is built, so a bad entry never
	// blocks startup or a hot reload.
	return nil
}

// checkClockTime accepts HH:MM with lenient single-digit fields ("9:5").
func checkClockTime(field, raw string) error {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return fmt.Errorf("%s: want HH:MM, got %q", field, raw)
	}
	h, errH := parseIntField(parts[0])
	m, errM := parseIntField(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("%s: want HH:MM, got %q", field, raw)
	}
	return nil
}

func parseIntField(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 2 {
		return 0, fmt.Errorf("bad field %q", s)
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad field %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
