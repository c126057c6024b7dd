package storage

import (
	"fmt"
	"strings"

	"stockcast/internal/config"
)

// Open builds a Store from config. A nil section or driver "none" returns
// (nil, nil): callers treat a nil Store as recording disabled.
func Open(cfg *config.StorageConfig) (Store, error) {
	if cfg == nil {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "sqlite":
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.BusyTimeout)
		if err != nil {
			return nil, err
		}
		return openSQLite(cfg.Path, busy)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
