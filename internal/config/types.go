package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Market     MarketConfig     `json:"market"`
	TradingDay TradingDayConfig `json:"trading_day"`
	Broadcast  BroadcastConfig  `json:"broadcast"`
	Blacklist  BlacklistConfig  `json:"blacklist,omitempty"`

	// Storage holds the optional delivery-log store.
	// If the whole section is omitted, storage is disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Maintenance controls background jobs (holiday prefetch, log prune).
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// SendRatePerSec caps outgoing messages (default 20).
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}
type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MarketConfig points at the stock data API serving index text and board images.
type MarketConfig struct {
	BaseURL string `json:"base_url"`
	// Timeout is a Go duration string for a single fetch (default "10s").
	Timeout string `json:"timeout,omitempty"`
}

// TradingDayConfig controls the holiday-calendar lookup.
type TradingDayConfig struct {
	// CalendarBaseURL is the holiday API root (default "https://timor.tech").
	CalendarBaseURL string `json:"calendar_base_url,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
}

// BroadcastConfig configures the periodic broadcast scheduler.
//
// All durations are Go duration strings.
type BroadcastConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is the fixed reference zone for schedule evaluation
	// (default "Asia/Shanghai"). Host-local time is never used.
	Timezone string `json:"timezone,omitempty"`
	// TickInterval is the clock sampling period. Values above 1s are clamped
	// back to 1s: a coarser tick can skip a minute boundary entirely.
	TickInterval string `json:"tick_interval,omitempty"`
	// RetrySpacing is the minimum gap between retry attempts (default "60s").
	RetrySpacing string `json:"retry_spacing,omitempty"`
	// RetryMax bounds retry attempts per failed firing (default 3).
	RetryMax int `json:"retry_max,omitempty"`

	Tasks []BroadcastTaskConfig `json:"tasks,omitempty"`
}

// BroadcastTaskConfig is one raw broadcast task as written by the operator.
// Normalization (schedule parsing, target trimming, content alias
// resolution) happens once at the config boundary.
type BroadcastTaskConfig struct {
	// Schedule is a delimiter-separated list of HH:mm times, e.g. "09:30,15:00".
	Schedule string `json:"schedule"`
	// Kind is "private" or "channel".
	Kind string `json:"kind"`
	// Targets is a delimiter-separated list of chat/user ids.
	Targets string `json:"targets"`
	// Content is a content tag (canonical or alias), e.g. "active-cap".
	Content string `json:"content"`
}

// BlacklistConfig holds per-command and global deny lists.
// Keys of Commands are canonical command names (e.g. "indexes").
type BlacklistConfig struct {
	Users    []string                    `json:"users,omitempty"`
	Channels []string                    `json:"channels,omitempty"`
	Commands map[string]CommandBlacklist `json:"commands,omitempty"`
}

type CommandBlacklist struct {
	Users    []string `json:"users,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// StorageConfig configures the delivery-log store.
//
// Driver values: "sqlite" (database file) or "none"/"" (disabled).
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// RetentionDays bounds how long delivery records are kept (default 30).
	RetentionDays int `json:"retention_days,omitempty"`
}

type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// HolidayPrefetchAt is a HH:MM time of day (broadcast timezone).
	HolidayPrefetchAt string `json:"holiday_prefetch_at,omitempty"`
	// PruneAt is a HH:MM time of day for the delivery-log prune job.
	PruneAt string `json:"prune_at,omitempty"`
}

// strictDecode decodes JSON bytes rejecting unknown fields and trailing data,
// so removed legacy keys are caught early during reload.
func strictDecode(b []byte, out *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
