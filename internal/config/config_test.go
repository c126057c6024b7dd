package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stockcast/pkg/logx"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1001]
  group_log: "-100200300"
  poll_timeout: "10s"
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
  telegram:
    enabled: false
    thread_id: 0
    min_level: warn
    rate_per_sec: 1
market:
  base_url: "http://stock.svip886.com"
  timeout: "10s"
trading_day:
  calendar_base_url: "https://timor.tech"
broadcast:
  enabled: true
  timezone: "Asia/Shanghai"
  tick_interval: "1s"
  retry_spacing: "60s"
  retry_max: 3
  tasks:
    - schedule: "09:30,15:00"
      kind: "channel"
      targets: "-100111, -100222"
      content: "indexes"
storage:
  driver: sqlite
  path: "data/stockcast.db"
  retention_days: 30
maintenance:
  enabled: true
  holiday_prefetch_at: "07:00"
  prune_at: "03:30"
`

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManagerLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.yaml", sampleYAML), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Broadcast.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(cfg.Broadcast.Tasks))
	}
	if got := cfg.Broadcast.Tasks[0].Schedule; got != "09:30,15:00" {
		t.Errorf("schedule = %q", got)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Error("Get should return the committed snapshot")
	}
}

func TestManagerRejectsUnknownField(t *testing.T) {
	t.Parallel()
	body := strings.Replace(sampleYAML, "group_log:", "group_logx:", 1)
	m := NewManager(writeTemp(t, "config.yaml", body), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("want error for unknown field")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Broadcast: BroadcastConfig{
				Tasks: []BroadcastTaskConfig{{
					Schedule: "09:30", Kind: "channel", Targets: "1", Content: "indexes",
				}},
			},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad timezone", func(c *Config) { c.Broadcast.Timezone = "Mars/Olympus" }, "broadcast.timezone"},
		{"bad tick", func(c *Config) { c.Broadcast.TickInterval = "fast" }, "tick_interval"},
		{"negative retry max", func(c *Config) { c.Broadcast.RetryMax = -1 }, "retry_max"},
		{"bad task kind tolerated", func(c *Config) { c.Broadcast.Tasks[0].Kind = "group" }, ""},
		{"empty task fields tolerated", func(c *Config) {
			c.Broadcast.Tasks[0] = BroadcastTaskConfig{}
		}, ""},
		{"sqlite without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"unknown driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }, "storage.driver"},
		{"bad prefetch time", func(c *Config) {
			c.Maintenance = MaintenanceConfig{Enabled: true, HolidayPrefetchAt: "25:00"}
		}, "holiday_prefetch_at"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want contains %q", err, tc.wantErr)
			}
		})
	}
}

func TestCheckClockTime(t *testing.T) {
	t.Parallel()
	good := []string{"09:30", "9:5", "0:0", "23:59", " 12:00 "}
	for _, s := range good {
		if err := checkClockTime("f", s); err != nil {
			t.Errorf("checkClockTime(%q) = %v", s, err)
		}
	}
	bad := []string{"", "9", "24:00", "12:60", "ab:cd", "1:2:3", "123:4"}
	for _, s := range bad {
		if err := checkClockTime("f", s); err == nil {
			t.Errorf("checkClockTime(%q) should fail", s)
		}
	}
}

func TestDurationOrDefault(t *testing.T) {
	t.Parallel()
	if got := DurationOrDefault("", 5*time.Second); got != 5*time.Second {
		t.Errorf("empty = %v", got)
	}
	if got := DurationOrDefault("2m", 5*time.Second); got != 2*time.Minute {
		t.Errorf("2m = %v", got)
	}
	if got := DurationOrDefault("junk", 5*time.Second); got != 5*time.Second {
		t.Errorf("junk = %v", got)
	}
}
