package broadcast

import (
	"reflect"
	"testing"
	"time"

	"stockcast/internal/config"
	"stockcast/pkg/logx"
)

func TestNormalizeTask(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.BroadcastTaskConfig
		want    Task
		wantErr bool
	}{
		{
			name: "canonical",
			in:   config.BroadcastTaskConfig{Schedule: "09:30,15:00", Kind: "channel", Targets: "c1,c2", Content: "active-cap"},
			want: Task{Schedule: []string{"09:30", "15:00"}, Kind: KindChannel, Targets: []string{"c1", "c2"}, Content: ContentActiveCap},
		},
		{
			name: "single digit padded",
			in:   config.BroadcastTaskConfig{Schedule: "9:5", Kind: "private", Targets: "u1", Content: "indexes"},
			want: Task{Schedule: []string{"09:05"}, Kind: KindPrivate, Targets: []string{"u1"}, Content: ContentActiveCap},
		},
		{
			name: "targets trimmed and empties dropped",
			in:   config.BroadcastTaskConfig{Schedule: "10:00", Kind: "channel", Targets: " 001, , 002 ", Content: "limit_up"},
			want: Task{Schedule: []string{"10:00"}, Kind: KindChannel, Targets: []string{"001", "002"}, Content: ContentLimitUp},
		},
		{
			name: "fullwidth delimiter and chinese alias",
			in:   config.BroadcastTaskConfig{Schedule: "09:30，15:00", Kind: "channel", Targets: "c1，c2", Content: "跌停看板"},
			want: Task{Schedule: []string{"09:30", "15:00"}, Kind: KindChannel, Targets: []string{"c1", "c2"}, Content: ContentLimitDown},
		},
		{
			name: "schedule deduped and sorted",
			in:   config.BroadcastTaskConfig{Schedule: "15:00,09:30,15:00", Kind: "channel", Targets: "c1", Content: "indexes"},
			want: Task{Schedule: []string{"09:30", "15:00"}, Kind: KindChannel, Targets: []string{"c1"}, Content: ContentActiveCap},
		},
		{
			name:    "bad hour",
			in:      config.BroadcastTaskConfig{Schedule: "24:00", Kind: "channel", Targets: "c1", Content: "indexes"},
			wantErr: true,
		},
		{
			name:    "empty schedule",
			in:      config.BroadcastTaskConfig{Schedule: " , ", Kind: "channel", Targets: "c1", Content: "indexes"},
			wantErr: true,
		},
		{
			name:    "empty targets",
			in:      config.BroadcastTaskConfig{Schedule: "10:00", Kind: "channel", Targets: " , ", Content: "indexes"},
			wantErr: true,
		},
		{
			name:    "entirely empty",
			in:      config.BroadcastTaskConfig{},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			in:      config.BroadcastTaskConfig{Schedule: "10:00", Kind: "group", Targets: "c1", Content: "indexes"},
			wantErr: true,
		},
		{
			name:    "unknown content",
			in:      config.BroadcastTaskConfig{Schedule: "10:00", Kind: "channel", Targets: "c1", Content: "weather"},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeTask(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeTask: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestBuildConfigSkipsInvalidTasks(t *testing.T) {
	t.Parallel()
	raw := config.BroadcastConfig{
		Enabled: true,
		Tasks: []config.BroadcastTaskConfig{
			{Schedule: "10:00", Kind: "channel", Targets: "c1", Content: "indexes"},
			{Schedule: "bad", Kind: "channel", Targets: "c1", Content: "indexes"},
			{},
			{Schedule: "11:00", Kind: "private", Targets: "u1", Content: "limit_down"},
		},
	}
	cfg, err := BuildConfig(raw, logx.Nop())
	if err != nil {
		t.Fatalf("BuildConfig: %v", err)
	}
	if len(cfg.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2 (invalid ones skipped)", len(cfg.Tasks))
	}
	if cfg.Location.String() != "Asia/Shanghai" {
		t.Errorf("timezone = %q", cfg.Location)
	}
	if cfg.TickInterval != time.Second || cfg.RetrySpacing != 60*time.Second || cfg.RetryMax != 3 {
		t.Errorf("defaults = %v %v %d", cfg.TickInterval, cfg.RetrySpacing, cfg.RetryMax)
	}
}

func TestBuildConfigClampsCoarseTick(t *testing.T) {
	t.Parallel()
	cfg, err := BuildConfig(config.BroadcastConfig{TickInterval: "30s"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("tick = %v, want clamp to 1s", cfg.TickInterval)
	}
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()
	task := Task{Schedule: []string{"09:30", "12:00", "15:00"}}
	tests := []struct{ after, want string }{
		{"09:30", "12:00"},
		{"12:00", "15:00"},
		{"15:00", "09:30"}, // wraps to next day
		{"00:00", "09:30"},
		{"23:59", "09:30"},
	}
	for _, tc := range tests {
		if got := task.nextOccurrence(tc.after); got != tc.want {
			t.Errorf("nextOccurrence(%q) = %q, want %q", tc.after, got, tc.want)
		}
	}
}
