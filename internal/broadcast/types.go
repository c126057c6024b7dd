package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind selects the delivery channel type for a task's targets.
type Kind string

const (
	KindPrivate Kind = "private"
	KindChannel Kind = "channel"
)

func parseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPrivate:
		return KindPrivate, nil
	case KindChannel:
		return KindChannel, nil
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

// ContentTag is the canonical identifier of a broadcast payload. Aliases
// (english shorthand and the chinese display names) resolve to these at the
// config boundary; dispatch never sees a raw string.
type ContentTag string

const (
	ContentActiveCap ContentTag = "active-cap"
	ContentLimitUp   ContentTag = "limit-up-board"
	ContentLimitDown ContentTag = "limit-down-board"
)

var contentAliases = map[string]ContentTag{
	"active-cap": ContentActiveCap, "indexes": ContentActiveCap, "活跃市值": ContentActiveCap,
	"limit-up-board": ContentLimitUp, "limit_up": ContentLimitUp, "涨停看板": ContentLimitUp,
	"limit-down-board": ContentLimitDown, "limit_down": ContentLimitDown, "跌停看板": ContentLimitDown,
}

func parseContent(s string) (ContentTag, error) {
	tag, ok := contentAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown content tag %q", s)
	}
	return tag, nil
}

// displayName is the tag's chinese label used in broadcast headers.
func (t ContentTag) displayName() string {
	switch t {
	case ContentActiveCap:
		return "指数看板"
	case ContentLimitUp:
		return "涨停看板"
	case ContentLimitDown:
		return "跌停看板"
	default:
		return string(t)
	}
}

// Task is a normalized broadcast task, immutable for the life of the
// service. Schedule is sorted, unique, zero-padded HH:MM strings.
type Task struct {
	Schedule []string
	Kind     Kind
	Targets  []string
	Content  ContentTag
}

// Payload is delivery-ready content. Exactly one of Text or Image is set;
// Caption accompanies an image.
type Payload struct {
	Text    string
	Image   []byte
	Caption string
}

// ContentProvider supplies broadcast payloads. Implementations must be
// idempotent: retries re-invoke the fetch.
type ContentProvider interface {
	FetchText(ctx context.Context, tag ContentTag) (string, error)
	FetchImage(ctx context.Context, tag ContentTag) ([]byte, error)
}

// Session is one live delivery connection.
type Session interface {
	ID() string
	Online() bool
	SendPrivate(ctx context.Context, target string, p Payload) error
	SendChannel(ctx context.Context, target string, p Payload) error
}

// SessionRegistry exposes the current sessions. The scheduler only reads.
type SessionRegistry interface {
	Sessions() []Session
}

// Config is the normalized scheduler configuration.
type Config struct {
	Enabled      bool
	Location     *time.Location
	TickInterval time.Duration
	RetrySpacing time.Duration
	RetryMax     int
	Tasks        []Task
}

// Status is a point-in-time view of the scheduler for status commands.
type Status struct {
	Enabled    bool
	Timezone   string
	TaskCount  int
	Tasks      []TaskStatus
	LastMinute string
	Retries    []RetryStatus
}

type TaskStatus struct {
	Schedule []string
	Kind     Kind
	Targets  int
	Content  ContentTag
}

type RetryStatus struct {
	Content     ContentTag
	ScheduledAt string
	Attempts    int
	LastAttempt time.Time
}
