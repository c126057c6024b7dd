// Package storage persists broadcast delivery outcomes. The store is
// optional: with driver "none" the rest of the system runs with a nil Store
// and skips recording entirely.
package storage

import (
	"context"
	"time"
)

// DeliveryRecord is one per-target delivery outcome.
type DeliveryRecord struct {
	At      time.Time
	Content string // canonical content tag
	Kind    string // private | channel
	Target  string
	Attempt string // initial | retry
	OK      bool
	Error   string // empty on success
}

type Store interface {
	AppendDelivery(ctx context.Context, rec DeliveryRecord) error
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	// PruneBefore deletes records older than cutoff and returns the count.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
