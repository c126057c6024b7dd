package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(path string, busyTimeout time.Duration) (Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc's driver is not safe for concurrent writers on one file;
	// a single connection serializes everything through SQLite itself.
	db.SetMaxOpenConns(1)

	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, rec DeliveryRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (at, content, kind, target, attempt, ok, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		at.UTC().Format(time.RFC3339), rec.Content, rec.Kind, rec.Target,
		rec.Attempt, boolInt(rec.OK), rec.Error)
	if err != nil {
		return fmt.Errorf("append delivery: %w", err)
	}
	return nil
}

func (s *sqliteStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, content, kind, target, attempt, ok, error
		 FROM deliveries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		var at string
		var ok int
		if err := rows.Scan(&at, &rec.Content, &rec.Kind, &rec.Target,
			&rec.Attempt, &ok, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		rec.OK = ok != 0
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			rec.At = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE at < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
