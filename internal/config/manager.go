package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"stockcast/pkg/logx"
)

const watchDebounce = 250 * time.Millisecond

// Manager owns the current config snapshot and its hot-reload lifecycle.
// Readers call Get; subscribers receive a pointer to the new snapshot after
// every committed reload. Snapshots are immutable once published.
type Manager struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	current  *Config
	lastHash [sha256.Size]byte

	subMu  sync.Mutex
	subs   map[int]chan *Config
	nextID int

	// Validators run after Parse and before commit; any error aborts the
	// reload and keeps the previous snapshot.
	validators []func(*Config) error
}

func NewManager(path string, log logx.Logger) *Manager {
	m := &Manager{
		path: path,
		log:  log.With(logx.String("component", "config")),
		subs: make(map[int]chan *Config),
	}
	m.validators = append(m.validators, Validate)
	return m
}

// AddValidator registers an extra pre-commit check. Must be called before
// Watch starts.
func (m *Manager) AddValidator(fn func(*Config) error) {
	if fn != nil {
		m.validators = append(m.validators, fn)
	}
}

// Load reads, parses and commits the file at the manager's path.
func (m *Manager) Load() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := m.parse(raw)
	if err != nil {
		return nil, err
	}
	m.commit(cfg, sha256.Sum256(raw))
	return cfg, nil
}

func (m *Manager) parse(raw []byte) (*Config, error) {
	jsonBytes := raw
	if isYAMLPath(m.path) {
		b, err := coerceToJSONBytes(raw)
		if err != nil {
			return nil, err
		}
		jsonBytes = b
	}
	var cfg Config
	if err := strictDecode(jsonBytes, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	for _, v := range m.validators {
		if err := v(&cfg); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}
	return &cfg, nil
}

func (m *Manager) commit(cfg *Config, hash [sha256.Size]byte) {
	m.mu.Lock()
	m.current = cfg
	m.lastHash = hash
	m.mu.Unlock()
}

// Get returns the current snapshot, or nil before the first Load.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers a reload listener. The returned channel is buffered;
// a slow consumer drops intermediate snapshots, never blocks the watcher.
func (m *Manager) Subscribe() (int, <-chan *Config) {
	ch := make(chan *Config, 1)
	m.subMu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = ch
	m.subMu.Unlock()
	return id, ch
}

func (m *Manager) Unsubscribe(id int) {
	m.subMu.Lock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
	m.subMu.Unlock()
}

func (m *Manager) publish(cfg *Config) {
	m.subMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
		default:
			// Replace the stale pending snapshot with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
	m.subMu.Unlock()
}

// Watch blocks until ctx is done, reloading the config when the file
// changes. Editor save patterns (rename + create, truncation, atomic
// replace) collapse into a single reload via debounce; reload failures keep
// the previous snapshot and log the error.
func (m *Manager) Watch(ctx context.Context) error {
	for {
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Watcher died (fd pressure, editor replaced the directory).
		// Back off with jitter and re-arm.
		delay := 500*time.Millisecond + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
		m.log.Warn("config watcher restarting", logx.Err(err), logx.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (m *Manager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(m.path)

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			return fmt.Errorf("watcher: %w", err)
		case <-fire:
			fire = nil
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		m.log.Error("config reload read failed", logx.Err(err))
		return
	}
	hash := sha256.Sum256(raw)
	m.mu.RLock()
	same := hash == m.lastHash
	m.mu.RUnlock()
	if same {
		return
	}
	cfg, err := m.parse(raw)
	if err != nil {
		m.log.Error("config reload rejected, keeping previous snapshot", logx.Err(err))
		return
	}
	m.commit(cfg, hash)
	m.log.Info("config reloaded", logx.String("path", m.path))
	m.publish(cfg)
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
