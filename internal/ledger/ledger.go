package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnavailable indicates the backing store could not be read or written.
// Callers must not guess the ledger state when they see it.
var ErrUnavailable = errors.New("alert ledger unavailable")

// Snapshot is the full key→sent mapping as persisted by a Backend.
type Snapshot map[Key]bool

// Backend persists the ledger as a whole snapshot.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Appender is implemented by backends that can add one key without rewriting the snapshot.
type Appender interface {
	Append(ctx context.Context, key Key) error
}

// Ledger remembers which alert keys already produced a notification.
// Entries are cached in memory and written through to the backend.
type Ledger struct {
	backend Backend
	logger  zerolog.Logger

	mu      sync.Mutex
	entries Snapshot
	loaded  bool

	locks keyLocks
}

// New wires a backend into a Ledger. Call Open before use.
func New(backend Backend, logger zerolog.Logger) *Ledger {
	return &Ledger{
		backend: backend,
		logger:  logger.With().Str("component", "ledger").Logger(),
		locks:   keyLocks{held: make(map[Key]*keyLock)},
	}
}

// Open loads the snapshot. A failed Open is retried by later calls.
func (l *Ledger) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(ctx)
}

// Refresh discards the cached snapshot and reloads it from the backend, picking up
// keys written by other processes. After a failed Refresh every access retries the
// load and reports ErrUnavailable until it succeeds.
func (l *Ledger) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
	return l.loadLocked(ctx)
}

// Close releases the backend.
func (l *Ledger) Close() error {
	if l.backend == nil {
		return nil
	}
	return l.backend.Close()
}

func (l *Ledger) loadLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	if l.backend == nil {
		return fmt.Errorf("%w: no backend configured", ErrUnavailable)
	}

	snap, err := l.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrUnavailable, err)
	}
	if snap == nil {
		snap = make(Snapshot)
	}
	l.entries = snap
	l.loaded = true
	l.logger.Debug().Int("entries", len(snap)).Msg("ledger loaded")
	return nil
}

// Exists reports whether a notification was already recorded for key.
func (l *Ledger) Exists(ctx context.Context, key Key) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(ctx); err != nil {
		return false, err
	}
	return l.entries[key], nil
}

// Record marks key as notified. Recording an existing key is a no-op.
func (l *Ledger) Record(ctx context.Context, key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(ctx); err != nil {
		return err
	}
	if l.entries[key] {
		return nil
	}

	if appender, ok := l.backend.(Appender); ok {
		if err := appender.Append(ctx, key); err != nil {
			return fmt.Errorf("%w: append: %w", ErrUnavailable, err)
		}
		l.entries[key] = true
		return nil
	}

	// Snapshot backends are rewritten whole, so start from what is stored now.
	current, err := l.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrUnavailable, err)
	}
	if current == nil {
		current = make(Snapshot)
	}
	if !current[key] {
		current[key] = true
		if err := l.backend.Save(ctx, current); err != nil {
			return fmt.Errorf("%w: save: %w", ErrUnavailable, err)
		}
	}
	l.entries = current
	return nil
}

// Guard runs fn with exclusive access to key. fn receives whether the key is already
// recorded and returns whether it should be recorded now. Nothing is recorded when fn
// fails.
func (l *Ledger) Guard(ctx context.Context, key Key, fn func(sent bool) (record bool, err error)) error {
	unlock := l.locks.lock(key)
	defer unlock()

	sent, err := l.Exists(ctx, key)
	if err != nil {
		return err
	}

	record, err := fn(sent)
	if err != nil {
		return err
	}
	if record && !sent {
		return l.Record(ctx, key)
	}
	return nil
}

// Entries returns all recorded keys, sorted.
func (l *Ledger) Entries(ctx context.Context) ([]Key, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(ctx); err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(l.entries))
	for k, sent := range l.entries {
		if sent {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// Prune drops entries whose departure date is before cutoff. Keys that cannot be
// parsed are kept.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.loaded = false
	if err := l.loadLocked(ctx); err != nil {
		return 0, err
	}

	day := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)
	next := make(Snapshot, len(l.entries))
	removed := 0
	for k, sent := range l.entries {
		if departed(k, day) {
			removed++
			continue
		}
		next[k] = sent
	}
	if removed == 0 {
		return 0, nil
	}

	if err := l.backend.Save(ctx, next); err != nil {
		return 0, fmt.Errorf("%w: save: %w", ErrUnavailable, err)
	}
	l.entries = next
	l.logger.Info().Int("removed", removed).Str("before", day.Format(dateLayout)).Msg("ledger pruned")
	return removed, nil
}

func departed(k Key, day time.Time) bool {
	parts, err := ParseKey(k)
	if err != nil {
		return false
	}
	date, err := parts.DepartureDate()
	if err != nil {
		return false
	}
	return date.Before(day)
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocks hands out one mutex per key and forgets it once nobody holds it.
type keyLocks struct {
	mu   sync.Mutex
	held map[Key]*keyLock
}

func (kl *keyLocks) lock(key Key) func() {
	kl.mu.Lock()
	lk, ok := kl.held[key]
	if !ok {
		lk = &keyLock{}
		kl.held[key] = lk
	}
	lk.refs++
	kl.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		kl.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(kl.held, key)
		}
		kl.mu.Unlock()
	}
}
