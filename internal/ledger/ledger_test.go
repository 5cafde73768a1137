package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	snap     Snapshot
	loadErr  error
	saveErr  error
	saves    int
	loads    int
	appended []Key
}

func (f *fakeBackend) Load(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make(Snapshot, len(f.snap))
	for k, v := range f.snap {
		out[k] = v
	}
	return out, nil
}

func (f *fakeBackend) Save(ctx context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.snap = make(Snapshot, len(snap))
	for k, v := range snap {
		f.snap[k] = v
	}
	return nil
}

func (f *fakeBackend) Close() error { return nil }

type appendingBackend struct {
	*fakeBackend
}

func (a appendingBackend) Append(ctx context.Context, key Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saveErr != nil {
		return a.saveErr
	}
	if a.snap == nil {
		a.snap = make(Snapshot)
	}
	a.snap[key] = true
	a.appended = append(a.appended, key)
	return nil
}

func newLedger(t *testing.T, b Backend) *Ledger {
	t.Helper()
	l := New(b, zerolog.Nop())
	require.NoError(t, l.Open(context.Background()))
	return l
}

func TestLedger_RecordThenExists(t *testing.T) {
	backend := &fakeBackend{}
	l := newLedger(t, backend)
	ctx := context.Background()
	key := DeriveKey("alice@example.com", "JFK", "SFO", "2025-06-01", "180 USD")

	sent, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, l.Record(ctx, key))
	require.NoError(t, l.Record(ctx, key))

	sent, err = l.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 1, backend.saves, "recording an existing key must not rewrite the store")
	assert.True(t, backend.snap[key])
}

func TestLedger_SurvivesReopen(t *testing.T) {
	backend := &fakeBackend{}
	ctx := context.Background()
	key := DeriveKey("alice@example.com", "JFK", "SFO", "2025-06-01", "180 USD")

	first := newLedger(t, backend)
	require.NoError(t, first.Record(ctx, key))

	second := newLedger(t, backend)
	sent, err := second.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestLedger_PrefersAppender(t *testing.T) {
	backend := appendingBackend{&fakeBackend{}}
	l := newLedger(t, backend)
	key := DeriveKey("alice@example.com", "JFK", "SFO", "2025-06-01", "150 USD")

	require.NoError(t, l.Record(context.Background(), key))
	assert.Equal(t, []Key{key}, backend.appended)
	assert.Equal(t, 0, backend.saves)
}

func TestLedger_UnavailableOnLoadFailure(t *testing.T) {
	backend := &fakeBackend{loadErr: errors.New("disk gone")}
	l := New(backend, zerolog.Nop())
	ctx := context.Background()

	err := l.Open(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = l.Exists(ctx, "k")
	require.ErrorIs(t, err, ErrUnavailable)

	backend.mu.Lock()
	backend.loadErr = nil
	backend.mu.Unlock()

	sent, err := l.Exists(ctx, "k")
	require.NoError(t, err, "ledger should retry loading once storage recovers")
	assert.False(t, sent)
	assert.Equal(t, 3, backend.loads)
}

func TestLedger_FailedSaveKeepsKeyUnrecorded(t *testing.T) {
	backend := &fakeBackend{}
	l := newLedger(t, backend)
	ctx := context.Background()
	backend.saveErr = errors.New("read-only")

	err := l.Record(ctx, "k")
	require.ErrorIs(t, err, ErrUnavailable)

	sent, err := l.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestLedger_GuardRecordsOnlyOnRequest(t *testing.T) {
	l := newLedger(t, &fakeBackend{})
	ctx := context.Background()

	err := l.Guard(ctx, "k", func(sent bool) (bool, error) {
		assert.False(t, sent)
		return false, errors.New("send failed")
	})
	require.Error(t, err)

	sent, _ := l.Exists(ctx, "k")
	assert.False(t, sent)

	require.NoError(t, l.Guard(ctx, "k", func(sent bool) (bool, error) { return true, nil }))
	require.NoError(t, l.Guard(ctx, "k", func(sent bool) (bool, error) {
		assert.True(t, sent)
		return false, nil
	}))
}

func TestLedger_GuardSerialisesSameKey(t *testing.T) {
	l := newLedger(t, &fakeBackend{})
	ctx := context.Background()

	var notified atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Guard(ctx, "same", func(sent bool) (bool, error) {
				if sent {
					return false, nil
				}
				notified.Add(1)
				time.Sleep(time.Millisecond)
				return true, nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), notified.Load())
	assert.Empty(t, l.locks.held)
}

func TestLedger_Prune(t *testing.T) {
	past := DeriveKey("a@example.com", "JFK", "SFO", "2025-01-10", "90 USD")
	future := DeriveKey("a@example.com", "JFK", "SFO", "2025-03-01", "90 USD")
	backend := &fakeBackend{snap: Snapshot{past: true, future: true, "legacy-key": true}}
	l := newLedger(t, backend)
	ctx := context.Background()

	removed, err := l.Prune(ctx, time.Date(2025, 2, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys, err := l.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{future, "legacy-key"}, keys)
	assert.NotContains(t, backend.snap, past)

	removed, err = l.Prune(ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestLedger_RefreshSeesOtherWriters(t *testing.T) {
	backend := &fakeBackend{}
	a := newLedger(t, backend)
	b := newLedger(t, backend)
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, "k"))

	sent, err := b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, sent, "cached snapshot predates the write")

	require.NoError(t, b.Refresh(ctx))
	sent, err = b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestLedger_RefreshFailureMarksUnavailable(t *testing.T) {
	backend := &fakeBackend{snap: Snapshot{"k": true}}
	l := newLedger(t, backend)
	ctx := context.Background()

	backend.mu.Lock()
	backend.loadErr = errors.New("disk gone")
	backend.mu.Unlock()

	require.ErrorIs(t, l.Refresh(ctx), ErrUnavailable)
	_, err := l.Exists(ctx, "k")
	require.ErrorIs(t, err, ErrUnavailable, "a stale cache must not answer after a failed reload")
}

func TestLedger_RecordKeepsKeysFromOtherWriters(t *testing.T) {
	backend := &fakeBackend{}
	a := newLedger(t, backend)
	b := newLedger(t, backend)
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, "from-a"))
	require.NoError(t, b.Record(ctx, "from-b"))

	assert.Equal(t, Snapshot{"from-a": true, "from-b": true}, backend.snap)
}

func TestLedger_PruneKeepsKeysRecordedElsewhere(t *testing.T) {
	past := DeriveKey("a@example.com", "JFK", "SFO", "2025-01-10", "90 USD")
	future := DeriveKey("a@example.com", "JFK", "SFO", "2025-03-01", "90 USD")
	backend := &fakeBackend{snap: Snapshot{past: true}}
	runner := newLedger(t, backend)
	pruner := newLedger(t, backend)
	ctx := context.Background()

	require.NoError(t, runner.Record(ctx, future))

	removed, err := pruner.Prune(ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, Snapshot{future: true}, backend.snap)

	other := DeriveKey("a@example.com", "JFK", "SFO", "2025-03-02", "80 USD")
	require.NoError(t, runner.Record(ctx, other))
	assert.NotContains(t, backend.snap, past, "pruned keys must not come back on the next write")
}
