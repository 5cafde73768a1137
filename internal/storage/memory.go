package storage

import (
	"context"
	"sync"

	"flight-price-alerts/internal/ledger"
)

// Memory is a process-local backend used by simulate-alert and tests.
type Memory struct {
	mu   sync.Mutex
	snap ledger.Snapshot
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{snap: make(ledger.Snapshot)}
}

func (m *Memory) Load(ctx context.Context) (ledger.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySnapshot(m.snap), nil
}

func (m *Memory) Save(ctx context.Context, snap ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = copySnapshot(snap)
	return nil
}

func (m *Memory) Close() error { return nil }

func copySnapshot(in ledger.Snapshot) ledger.Snapshot {
	out := make(ledger.Snapshot, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ ledger.Backend = (*Memory)(nil)
