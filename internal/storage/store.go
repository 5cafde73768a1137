package storage

import (
	"errors"
	"sort"

	"flight-price-alerts/internal/ledger"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// sentKeys lists recorded keys in a stable order so rewrites are deterministic.
func sentKeys(snap ledger.Snapshot) []ledger.Key {
	keys := make([]ledger.Key, 0, len(snap))
	for k, sent := range snap {
		if sent {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
