package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"flight-price-alerts/internal/ledger"
)

// File keeps the ledger as a JSON object mapping alert keys to true.
type File struct {
	path string
}

// NewFile returns a file backend; the file is created on first save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Load reads the whole snapshot. A missing file is an empty ledger.
func (f *File) Load(ctx context.Context) (ledger.Snapshot, error) {
	if f == nil || f.path == "" {
		return nil, ErrNotConfigured
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(ledger.Snapshot), nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	if len(data) == 0 {
		return make(ledger.Snapshot), nil
	}

	raw := make(map[string]bool)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode ledger file %s: %w", f.path, err)
	}

	snap := make(ledger.Snapshot, len(raw))
	for k, v := range raw {
		snap[ledger.Key(k)] = v
	}
	return snap, nil
}

// Save rewrites the file through a temp file and rename, so readers never see a
// partial document.
func (f *File) Save(ctx context.Context, snap ledger.Snapshot) error {
	if f == nil || f.path == "" {
		return ErrNotConfigured
	}

	raw := make(map[string]bool, len(snap))
	for _, k := range sentKeys(snap) {
		raw[string(k)] = true
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

// Close is a no-op; the file is not held open.
func (f *File) Close() error { return nil }

var _ ledger.Backend = (*File)(nil)
