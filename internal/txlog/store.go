// Package txlog keeps a journal of the transactions the app has submitted.
package txlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Transaction outcomes.
const (
	StatusMined    = "mined"
	StatusReverted = "reverted"
	StatusFailed   = "failed"
)

// Record describes one submitted transaction.
type Record struct {
	TxHash    string    `json:"txHash,omitempty"`
	Method    string    `json:"method"`
	Contract  string    `json:"contract"`
	From      string    `json:"from"`
	Status    string    `json:"status"`
	Block     uint64    `json:"block,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Store abstracts journal persistence.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
	// Recent returns up to limit unexpired records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// MemoryStore holds the journal in process. Expired records are pruned on
// every save.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[key]; ok && !rec.expired(m.now()) {
		return &rec, nil
	}
	return nil, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, rec := range m.records {
		if rec.expired(now) {
			delete(m.records, k)
		}
	}
	m.records[key] = record
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.records, limit, m.now()), nil
}

// entry is one line of the journal file.
type entry struct {
	Key string `json:"key"`
	Record
}

func (m *MemoryStore) entries() []entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entry, 0, len(m.records))
	for k, rec := range m.records {
		out = append(out, entry{Key: k, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// FileStore is a MemoryStore that rewrites a JSON file after every save, so
// the journal survives restarts in local dev.
type FileStore struct {
	*MemoryStore
	path    string
	writeMu sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	f := &FileStore{MemoryStore: NewMemoryStore(), path: path}
	blob, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if len(blob) == 0 {
		return f, nil
	}
	var saved []entry
	if err := json.Unmarshal(blob, &saved); err != nil {
		return nil, fmt.Errorf("decode journal %s: %w", path, err)
	}
	for _, e := range saved {
		f.records[e.Key] = e.Record
	}
	return f, nil
}

func (f *FileStore) Save(ctx context.Context, key string, record Record) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := f.MemoryStore.Save(ctx, key, record); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.entries(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func newest(data map[string]Record, limit int, now time.Time) []Record {
	out := make([]Record, 0, len(data))
	for _, rec := range data {
		if !rec.expired(now) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
