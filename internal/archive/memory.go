package archive

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps records for the life of the process.
type Memory struct {
	mu        sync.RWMutex
	byID      map[string]bool
	bySession map[string][]Record
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]bool), bySession: make(map[string][]Record)}
}

// Save ignores a record whose id was already stored.
func (m *Memory) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID[rec.ID] {
		return nil
	}
	m.byID[rec.ID] = true
	m.bySession[rec.Session] = append(m.bySession[rec.Session], rec)
	return nil
}

func (m *Memory) Recent(_ context.Context, session string, limit int) ([]Record, error) {
	m.mu.RLock()
	items := append([]Record(nil), m.bySession[session]...)
	m.mu.RUnlock()
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].FinishedAt.After(items[j].FinishedAt)
	})
	if limit = normalizeLimit(limit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *Memory) Close() error { return nil }
