package sessionindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/bughouse-server/pkg/bughousedto"
)

// MemoryStore is the single-process index used when REDIS_URL is unset.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	touched map[string]time.Time
	subs    map[string]map[chan bughousedto.Event]struct{}
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		ttl:     ttl,
		touched: make(map[string]time.Time),
		subs:    make(map[string]map[chan bughousedto.Event]struct{}),
		now:     time.Now,
	}
}

func (m *MemoryStore) Touch(_ context.Context, name string, at time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	m.mu.Lock()
	if prev, ok := m.touched[name]; !ok || at.After(prev) {
		m.touched[name] = at
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	out := make([]Entry, 0, len(m.touched))
	for name, at := range m.touched {
		if at.Before(cutoff) {
			delete(m.touched, name)
			continue
		}
		out = append(out, Entry{Name: name, UpdatedAt: at})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Publish never blocks: slow subscribers lose events.
func (m *MemoryStore) Publish(_ context.Context, ev bughousedto.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[ev.Session] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, name string) (<-chan bughousedto.Event, func(), error) {
	ch := make(chan bughousedto.Event, subBuffer)
	m.mu.Lock()
	set, ok := m.subs[name]
	if !ok {
		set = make(map[chan bughousedto.Event]struct{})
		m.subs[name] = set
	}
	set[ch] = struct{}{}
	m.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			m.mu.Lock()
			delete(m.subs[name], ch)
			if len(m.subs[name]) == 0 {
				delete(m.subs, name)
			}
			close(ch)
			m.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return ch, cancel, nil
}

func (m *MemoryStore) Close() error { return nil }
