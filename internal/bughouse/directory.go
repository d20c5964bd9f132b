package bughouse

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const maxSessionName = 64

// ValidateName normalizes a session name taken from a URL path segment.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxSessionName {
		return "", ErrInvalidSessionName
	}
	if strings.ContainsAny(name, "/\\?#") {
		return "", ErrInvalidSessionName
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", ErrInvalidSessionName
		}
	}
	return name, nil
}

// Directory is the process-wide name → Session registry. Sessions are
// created on first reference and never evicted.
type Directory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     Options
	onCreate func(*Session)
}

func NewDirectory(opts Options) *Directory {
	return &Directory{sessions: make(map[string]*Session), opts: opts.withDefaults()}
}

// OnCreate registers a hook run (outside the directory lock) for every new session.
func (d *Directory) OnCreate(fn func(*Session)) {
	d.mu.Lock()
	d.onCreate = fn
	d.mu.Unlock()
}

// Get returns the named session, creating it if needed.
func (d *Directory) Get(name string) (*Session, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	s, ok := d.sessions[name]
	if !ok {
		s = NewSession(name, d.opts)
		d.sessions[name] = s
	}
	hook := d.onCreate
	d.mu.Unlock()
	if !ok && hook != nil {
		hook(s)
	}
	return s, nil
}

// Lookup returns an existing session without creating one.
func (d *Directory) Lookup(name string) (*Session, bool) {
	name = strings.TrimSpace(name)
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[name]
	return s, ok
}

// SessionInfo is a listing row.
type SessionInfo struct {
	Name      string
	Seated    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// List returns every known session, most recently active first.
func (d *Directory) List() []SessionInfo {
	d.mu.Lock()
	all := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		all = append(all, s)
	}
	d.mu.Unlock()

	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		snap := s.Join()
		out = append(out, SessionInfo{
			Name:      snap.Name,
			Seated:    len(snap.Players),
			CreatedAt: snap.CreatedAt,
			UpdatedAt: snap.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
