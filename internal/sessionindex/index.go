// Package sessionindex keeps the list of recently active sessions and
// mirrors session events to external observers.
package sessionindex

import (
	"context"
	"time"

	"github.com/park285/bughouse-server/pkg/bughousedto"
)

// Entry is one listed session.
type Entry struct {
	Name      string
	UpdatedAt time.Time
}

// Index is implemented by the Redis store and the in-process fallback.
type Index interface {
	// Touch records activity for name.
	Touch(ctx context.Context, name string, at time.Time) error
	// List returns sessions active within the TTL, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)
	// Publish mirrors ev on the session's event channel.
	Publish(ctx context.Context, ev bughousedto.Event) error
	// Subscribe streams events for one session until ctx ends or cancel is called.
	Subscribe(ctx context.Context, name string) (<-chan bughousedto.Event, func(), error)
	Close() error
}

const (
	keyPrefix    = "bughouse:"
	keySessions  = keyPrefix + "sessions"
	defaultLimit = 100
	subBuffer    = 32
)

// EventChannel is the pub/sub channel name for one session.
func EventChannel(name string) string { return keyPrefix + "session:" + name + ":events" }

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultLimit
	}
	return limit
}
