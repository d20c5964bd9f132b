package sessionindex

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/bughouse-server/pkg/bughousedto"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr()+"/0", ttl)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func exerciseIndex(t *testing.T, idx Index) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := idx.Touch(ctx, "old", now.Add(-time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := idx.Touch(ctx, "new", now); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := idx.Touch(ctx, "  ", now); err != nil {
		t.Fatalf("blank Touch: %v", err)
	}
	got, err := idx.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Name != "new" || got[1].Name != "old" {
		t.Fatalf("unexpected listing %+v", got)
	}
	if got[0].UpdatedAt.UnixMilli() != now.UnixMilli() {
		t.Fatalf("unexpected timestamp %s", got[0].UpdatedAt)
	}

	limited, err := idx.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit not applied: %+v %v", limited, err)
	}
}

func exercisePubSub(t *testing.T, idx Index) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, stop, err := idx.Subscribe(ctx, "room")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := idx.Publish(ctx, bughousedto.Event{Session: "other", Type: "gameChanged"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := idx.Publish(ctx, bughousedto.Event{Session: "room", Type: "gameChanged", Payload: map[string]any{"board": 1}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Session != "room" || ev.Type != "gameChanged" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}
}

func TestRedisStoreListAndTouch(t *testing.T) {
	s, _ := newTestRedisStore(t, time.Hour)
	exerciseIndex(t, s)
}

func TestRedisStoreDropsExpired(t *testing.T) {
	s, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()
	if err := s.Touch(ctx, "stale", time.Now().Add(-2*time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expired session listed: %+v", got)
	}
}

func TestRedisStorePubSub(t *testing.T) {
	s, _ := newTestRedisStore(t, time.Hour)
	exercisePubSub(t, s)
}

func TestMemoryStore(t *testing.T) {
	exerciseIndex(t, NewMemoryStore(time.Hour))
	exercisePubSub(t, NewMemoryStore(time.Hour))
}

func TestParseRedisURL(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("ParseRedisURL: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 || opts.TLSConfig != nil {
		t.Fatalf("unexpected options %+v", opts)
	}
	tlsOpts, err := ParseRedisURL("rediss://cache.internal:6379")
	if err != nil || tlsOpts.TLSConfig == nil {
		t.Fatalf("rediss should enable TLS: %+v %v", tlsOpts, err)
	}
	if _, err := ParseRedisURL("http://x"); err == nil {
		t.Fatalf("expected scheme error")
	}
	if _, err := ParseRedisURL("redis://x/notanumber"); err == nil {
		t.Fatalf("expected db error")
	}
}
