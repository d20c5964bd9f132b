package sessionindex

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/bughouse-server/internal/obslog"
	"github.com/park285/bughouse-server/pkg/bughousedto"
)

// RedisStore keeps the session index in a sorted set scored by last
// activity (unix millis) and fans events out over pub/sub.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to redisURL and pings it.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(rdb, ttl), nil
}

func NewRedisStoreWithClient(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Touch(ctx context.Context, name string, at time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, keySessions, redis.Z{Score: float64(at.UnixMilli()), Member: name})
	pipe.ZRemRangeByScore(ctx, keySessions, "-inf", strconv.FormatInt(at.Add(-s.ttl).UnixMilli(), 10))
	pipe.Expire(ctx, keySessions, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch session %s: %w", name, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)
	min := strconv.FormatInt(time.Now().Add(-s.ttl).UnixMilli(), 10)
	zs, err := s.rdb.ZRevRangeByScoreWithScores(ctx, keySessions, &redis.ZRangeBy{
		Min:   min,
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		name, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Entry{Name: name, UpdatedAt: time.UnixMilli(int64(z.Score))})
	}
	return out, nil
}

func (s *RedisStore) Publish(ctx context.Context, ev bughousedto.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, EventChannel(ev.Session), raw).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, name string) (<-chan bughousedto.Event, func(), error) {
	sub := s.rdb.Subscribe(ctx, EventChannel(name))
	// wait for the subscription confirmation so no publish is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", name, err)
	}
	out := make(chan bughousedto.Event, subBuffer)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			_ = sub.Close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev bughousedto.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				obslog.L().Warn("session_event_decode_failed", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-stop:
				return
			}
		}
	}()
	return out, cancel, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// ParseRedisURL turns redis://[:pass@]host:port/db into client options.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
