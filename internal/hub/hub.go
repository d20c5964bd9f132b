// Package hub carries the realtime side of a session: it upgrades HTTP
// requests to websockets, runs one room goroutine per session and fans
// resulting events out to every connection of that session.
package hub

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/bughouse-server/internal/archive"
	"github.com/park285/bughouse-server/internal/bughouse"
	"github.com/park285/bughouse-server/internal/msgcat"
	"github.com/park285/bughouse-server/internal/obslog"
	"github.com/park285/bughouse-server/internal/sessionindex"
)

// Options configure a Hub. Index and Archive may be nil.
type Options struct {
	AllowedOrigins          []string
	MaxConnsPerSession      int
	ReleaseSeatOnDisconnect bool
	Catalog                 *msgcat.Catalog
	Index                   sessionindex.Index
	Archive                 archive.Archive
	ArchiveTimeout          time.Duration
}

type Hub struct {
	dir     *bughouse.Directory
	opts    Options
	allowed map[string]bool
	mirror  *mirror

	mu      sync.Mutex
	rooms   map[string]*Room
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func New(dir *bughouse.Directory, opts Options) *Hub {
	if opts.Catalog == nil {
		opts.Catalog = msgcat.MustDefault()
	}
	allowed := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[o] = true
		}
	}
	h := &Hub{
		dir:     dir,
		opts:    opts,
		allowed: allowed,
		mirror:  newMirror(opts.Index, opts.Archive, opts.ArchiveTimeout),
		rooms:   make(map[string]*Room),
		stop:    make(chan struct{}),
	}
	dir.OnCreate(func(s *bughouse.Session) {
		h.mirror.touch(s.Name(), time.Now())
		obslog.L().Info("session_created", zap.String("session", s.Name()))
	})
	return h
}

func (h *Hub) Directory() *bughouse.Directory { return h.dir }

// originAllowed accepts same-host requests, requests without Origin, and
// any origin listed in AllowedOrigins.
func (h *Hub) originAllowed(r *http.Request) bool {
	origin := strings.TrimRight(r.Header.Get("Origin"), "/")
	if origin == "" || h.allowed[origin] || h.allowed["*"] {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return strings.EqualFold(host, r.Host)
}

// ServeSession upgrades the request and serves the connection until it closes.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, name string) {
	if !h.originAllowed(r) {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}
	sess, err := h.dir.Get(name)
	if err != nil {
		http.Error(w, "invalid session name", http.StatusBadRequest)
		return
	}
	room, ok := h.room(sess)
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if !room.reserve(h.opts.MaxConnsPerSession) {
		obslog.L().Warn("ws_session_full", zap.String("session", sess.Name()), zap.Int("limit", h.opts.MaxConnsPerSession))
		http.Error(w, h.opts.Catalog.Reject("session_full", nil), http.StatusServiceUnavailable)
		return
	}
	defer room.unreserve()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("session", sess.Name()), zap.Error(err))
		return
	}

	c := newClient(uuid.NewString(), conn)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !room.enqueue(roomEvent{kind: evJoin, client: c}) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	go c.writePump(ctx)
	c.readPump(ctx, room)
	room.enqueue(roomEvent{kind: evLeave, client: c})
}

// room returns the session's room, starting it on first use.
func (h *Hub) room(s *bughouse.Session) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil, false
	}
	if r, ok := h.rooms[s.Name()]; ok {
		return r, true
	}
	r := newRoom(h, s)
	h.rooms[s.Name()] = r
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		r.run(h.stop)
	}()
	return r, true
}

// ConnCount reports live connections for a session.
func (h *Hub) ConnCount(name string) int {
	h.mu.Lock()
	r, ok := h.rooms[name]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return r.Conns()
}

func (h *Hub) rejectText(rej *bughouse.Reject, board bughouse.BoardID, c *Client, s *bughouse.Session) string {
	data := map[string]any{"Board": int(board), "Seat": 0}
	if seat, ok := s.SeatOf(c.id); ok {
		data["Seat"] = int(seat.Board())
	}
	return h.opts.Catalog.Reject(rej.Reason, data)
}

// Shutdown closes every connection and flushes pending mirror work.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		close(h.stop)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := h.mirror.stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
