package probe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/bughouse-server/pkg/bughousedto"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

type EventCallback func(env bughousedto.Envelope)

type StateCallback func(state State)

var ErrNotConnected = errors.New("socket not connected")

// Socket is a session websocket that reconnects with backoff. Every
// (re)connect starts with a fresh initGame from the server.
type Socket struct {
	wsURL string

	connM sync.RWMutex
	conn  *websocket.Conn

	stateM sync.RWMutex
	state  State

	cbM      sync.RWMutex
	eventCbs []EventCallback
	stateCbs []StateCallback

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewSocket(wsURL string, maxReconnectAttempts int) *Socket {
	return &Socket{
		wsURL:                wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         20 * time.Second,
		stopCh:               make(chan struct{}),
	}
}

func (s *Socket) SetHeaderProvider(h HeaderProvider) { s.headerProvider = h }

func (s *Socket) OnEvent(cb EventCallback) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.eventCbs = append(s.eventCbs, cb)
}

func (s *Socket) OnStateChange(cb StateCallback) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.stateCbs = append(s.stateCbs, cb)
}

func (s *Socket) State() State {
	s.stateM.RLock()
	defer s.stateM.RUnlock()
	return s.state
}

func (s *Socket) Connect(ctx context.Context) error {
	if st := s.State(); st == StateConnected || st == StateConnecting {
		return nil
	}
	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := s.dial(dialCtx)
	if err != nil {
		s.setState(StateFailed)
		return err
	}
	s.attach(conn)
	return nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, s.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      s.buildHeaders(),
	})
	return conn, err
}

func (s *Socket) attach(conn *websocket.Conn) {
	s.connM.Lock()
	s.conn = conn
	s.connM.Unlock()
	s.setState(StateConnected)

	s.wg.Add(2)
	go s.listen(conn)
	go s.pingLoop(conn)
}

// Send writes one envelope.
func (s *Socket) Send(ctx context.Context, eventType string, payload any) error {
	s.connM.RLock()
	conn := s.conn
	s.connM.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	env, err := bughousedto.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, env)
}

// ClaimSeat asks for seat under name; the answer arrives as an event.
func (s *Socket) ClaimSeat(ctx context.Context, seat, name string) error {
	return s.Send(ctx, bughousedto.EventPlayerNameChanged, bughousedto.PlayerNameChanged{Seat: seat, Name: name})
}

func (s *Socket) Move(ctx context.Context, board int, move string) error {
	return s.Send(ctx, bughousedto.EventMove, bughousedto.MoveRequest{Board: board, Move: bughousedto.MoveField{Text: move}})
}

func (s *Socket) listen(conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		var env bughousedto.Envelope
		if err := wsjson.Read(s.rootCtx, conn, &env); err != nil {
			if s.isStopping() {
				return
			}
			s.setState(StateDisconnected)
			s.dropConn(conn, websocket.StatusGoingAway, "reconnect")
			s.scheduleReconnect()
			return
		}

		s.cbM.RLock()
		callbacks := append([]EventCallback(nil), s.eventCbs...)
		s.cbM.RUnlock()
		for _, cb := range callbacks {
			cb(env)
		}
	}
}

func (s *Socket) pingLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.rootCtx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				// listen notices the closed conn and reconnects
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *Socket) scheduleReconnect() {
	if s.maxReconnectAttempts <= 0 {
		s.setState(StateFailed)
		return
	}
	s.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			dialCtx, cancel := context.WithTimeout(s.rootCtx, 10*time.Second)
			conn, err := s.dial(dialCtx)
			cancel()
			if err != nil {
				continue
			}
			s.attach(conn)
			return
		}
		s.setState(StateFailed)
	}()
}

func (s *Socket) setState(state State) {
	s.stateM.Lock()
	s.state = state
	s.stateM.Unlock()

	s.cbM.RLock()
	callbacks := append([]StateCallback(nil), s.stateCbs...)
	s.cbM.RUnlock()
	for _, cb := range callbacks {
		cb(state)
	}
}

func (s *Socket) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.connM.RLock()
	conn := s.conn
	s.connM.RUnlock()
	if conn != nil {
		s.dropConn(conn, websocket.StatusNormalClosure, "close")
	}
	if s.rootCancel != nil {
		defer s.rootCancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.setState(StateDisconnected)
		return nil
	}
}

func (s *Socket) dropConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	s.connM.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connM.Unlock()
	_ = conn.Close(code, reason)
}

func (s *Socket) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Socket) buildHeaders() http.Header {
	hdr := http.Header{}
	if s.headerProvider == nil {
		return hdr
	}
	for k, v := range s.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
