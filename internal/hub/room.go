package hub

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/bughouse-server/internal/bughouse"
	"github.com/park285/bughouse-server/internal/obslog"
	"github.com/park285/bughouse-server/pkg/bughousedto"
)

type eventKind int

const (
	evJoin eventKind = iota
	evLeave
	evMessage
)

type roomEvent struct {
	kind   eventKind
	client *Client
	data   []byte
}

const inboxSize = 128

// Room serializes every event of one session on a single goroutine, so
// session operations and the broadcasts they trigger never interleave.
type Room struct {
	hub     *Hub
	session *bughouse.Session
	inbox   chan roomEvent
	done    chan struct{}
	conns   atomic.Int32

	// run goroutine only
	clients map[string]*Client
}

func newRoom(h *Hub, s *bughouse.Session) *Room {
	return &Room{
		hub:     h,
		session: s,
		inbox:   make(chan roomEvent, inboxSize),
		done:    make(chan struct{}),
		clients: make(map[string]*Client),
	}
}

func (r *Room) Session() *bughouse.Session { return r.session }

// Conns is the number of admitted connections.
func (r *Room) Conns() int { return int(r.conns.Load()) }

func (r *Room) reserve(limit int) bool {
	for {
		cur := r.conns.Load()
		if limit > 0 && int(cur) >= limit {
			return false
		}
		if r.conns.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (r *Room) unreserve() { r.conns.Add(-1) }

func (r *Room) enqueue(ev roomEvent) bool {
	select {
	case r.inbox <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) run(stop <-chan struct{}) {
	defer close(r.done)
	for {
		select {
		case <-stop:
			r.closeAll()
			return
		case ev := <-r.inbox:
			switch ev.kind {
			case evJoin:
				r.handleJoin(ev.client)
			case evLeave:
				r.handleLeave(ev.client)
			case evMessage:
				r.handleMessage(ev.client, ev.data)
			}
		}
	}
}

func (r *Room) handleJoin(c *Client) {
	r.clients[c.id] = c
	snap := r.session.Join()
	r.sendTo(c, bughousedto.EventInitGame, SnapshotPayload(snap, c.id))
	r.hub.mirror.touch(r.session.Name(), time.Now())
	obslog.L().Info("ws_join",
		zap.String("session", r.session.Name()),
		zap.String("conn_id", c.id),
		zap.Int("conns", len(r.clients)),
	)
}

func (r *Room) handleLeave(c *Client) {
	r.detach(c)
	obslog.L().Info("ws_leave",
		zap.String("session", r.session.Name()),
		zap.String("conn_id", c.id),
		zap.Int("conns", len(r.clients)),
	)
	if !r.hub.opts.ReleaseSeatOnDisconnect {
		return
	}
	seat, ok := r.session.ReleaseConn(c.id)
	if !ok {
		return
	}
	msg := bughousedto.PlayerNameChanged{Seat: string(seat)}
	r.broadcast(bughousedto.EventPlayerNameChanged, msg, nil)
	r.hub.mirror.publish(r.session.Name(), bughousedto.EventPlayerNameChanged, msg)
	obslog.L().Info("seat_released", zap.String("session", r.session.Name()), zap.String("seat", string(seat)))
}

func (r *Room) handleMessage(c *Client, data []byte) {
	if c.detached {
		return
	}
	var env bughousedto.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		r.sendError(c, "", bughouse.Malformed(bughouse.ReasonBadEvent))
		return
	}
	switch env.Type {
	case bughousedto.EventPlayerNameChanged:
		r.handleClaim(c, env)
	case bughousedto.EventMove:
		r.handleMove(c, env)
	default:
		r.sendError(c, env.Type, bughouse.Malformed(bughouse.ReasonBadEvent))
	}
}

func (r *Room) handleClaim(c *Client, env bughousedto.Envelope) {
	var req bughousedto.PlayerNameChanged
	if err := env.Decode(&req); err != nil {
		r.sendError(c, env.Type, bughouse.Malformed(bughouse.ReasonBadSeat))
		return
	}
	seat, ok := bughouse.ParseSeat(req.Seat)
	if !ok {
		r.sendError(c, env.Type, bughouse.Malformed(bughouse.ReasonBadSeat))
		return
	}
	res, err := r.session.ClaimSeat(seat, bughouse.Participant{ConnID: c.id, Name: req.Name})
	if err != nil {
		rej := asReject(err)
		obslog.L().Info("seat_claim_rejected",
			zap.String("session", r.session.Name()),
			zap.String("seat", string(seat)),
			zap.String("conn_id", c.id),
			zap.String("reason", rej.Reason),
		)
		r.sendError(c, env.Type, rej)
		return
	}

	r.sendTo(c, bughousedto.EventNameChangeConfirmed, bughousedto.NameChangeConfirmed{Seat: string(res.Seat), Name: res.Name})
	msg := bughousedto.PlayerNameChanged{Seat: string(res.Seat), Name: res.Name}
	r.broadcast(bughousedto.EventPlayerNameChanged, msg, c)
	r.hub.mirror.publish(r.session.Name(), bughousedto.EventPlayerNameChanged, msg)
	r.hub.mirror.touch(r.session.Name(), time.Now())
	obslog.L().Info("seat_claimed",
		zap.String("session", r.session.Name()),
		zap.String("seat", string(res.Seat)),
		zap.String("conn_id", c.id),
		zap.Bool("renamed", res.Renamed),
	)
}

func (r *Room) handleMove(c *Client, env bughousedto.Envelope) {
	var req bughousedto.MoveRequest
	if err := env.Decode(&req); err != nil {
		r.rejectMove(c, 0, bughouse.Malformed(bughouse.ReasonBadMove))
		return
	}
	board := bughouse.BoardID(req.Board)
	if !board.Valid() {
		r.rejectMove(c, board, bughouse.Malformed(bughouse.ReasonBadBoard))
		return
	}
	// seat authority is checked here before the session sees the proposal
	seat, ok := r.session.SeatOf(c.id)
	if !ok {
		r.rejectMove(c, board, bughouse.IllegalMove(bughouse.ReasonSeatUnclaimed, nil))
		return
	}
	if seat.Board() != board {
		r.rejectMove(c, board, bughouse.IllegalMove(bughouse.ReasonWrongBoard, nil))
		return
	}

	res, err := r.session.SubmitMove(seat, bughouse.MoveProposal{
		Board:     board,
		Text:      req.Move.Text,
		From:      req.Move.From,
		To:        req.Move.To,
		Promotion: req.Move.Promotion,
	})
	if err != nil {
		r.rejectMove(c, board, asReject(err))
		return
	}

	obslog.L().Info("move_applied",
		zap.String("session", r.session.Name()),
		zap.String("seat", string(seat)),
		zap.Int("board", int(board)),
		zap.String("uci", res.UCI),
		zap.String("fen", res.FEN),
		zap.String("captured", string(res.Captured)),
	)

	changed := gameChangedPayload(res)
	r.broadcast(bughousedto.EventGameChanged, changed, c)
	r.hub.mirror.publish(r.session.Name(), bughousedto.EventGameChanged, changed)
	if res.HasCapture() {
		captured := pieceCapturedPayload(res)
		r.broadcast(bughousedto.EventPieceCaptured, captured, nil)
		r.hub.mirror.publish(r.session.Name(), bughousedto.EventPieceCaptured, captured)
	}
	r.hub.mirror.touch(r.session.Name(), time.Now())

	if res.Summary != nil {
		obslog.L().Info("board_finished",
			zap.String("session", r.session.Name()),
			zap.Int("board", int(board)),
			zap.String("result", res.Summary.Result),
			zap.String("method", res.Summary.Method),
			zap.Bool("match_over", res.MatchOver),
		)
		r.hub.mirror.archiveBoard(*res.Summary)
	}
}

func (r *Room) rejectMove(c *Client, board bughouse.BoardID, rej *bughouse.Reject) {
	msg := bughousedto.MoveRejected{
		Board:   int(board),
		Code:    string(rej.Code),
		Reason:  rej.Reason,
		Message: r.hub.rejectText(rej, board, c, r.session),
	}
	if board.Valid() {
		msg.FEN = r.session.FEN(board)
	}
	obslog.L().Debug("move_rejected",
		zap.String("session", r.session.Name()),
		zap.String("conn_id", c.id),
		zap.Int("board", int(board)),
		zap.String("reason", rej.Reason),
	)
	r.sendTo(c, bughousedto.EventMoveRejected, msg)
}

func (r *Room) sendError(c *Client, event string, rej *bughouse.Reject) {
	r.sendTo(c, bughousedto.EventError, bughousedto.Error{
		Event:   event,
		Code:    string(rej.Code),
		Reason:  rej.Reason,
		Message: r.hub.rejectText(rej, 0, c, r.session),
	})
}

func (r *Room) sendTo(c *Client, eventType string, payload any) {
	data, err := encodeEnvelope(eventType, payload)
	if err != nil {
		obslog.L().Error("encode_event_failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	r.deliver(c, data)
}

// broadcast sends to every client except skip (nil sends to all).
func (r *Room) broadcast(eventType string, payload any, skip *Client) {
	data, err := encodeEnvelope(eventType, payload)
	if err != nil {
		obslog.L().Error("encode_event_failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	for _, c := range r.clients {
		if c == skip {
			continue
		}
		r.deliver(c, data)
	}
}

// deliver never blocks; a client whose buffer is full is disconnected
// rather than silently missing state.
func (r *Room) deliver(c *Client, data []byte) {
	if c.detached {
		return
	}
	select {
	case c.send <- data:
	default:
		obslog.L().Warn("ws_slow_consumer", zap.String("session", r.session.Name()), zap.String("conn_id", c.id))
		r.detach(c)
		go func() { _ = c.conn.Close(websocket.StatusPolicyViolation, "slow consumer") }()
	}
}

func (r *Room) detach(c *Client) {
	if c.detached {
		return
	}
	c.detached = true
	delete(r.clients, c.id)
	close(c.send)
}

func (r *Room) closeAll() {
	for _, c := range r.clients {
		r.detach(c)
		go func(c *Client) { _ = c.conn.Close(websocket.StatusGoingAway, "server shutting down") }(c)
	}
}
