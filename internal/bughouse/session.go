package bughouse

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/park285/bughouse-server/internal/rules"
)

const maxPlayerName = 32

// Options tune match behaviour shared by every session of a directory.
type Options struct {
	// EndMatchOnFirstTerminal refuses moves on both boards once either board is over.
	EndMatchOnFirstTerminal bool
	Rules                   Rules
	Now                     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Rules == nil {
		o.Rules = rules.NewEngine()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session is the unit of isolation: four seats, two boards, four hand pools.
// Every method is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	name   string
	opts   Options
	seats  *seatRegistry
	boards [2]*board
	hands  *hands

	createdAt time.Time
	updatedAt time.Time
}

func NewSession(name string, opts Options) *Session {
	opts = opts.withDefaults()
	now := opts.Now()
	return &Session{
		name:      name,
		opts:      opts,
		seats:     newSeatRegistry(),
		boards:    [2]*board{newBoard(Board1, now), newBoard(Board2, now)},
		hands:     newHands(),
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) Name() string { return s.name }

func (s *Session) board(id BoardID) *board { return s.boards[int(id)-1] }

// Snapshot is everything a newly joined viewer needs.
type Snapshot struct {
	Name      string
	FEN1      string
	FEN2      string
	Turn1     rules.Color
	Turn2     rules.Color
	Players   map[Seat]string
	Hands     HandsSnapshot
	Terminal1 rules.Terminal
	Terminal2 rules.Terminal
	MatchOver bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Join returns the current state without side effects.
func (s *Session) Join() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	b1, b2 := s.board(Board1), s.board(Board2)
	return Snapshot{
		Name:      s.name,
		FEN1:      b1.pos.FEN(),
		FEN2:      b2.pos.FEN(),
		Turn1:     b1.pos.Turn(),
		Turn2:     b2.pos.Turn(),
		Players:   s.seats.names(),
		Hands:     s.hands.snapshot(),
		Terminal1: b1.terminal,
		Terminal2: b2.terminal,
		MatchOver: s.matchOverLocked(),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// FEN returns the authoritative position of one board.
func (s *Session) FEN(id BoardID) string {
	if !id.Valid() {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board(id).pos.FEN()
}

// ClaimResult describes an accepted claim.
type ClaimResult struct {
	Seat    Seat
	Name    string
	Renamed bool
}

// ClaimSeat seats p, first come first served. The current holder of a seat
// may re-claim it to change the display name.
func (s *Session) ClaimSeat(seat Seat, p Participant) (ClaimResult, error) {
	if !seat.Valid() {
		return ClaimResult{}, Malformed(ReasonBadSeat)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" || utf8.RuneCountInString(name) > maxPlayerName {
		return ClaimResult{}, Malformed(ReasonBadName)
	}
	p.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	renamed, err := s.seats.claim(seat, p)
	if err != nil {
		if errors.Is(err, ErrAlreadySeated) {
			return ClaimResult{}, reject(CodeSeatConflict, ReasonAlreadySeated, err)
		}
		return ClaimResult{}, reject(CodeSeatConflict, ReasonSeatTaken, err)
	}
	s.updatedAt = s.opts.Now()
	return ClaimResult{Seat: seat, Name: name, Renamed: renamed}, nil
}

func (s *Session) OccupantOf(seat Seat) (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seats.occupantOf(seat)
}

// SeatOf returns the seat held by a connection, if any.
func (s *Session) SeatOf(connID string) (Seat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seats.seatOf(connID)
}

// Release frees a seat unconditionally.
func (s *Session) Release(seat Seat) (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.seats.release(seat)
	if ok {
		s.updatedAt = s.opts.Now()
	}
	return p, ok
}

// ReleaseConn frees whatever seat connID holds.
func (s *Session) ReleaseConn(connID string) (Seat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.seats.seatOf(connID)
	if !ok {
		return "", false
	}
	s.seats.release(seat)
	s.updatedAt = s.opts.Now()
	return seat, true
}

// MoveResult is what the session reports after a legal move.
type MoveResult struct {
	Board     BoardID
	Seat      Seat
	UCI       string
	SAN       string
	FEN       string
	Terminal  rules.Terminal
	Captured  rules.PieceKind
	HandKey   HandKey
	Hands     HandsSnapshot
	MatchOver bool
	// Summary is set when this move finished the board.
	Summary *BoardSummary
}

func (r MoveResult) HasCapture() bool { return r.Captured != "" }

// SubmitMove applies prop on behalf of seat. Every rejection leaves the
// session unchanged.
func (s *Session) SubmitMove(seat Seat, prop MoveProposal) (MoveResult, error) {
	if !seat.Valid() {
		return MoveResult{}, IllegalMove(ReasonSeatUnclaimed, nil)
	}
	if !prop.Board.Valid() {
		return MoveResult{}, Malformed(ReasonBadBoard)
	}
	move, err := prop.Notation()
	if err != nil {
		return MoveResult{}, Malformed(ReasonBadMove)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seats.occupantOf(seat); !ok {
		return MoveResult{}, IllegalMove(ReasonSeatUnclaimed, nil)
	}
	if seat.Board() != prop.Board {
		return MoveResult{}, IllegalMove(ReasonWrongBoard, nil)
	}
	b := s.board(prop.Board)
	if !b.active() {
		return MoveResult{}, IllegalMove(ReasonBoardOver, nil)
	}
	if s.matchOverLocked() {
		return MoveResult{}, IllegalMove(ReasonMatchOver, nil)
	}
	if b.pos.Turn() != seat.Color() {
		return MoveResult{}, IllegalMove(ReasonWrongTurn, nil)
	}

	now := s.opts.Now()
	applied, rej := b.apply(s.opts.Rules, move, now)
	if rej != nil {
		return MoveResult{}, rej
	}
	s.updatedAt = now

	res := MoveResult{
		Board:    prop.Board,
		Seat:     seat,
		UCI:      applied.UCI,
		SAN:      applied.SAN,
		FEN:      applied.FEN,
		Terminal: b.terminal,
		Captured: applied.Captured,
	}
	if applied.Captured != "" {
		res.HandKey = HandKey{Board: prop.Board, Color: applied.Mover}
		snap, herr := s.hands.record(prop.Board, applied.Mover, applied.Captured)
		if herr != nil {
			// the engine never reports a king capture; keep the move and skip the pool
			res.Captured = ""
			snap = s.hands.snapshot()
		}
		res.Hands = snap
	} else {
		res.Hands = s.hands.snapshot()
	}
	res.MatchOver = s.matchOverLocked()
	if b.terminal != rules.TerminalNone {
		sum := s.summaryLocked(b)
		res.Summary = &sum
	}
	return res, nil
}

func (s *Session) matchOverLocked() bool {
	if !s.opts.EndMatchOnFirstTerminal {
		return false
	}
	return !s.boards[0].active() || !s.boards[1].active()
}

// BoardSummary is a finished (or in-progress) board ready for archiving.
type BoardSummary struct {
	Session    string
	Board      BoardID
	WhiteName  string
	BlackName  string
	MovesUCI   []string
	MovesSAN   []string
	FEN        string
	Result     string
	Method     string
	Terminal   rules.Terminal
	StartedAt  time.Time
	FinishedAt time.Time
}

// Summary describes one board in its current state.
func (s *Session) Summary(id BoardID) (BoardSummary, bool) {
	if !id.Valid() {
		return BoardSummary{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked(s.board(id)), true
}

func (s *Session) summaryLocked(b *board) BoardSummary {
	white, _ := s.seats.occupantOf(SeatFor(b.id, rules.White))
	black, _ := s.seats.occupantOf(SeatFor(b.id, rules.Black))
	return BoardSummary{
		Session:    s.name,
		Board:      b.id,
		WhiteName:  white.Name,
		BlackName:  black.Name,
		MovesUCI:   b.pos.MovesUCI(),
		MovesSAN:   b.pos.MovesSAN(),
		FEN:        b.pos.FEN(),
		Result:     b.pos.Outcome(),
		Method:     b.pos.Method(),
		Terminal:   b.terminal,
		StartedAt:  b.startedAt,
		FinishedAt: b.finishedAt,
	}
}
