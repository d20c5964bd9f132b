package bughouse

import (
	"strings"

	"github.com/park285/bughouse-server/internal/rules"
)

// BoardID numbers the two boards of a session.
type BoardID int

const (
	Board1 BoardID = 1
	Board2 BoardID = 2
)

func (b BoardID) Valid() bool { return b == Board1 || b == Board2 }

// Other returns the partner board.
func (b BoardID) Other() BoardID {
	if b == Board1 {
		return Board2
	}
	return Board1
}

// Seat is one of the four (board, color) positions in a session.
type Seat string

const (
	Board1White Seat = "board1w"
	Board1Black Seat = "board1b"
	Board2White Seat = "board2w"
	Board2Black Seat = "board2b"
)

// Seats lists every seat in wire order.
var Seats = [4]Seat{Board1White, Board1Black, Board2White, Board2Black}

// ParseSeat accepts the wire id, case-insensitively.
func ParseSeat(s string) (Seat, bool) {
	seat := Seat(strings.ToLower(strings.TrimSpace(s)))
	if !seat.Valid() {
		return "", false
	}
	return seat, true
}

func (s Seat) Valid() bool {
	switch s {
	case Board1White, Board1Black, Board2White, Board2Black:
		return true
	default:
		return false
	}
}

func (s Seat) Board() BoardID {
	if s == Board2White || s == Board2Black {
		return Board2
	}
	return Board1
}

func (s Seat) Color() rules.Color {
	if s == Board1Black || s == Board2Black {
		return rules.Black
	}
	return rules.White
}

// Partner is the teammate seat: same team, other board, opposite color.
func (s Seat) Partner() Seat {
	return SeatFor(s.Board().Other(), s.Color().Opponent())
}

func SeatFor(board BoardID, color rules.Color) Seat {
	switch {
	case board == Board1 && color == rules.White:
		return Board1White
	case board == Board1:
		return Board1Black
	case color == rules.White:
		return Board2White
	default:
		return Board2Black
	}
}

// Participant is whoever currently sits in a seat.
type Participant struct {
	ConnID string
	Name   string
}

// seatRegistry maps each seat to at most one participant. Callers hold the
// session lock.
type seatRegistry struct {
	occupants map[Seat]Participant
}

func newSeatRegistry() *seatRegistry {
	return &seatRegistry{occupants: make(map[Seat]Participant, len(Seats))}
}

// claim is first-come: an occupied seat rejects everyone but its holder,
// who may update the display name.
func (r *seatRegistry) claim(seat Seat, p Participant) (renamed bool, err error) {
	if cur, ok := r.occupants[seat]; ok {
		if cur.ConnID != p.ConnID {
			return false, ErrSeatConflict
		}
		r.occupants[seat] = p
		return true, nil
	}
	if held, ok := r.seatOf(p.ConnID); ok && held != seat {
		return false, ErrAlreadySeated
	}
	r.occupants[seat] = p
	return false, nil
}

func (r *seatRegistry) occupantOf(seat Seat) (Participant, bool) {
	p, ok := r.occupants[seat]
	return p, ok
}

func (r *seatRegistry) release(seat Seat) (Participant, bool) {
	p, ok := r.occupants[seat]
	if ok {
		delete(r.occupants, seat)
	}
	return p, ok
}

func (r *seatRegistry) seatOf(connID string) (Seat, bool) {
	if connID == "" {
		return "", false
	}
	for _, seat := range Seats {
		if p, ok := r.occupants[seat]; ok && p.ConnID == connID {
			return seat, true
		}
	}
	return "", false
}

func (r *seatRegistry) names() map[Seat]string {
	out := make(map[Seat]string, len(r.occupants))
	for seat, p := range r.occupants {
		out[seat] = p.Name
	}
	return out
}
