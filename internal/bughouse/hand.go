package bughouse

import (
	"fmt"

	"github.com/park285/bughouse-server/internal/rules"
)

// HandKey identifies a pool by the board and color that made the capture.
type HandKey struct {
	Board BoardID
	Color rules.Color
}

// HandKeys lists the four pools in wire order.
var HandKeys = [4]HandKey{
	{Board1, rules.White}, {Board1, rules.Black},
	{Board2, rules.White}, {Board2, rules.Black},
}

// WireKey is the JSON field name, e.g. "board1WhiteHand".
func (k HandKey) WireKey() string {
	color := "White"
	if k.Color == rules.Black {
		color = "Black"
	}
	return fmt.Sprintf("board%d%sHand", int(k.Board), color)
}

// Recipient is the seat that may drop pieces from this pool.
func (k HandKey) Recipient() Seat {
	return SeatFor(k.Board, k.Color).Partner()
}

// HandsSnapshot maps every pool's wire key to its pieces in capture order.
// All four keys are always present.
type HandsSnapshot map[string][]string

// hands holds the four pools. Pools only grow. Callers hold the session lock.
type hands struct {
	pools map[HandKey][]rules.PieceKind
}

func newHands() *hands {
	return &hands{pools: make(map[HandKey][]rules.PieceKind, len(HandKeys))}
}

// record appends kind to the pool of (board, capturer) and returns the new state.
func (h *hands) record(board BoardID, capturer rules.Color, kind rules.PieceKind) (HandsSnapshot, error) {
	if !kind.Droppable() {
		return nil, fmt.Errorf("piece kind %q cannot enter a hand", kind)
	}
	key := HandKey{Board: board, Color: capturer}
	h.pools[key] = append(h.pools[key], kind)
	return h.snapshot(), nil
}

func (h *hands) snapshot() HandsSnapshot {
	out := make(HandsSnapshot, len(HandKeys))
	for _, key := range HandKeys {
		pool := h.pools[key]
		pieces := make([]string, len(pool))
		for i, k := range pool {
			pieces[i] = string(k)
		}
		out[key.WireKey()] = pieces
	}
	return out
}
