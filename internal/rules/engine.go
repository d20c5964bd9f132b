// Package rules adapts corentings/chess to the narrow contract the bughouse
// coordinator needs: validate-and-apply a move on one board and report
// whether that board has reached a terminal position.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrGameOver    = errors.New("game already over")
	ErrEmptyMove   = errors.New("empty move")
)

// Color identifies a side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Short returns the single-letter form used in FEN ("w"/"b").
func (c Color) Short() string {
	if c == White {
		return "w"
	}
	return "b"
}

// PieceKind is the lowercase FEN letter of a piece type.
type PieceKind string

const (
	Pawn   PieceKind = "p"
	Knight PieceKind = "n"
	Bishop PieceKind = "b"
	Rook   PieceKind = "r"
	Queen  PieceKind = "q"
	King   PieceKind = "k"
)

// Droppable reports whether the kind may sit in a hand (everything but the king).
func (k PieceKind) Droppable() bool {
	switch k {
	case Pawn, Knight, Bishop, Rook, Queen:
		return true
	default:
		return false
	}
}

// Terminal describes why a board stopped accepting moves.
type Terminal string

const (
	TerminalNone      Terminal = ""
	TerminalCheckmate Terminal = "checkmate"
	TerminalOther     Terminal = "other"
)

// Position is the mutable per-board state owned by one board.
type Position struct {
	game *nchess.Game
	// squares currently holding a piece that reached the board by promotion
	promoted map[nchess.Square]bool
}

func NewPosition() *Position {
	return &Position{game: nchess.NewGame(), promoted: map[nchess.Square]bool{}}
}

// PositionFromFEN starts a board from an arbitrary position.
func PositionFromFEN(fen string) (*Position, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return &Position{game: nchess.NewGame(opt), promoted: map[nchess.Square]bool{}}, nil
}

func (p *Position) FEN() string { return p.game.FEN() }

func (p *Position) Turn() Color { return colorFrom(p.game.Position().Turn()) }

// MovesUCI lists the applied moves in long algebraic form.
func (p *Position) MovesUCI() []string {
	moves := p.game.Moves()
	out := make([]string, len(moves))
	for i, mv := range moves {
		out[i] = mv.String()
	}
	return out
}

// MovesSAN lists the applied moves in standard algebraic notation.
func (p *Position) MovesSAN() []string {
	moves := p.game.Moves()
	positions := p.game.Positions()
	notation := nchess.AlgebraicNotation{}
	out := make([]string, len(moves))
	for i, mv := range moves {
		if i < len(positions) {
			out[i] = notation.Encode(positions[i], mv)
		}
	}
	return out
}

// Outcome returns the PGN result token ("1-0", "0-1", "1/2-1/2", "*").
func (p *Position) Outcome() string { return string(p.game.Outcome()) }

// Method returns the lowercase termination method, empty while active.
func (p *Position) Method() string {
	if p.game.Outcome() == nchess.NoOutcome {
		return ""
	}
	return strings.ToLower(p.game.Method().String())
}

// Applied is the normalized result of one legal move.
type Applied struct {
	UCI       string
	SAN       string
	Mover     Color
	Captured  PieceKind // empty when nothing was taken; promoted pieces count as pawns
	Promotion PieceKind
	FEN       string
	Terminal  Terminal
}

// Engine is the standard-chess rules adapter.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// ValidateAndApply applies move (UCI preferred, SAN fallback) to pos. On any
// error pos is left untouched.
func (e *Engine) ValidateAndApply(pos *Position, move string) (Applied, error) {
	if pos == nil {
		return Applied{}, fmt.Errorf("nil position")
	}
	if e.IsTerminal(pos) != TerminalNone {
		return Applied{}, ErrGameOver
	}
	raw := strings.TrimSpace(move)
	if raw == "" {
		return Applied{}, ErrEmptyMove
	}

	before := pos.game.Position()
	mover := colorFrom(before.Turn())
	if err := pushMove(pos.game, raw); err != nil {
		return Applied{}, err
	}
	moves := pos.game.Moves()
	mv := moves[len(moves)-1]

	applied := Applied{
		UCI:      mv.String(),
		SAN:      nchess.AlgebraicNotation{}.Encode(before, mv),
		Mover:    mover,
		FEN:      pos.game.FEN(),
		Terminal: e.IsTerminal(pos),
	}
	applied.Captured = pos.trackCapture(before, mv)
	if promo := mv.Promo(); promo != nchess.NoPieceType {
		applied.Promotion = kindFrom(promo)
	}
	return applied, nil
}

// IsTerminal maps the game outcome onto the board state machine.
func (e *Engine) IsTerminal(pos *Position) Terminal {
	if pos == nil || pos.game.Outcome() == nchess.NoOutcome {
		return TerminalNone
	}
	if pos.game.Method() == nchess.Checkmate {
		return TerminalCheckmate
	}
	return TerminalOther
}

func pushMove(game *nchess.Game, raw string) error {
	uci := strings.ToLower(raw)
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err == nil {
		return nil
	}
	// clients that always drag to the last rank without choosing get a queen
	if len(uci) == 4 {
		if err := game.PushNotationMove(uci+"q", nchess.UCINotation{}, nil); err == nil {
			return nil
		}
	}
	if err := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, raw)
	}
	return nil
}

// trackCapture returns the captured kind for hand bookkeeping and keeps the
// promoted-square set in step with the move.
func (p *Position) trackCapture(before *nchess.Position, mv *nchess.Move) PieceKind {
	var captured PieceKind
	if mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant) {
		sq := mv.S2()
		if mv.HasTag(nchess.EnPassant) {
			if before.Turn() == nchess.White {
				sq = nchess.NewSquare(mv.S2().File(), mv.S2().Rank()-1)
			} else {
				sq = nchess.NewSquare(mv.S2().File(), mv.S2().Rank()+1)
			}
		}
		if piece := before.Board().Piece(sq); piece != nchess.NoPiece && piece.Type() != nchess.King {
			captured = kindFrom(piece.Type())
			if p.promoted[sq] {
				captured = Pawn
			}
		}
		delete(p.promoted, sq)
	}
	if p.promoted[mv.S1()] {
		delete(p.promoted, mv.S1())
		p.promoted[mv.S2()] = true
	}
	if mv.Promo() != nchess.NoPieceType {
		p.promoted[mv.S2()] = true
	}
	return captured
}

// BoardFromFEN parses a FEN for read-only consumers such as the renderer.
func BoardFromFEN(fen string) (*nchess.Board, error) {
	pos, err := PositionFromFEN(fen)
	if err != nil {
		return nil, err
	}
	return pos.game.Position().Board(), nil
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}

func kindFrom(pt nchess.PieceType) PieceKind {
	switch pt {
	case nchess.Pawn:
		return Pawn
	case nchess.Knight:
		return Knight
	case nchess.Bishop:
		return Bishop
	case nchess.Rook:
		return Rook
	case nchess.Queen:
		return Queen
	case nchess.King:
		return King
	default:
		return ""
	}
}
