package rules

import (
	"errors"
	"testing"
)

func play(t *testing.T, e *Engine, pos *Position, moves ...string) []Applied {
	t.Helper()
	out := make([]Applied, 0, len(moves))
	for _, mv := range moves {
		a, err := e.ValidateAndApply(pos, mv)
		if err != nil {
			t.Fatalf("ValidateAndApply(%s): %v", mv, err)
		}
		out = append(out, a)
	}
	return out
}

func TestApplyUCIAndSAN(t *testing.T) {
	e := NewEngine()
	pos := NewPosition()

	applied := play(t, e, pos, "e2e4", "Nc6")
	if applied[0].UCI != "e2e4" || applied[0].Mover != White {
		t.Fatalf("unexpected first move: %+v", applied[0])
	}
	if applied[1].UCI != "b8c6" || applied[1].SAN != "Nc6" || applied[1].Mover != Black {
		t.Fatalf("unexpected SAN move: %+v", applied[1])
	}
	if pos.Turn() != White {
		t.Fatalf("expected white to move, got %s", pos.Turn())
	}
	if got := pos.MovesUCI(); len(got) != 2 || got[1] != "b8c6" {
		t.Fatalf("unexpected move list %v", got)
	}
}

func TestIllegalMoveLeavesPositionUntouched(t *testing.T) {
	e := NewEngine()
	pos := NewPosition()
	fen := pos.FEN()

	for _, mv := range []string{"e2e5", "e7e5", "Qh5", "nonsense"} {
		if _, err := e.ValidateAndApply(pos, mv); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("%s: expected ErrIllegalMove, got %v", mv, err)
		}
	}
	if _, err := e.ValidateAndApply(pos, "   "); !errors.Is(err, ErrEmptyMove) {
		t.Fatalf("expected ErrEmptyMove, got %v", err)
	}
	if pos.FEN() != fen {
		t.Fatalf("position changed after illegal moves: %s", pos.FEN())
	}
}

func TestCaptureReportsKind(t *testing.T) {
	e := NewEngine()
	pos := NewPosition()
	applied := play(t, e, pos, "e2e4", "d7d5", "e4d5")
	if applied[0].Captured != "" || applied[1].Captured != "" {
		t.Fatalf("unexpected capture on quiet moves")
	}
	if applied[2].Captured != Pawn || applied[2].Mover != White {
		t.Fatalf("expected white to capture a pawn, got %+v", applied[2])
	}
}

func TestEnPassantCapture(t *testing.T) {
	e := NewEngine()
	pos := NewPosition()
	applied := play(t, e, pos, "e2e4", "a7a6", "e4e5", "d7d5", "e5d6")
	last := applied[len(applied)-1]
	if last.Captured != Pawn {
		t.Fatalf("expected en passant pawn capture, got %+v", last)
	}
}

func TestPromotedPieceCapturedAsPawn(t *testing.T) {
	e := NewEngine()
	pos := NewPosition()
	applied := play(t, e, pos,
		"a2a4", "b7b5", "a4b5", "a7a6", "b5a6", "c8b7", "a6b7", "b8c6", "b7a8q", "d8a8")

	promo := applied[8]
	if promo.Promotion != Queen || promo.Captured != Rook {
		t.Fatalf("unexpected promotion move: %+v", promo)
	}
	last := applied[9]
	if last.Captured != Pawn {
		t.Fatalf("captured promoted queen should count as pawn, got %q", last.Captured)
	}
}

func TestCheckmateIsTerminal(t *testing.T) {
	e := NewEngine()
	pos := NewPosition()
	applied := play(t, e, pos, "f2f3", "e7e5", "g2g4", "d8h4")
	if applied[3].Terminal != TerminalCheckmate {
		t.Fatalf("expected checkmate, got %q", applied[3].Terminal)
	}
	if e.IsTerminal(pos) != TerminalCheckmate {
		t.Fatalf("IsTerminal disagrees")
	}
	if pos.Outcome() != "0-1" {
		t.Fatalf("unexpected outcome %s", pos.Outcome())
	}
	if _, err := e.ValidateAndApply(pos, "a2a3"); !errors.Is(err, ErrGameOver) {
		t.Fatalf("expected ErrGameOver, got %v", err)
	}
}

func TestPieceKindDroppable(t *testing.T) {
	for _, k := range []PieceKind{Pawn, Knight, Bishop, Rook, Queen} {
		if !k.Droppable() {
			t.Fatalf("%s should be droppable", k)
		}
	}
	if King.Droppable() || PieceKind("x").Droppable() {
		t.Fatalf("king and unknown kinds are not droppable")
	}
}
