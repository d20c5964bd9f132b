package bughouse

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/park285/bughouse-server/internal/rules"
)

func seatAll(t *testing.T, s *Session) {
	t.Helper()
	for i, seat := range Seats {
		p := Participant{ConnID: fmt.Sprintf("c%d", i), Name: fmt.Sprintf("p%d", i)}
		if _, err := s.ClaimSeat(seat, p); err != nil {
			t.Fatalf("ClaimSeat(%s): %v", seat, err)
		}
	}
}

func mustMove(t *testing.T, s *Session, seat Seat, move string) MoveResult {
	t.Helper()
	res, err := s.SubmitMove(seat, MoveProposal{Board: seat.Board(), Text: move})
	if err != nil {
		t.Fatalf("SubmitMove(%s, %s): %v", seat, move, err)
	}
	return res
}

func expectReject(t *testing.T, err error, code Code, reason string) {
	t.Helper()
	var rej *Reject
	if !errors.As(err, &rej) {
		t.Fatalf("expected *Reject, got %v", err)
	}
	if rej.Code != code || rej.Reason != reason {
		t.Fatalf("expected %s/%s, got %s/%s", code, reason, rej.Code, rej.Reason)
	}
}

func TestScenarioAlpha(t *testing.T) {
	s := NewSession("alpha", Options{EndMatchOnFirstTerminal: true})
	if _, err := s.ClaimSeat(Board1White, Participant{ConnID: "a", Name: "Ann"}); err != nil {
		t.Fatalf("claim white: %v", err)
	}
	if _, err := s.ClaimSeat(Board1Black, Participant{ConnID: "b", Name: "Bob"}); err != nil {
		t.Fatalf("claim black: %v", err)
	}
	before2 := s.FEN(Board2)

	r1 := mustMove(t, s, Board1White, "e2e4")
	if r1.HasCapture() || r1.Terminal != rules.TerminalNone {
		t.Fatalf("unexpected result %+v", r1)
	}
	mustMove(t, s, Board1Black, "d7d5")
	r3 := mustMove(t, s, Board1White, "e4d5")
	if r3.Captured != rules.Pawn {
		t.Fatalf("expected pawn capture, got %q", r3.Captured)
	}
	if r3.HandKey != (HandKey{Board: Board1, Color: rules.White}) {
		t.Fatalf("unexpected hand key %+v", r3.HandKey)
	}
	if got := r3.Hands["board1WhiteHand"]; len(got) != 1 || got[0] != "p" {
		t.Fatalf("unexpected board1 white hand %v", got)
	}
	for _, k := range []string{"board1BlackHand", "board2WhiteHand", "board2BlackHand"} {
		if pool, ok := r3.Hands[k]; !ok || len(pool) != 0 {
			t.Fatalf("pool %s should exist and be empty, got %v", k, pool)
		}
	}
	if s.FEN(Board2) != before2 {
		t.Fatalf("board 2 changed after board 1 moves")
	}
	if r3.HandKey.Recipient() != Board2Black {
		t.Fatalf("board1 white captures feed board2 black, got %s", r3.HandKey.Recipient())
	}
}

func TestIllegalMovesDoNotMutate(t *testing.T) {
	s := NewSession("illegal", Options{})
	seatAll(t, s)
	snap := s.Join()

	cases := []struct {
		name   string
		seat   Seat
		prop   MoveProposal
		code   Code
		reason string
	}{
		{"rules", Board1White, MoveProposal{Board: Board1, Text: "e2e5"}, CodeIllegalMove, ReasonRules},
		{"wrong turn", Board1Black, MoveProposal{Board: Board1, Text: "e7e5"}, CodeIllegalMove, ReasonWrongTurn},
		{"wrong board", Board1White, MoveProposal{Board: Board2, Text: "e2e4"}, CodeIllegalMove, ReasonWrongBoard},
		{"bad board", Board1White, MoveProposal{Board: 3, Text: "e2e4"}, CodeMalformedProposal, ReasonBadBoard},
		{"empty", Board1White, MoveProposal{Board: Board1}, CodeMalformedProposal, ReasonBadMove},
		{"bad squares", Board1White, MoveProposal{Board: Board1, From: "z9", To: "e4"}, CodeMalformedProposal, ReasonBadMove},
		{"bad promotion", Board1White, MoveProposal{Board: Board1, From: "e2", To: "e4", Promotion: "k"}, CodeMalformedProposal, ReasonBadMove},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.SubmitMove(tc.seat, tc.prop)
			expectReject(t, err, tc.code, tc.reason)
		})
	}

	after := s.Join()
	if after.FEN1 != snap.FEN1 || after.FEN2 != snap.FEN2 {
		t.Fatalf("illegal proposals mutated the boards")
	}
}

func TestUnclaimedSeatCannotMove(t *testing.T) {
	s := NewSession("empty", Options{})
	_, err := s.SubmitMove(Board1White, MoveProposal{Board: Board1, Text: "e2e4"})
	expectReject(t, err, CodeIllegalMove, ReasonSeatUnclaimed)
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("reject should wrap ErrIllegalMove")
	}
}

func TestFromToProposal(t *testing.T) {
	s := NewSession("squares", Options{})
	seatAll(t, s)
	res, err := s.SubmitMove(Board2White, MoveProposal{Board: Board2, From: "G1", To: "f3"})
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if res.UCI != "g1f3" || res.SAN != "Nf3" {
		t.Fatalf("unexpected move %s/%s", res.UCI, res.SAN)
	}
}

func TestBoardsAreIndependent(t *testing.T) {
	s := NewSession("indep", Options{})
	seatAll(t, s)
	mustMove(t, s, Board1White, "e2e4")
	// board 2 still has white to move
	mustMove(t, s, Board2White, "d2d4")
	mustMove(t, s, Board2Black, "d7d5")
	snap := s.Join()
	if snap.Turn1 != rules.Black || snap.Turn2 != rules.White {
		t.Fatalf("turns leaked across boards: %s %s", snap.Turn1, snap.Turn2)
	}
	if snap.FEN1 == snap.FEN2 {
		t.Fatalf("boards share a position")
	}
}

func TestBoard2CaptureFeedsBoard1(t *testing.T) {
	s := NewSession("b2", Options{})
	seatAll(t, s)
	mustMove(t, s, Board2White, "e2e4")
	mustMove(t, s, Board2Black, "d7d5")
	mustMove(t, s, Board2White, "b1c3")
	res := mustMove(t, s, Board2Black, "d5e4")
	if got := res.Hands["board2BlackHand"]; len(got) != 1 || got[0] != "p" {
		t.Fatalf("unexpected board2 black hand %v", got)
	}
	if res.HandKey.Recipient() != Board1White {
		t.Fatalf("board2 black captures feed board1 white, got %s", res.HandKey.Recipient())
	}
	mustMove(t, s, Board2White, "c3e4")
	snap := s.Join()
	if got := snap.Hands["board2WhiteHand"]; len(got) != 1 || got[0] != "p" {
		t.Fatalf("unexpected board2 white hand %v", got)
	}
}

func TestCheckmateEndsBoardAndMatch(t *testing.T) {
	s := NewSession("mate", Options{EndMatchOnFirstTerminal: true})
	seatAll(t, s)
	mustMove(t, s, Board1White, "f2f3")
	mustMove(t, s, Board1Black, "e7e5")
	mustMove(t, s, Board1White, "g2g4")
	res := mustMove(t, s, Board1Black, "d8h4")
	if res.Terminal != rules.TerminalCheckmate || !res.MatchOver {
		t.Fatalf("expected checkmate ending the match, got %+v", res)
	}
	if res.Summary == nil || res.Summary.Result != "0-1" || res.Summary.Method != "checkmate" {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	if res.Summary.WhiteName != "p0" || res.Summary.BlackName != "p1" || len(res.Summary.MovesSAN) != 4 {
		t.Fatalf("unexpected summary players/moves %+v", res.Summary)
	}

	_, err := s.SubmitMove(Board1White, MoveProposal{Board: Board1, Text: "a2a3"})
	expectReject(t, err, CodeIllegalMove, ReasonBoardOver)
	_, err = s.SubmitMove(Board2White, MoveProposal{Board: Board2, Text: "e2e4"})
	expectReject(t, err, CodeIllegalMove, ReasonMatchOver)

	snap := s.Join()
	if snap.Terminal1 != rules.TerminalCheckmate || snap.Terminal2 != rules.TerminalNone || !snap.MatchOver {
		t.Fatalf("unexpected snapshot terminal state %+v", snap)
	}
}

func TestOtherBoardContinuesWhenMatchNotEnded(t *testing.T) {
	s := NewSession("mate2", Options{EndMatchOnFirstTerminal: false})
	seatAll(t, s)
	for _, mv := range []struct {
		seat Seat
		move string
	}{{Board1White, "f2f3"}, {Board1Black, "e7e5"}, {Board1White, "g2g4"}, {Board1Black, "d8h4"}} {
		mustMove(t, s, mv.seat, mv.move)
	}
	res := mustMove(t, s, Board2White, "e2e4")
	if res.MatchOver {
		t.Fatalf("match should continue")
	}
}

func TestClaimSeatRules(t *testing.T) {
	s := NewSession("seats", Options{})
	if _, err := s.ClaimSeat(Board1White, Participant{ConnID: "a", Name: "Ann"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := s.ClaimSeat(Board1White, Participant{ConnID: "b", Name: "Bob"})
	expectReject(t, err, CodeSeatConflict, ReasonSeatTaken)
	if !errors.Is(err, ErrSeatConflict) {
		t.Fatalf("expected ErrSeatConflict")
	}
	if p, _ := s.OccupantOf(Board1White); p.Name != "Ann" {
		t.Fatalf("rejected claim changed occupant: %+v", p)
	}

	_, err = s.ClaimSeat(Board2Black, Participant{ConnID: "a", Name: "Ann"})
	expectReject(t, err, CodeSeatConflict, ReasonAlreadySeated)

	res, err := s.ClaimSeat(Board1White, Participant{ConnID: "a", Name: "  Annie "})
	if err != nil || !res.Renamed || res.Name != "Annie" {
		t.Fatalf("rename by holder: res=%+v err=%v", res, err)
	}

	_, err = s.ClaimSeat(Board2White, Participant{ConnID: "c", Name: "   "})
	expectReject(t, err, CodeMalformedProposal, ReasonBadName)
	_, err = s.ClaimSeat(Seat("board3w"), Participant{ConnID: "c", Name: "Cat"})
	expectReject(t, err, CodeMalformedProposal, ReasonBadSeat)

	if seat, ok := s.ReleaseConn("a"); !ok || seat != Board1White {
		t.Fatalf("ReleaseConn: %s %v", seat, ok)
	}
	if _, err := s.ClaimSeat(Board1White, Participant{ConnID: "b", Name: "Bob"}); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	s := NewSession("race", Options{})
	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ClaimSeat(Board2White, Participant{ConnID: fmt.Sprintf("c%d", i), Name: "x"})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestSeatMapping(t *testing.T) {
	cases := []struct {
		seat    Seat
		board   BoardID
		color   rules.Color
		partner Seat
	}{
		{Board1White, Board1, rules.White, Board2Black},
		{Board1Black, Board1, rules.Black, Board2White},
		{Board2White, Board2, rules.White, Board1Black},
		{Board2Black, Board2, rules.Black, Board1White},
	}
	for _, tc := range cases {
		if tc.seat.Board() != tc.board || tc.seat.Color() != tc.color || tc.seat.Partner() != tc.partner {
			t.Fatalf("%s: got board=%d color=%s partner=%s", tc.seat, tc.seat.Board(), tc.seat.Color(), tc.seat.Partner())
		}
		if SeatFor(tc.board, tc.color) != tc.seat {
			t.Fatalf("SeatFor(%d, %s) != %s", tc.board, tc.color, tc.seat)
		}
	}
	if seat, ok := ParseSeat(" BOARD2B "); !ok || seat != Board2Black {
		t.Fatalf("ParseSeat: %s %v", seat, ok)
	}
	if _, ok := ParseSeat("board1x"); ok {
		t.Fatalf("ParseSeat accepted unknown seat")
	}
}
