package bughouse

import (
	"errors"
	"strings"
	"time"

	"github.com/park285/bughouse-server/internal/rules"
)

// Rules is the chess rules engine as seen by a board.
type Rules interface {
	ValidateAndApply(pos *rules.Position, move string) (rules.Applied, error)
	IsTerminal(pos *rules.Position) rules.Terminal
}

// MoveProposal is a client move for one board, either as notation text or
// as from/to squares.
type MoveProposal struct {
	Board     BoardID
	Text      string
	From      string
	To        string
	Promotion string
}

// Notation returns the proposal as a single string for the rules engine.
func (p MoveProposal) Notation() (string, error) {
	if t := strings.TrimSpace(p.Text); t != "" {
		return t, nil
	}
	from := strings.ToLower(strings.TrimSpace(p.From))
	to := strings.ToLower(strings.TrimSpace(p.To))
	if !isSquare(from) || !isSquare(to) {
		return "", ErrMalformedProposal
	}
	promo := strings.ToLower(strings.TrimSpace(p.Promotion))
	switch promo {
	case "", "q", "r", "b", "n":
	default:
		return "", ErrMalformedProposal
	}
	return from + to + promo, nil
}

func isSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// board is one game within a session: active until the rules engine
// reports a terminal position.
type board struct {
	id         BoardID
	pos        *rules.Position
	terminal   rules.Terminal
	startedAt  time.Time
	finishedAt time.Time
}

func newBoard(id BoardID, now time.Time) *board {
	return &board{id: id, pos: rules.NewPosition(), startedAt: now}
}

func (b *board) active() bool { return b.terminal == rules.TerminalNone }

// apply runs one move through the engine. Any rejection leaves pos as it was.
func (b *board) apply(engine Rules, move string, now time.Time) (rules.Applied, *Reject) {
	if !b.active() {
		return rules.Applied{}, IllegalMove(ReasonBoardOver, nil)
	}
	applied, err := engine.ValidateAndApply(b.pos, move)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrGameOver):
			return rules.Applied{}, IllegalMove(ReasonBoardOver, err)
		case errors.Is(err, rules.ErrEmptyMove):
			return rules.Applied{}, Malformed(ReasonBadMove)
		default:
			return rules.Applied{}, IllegalMove(ReasonRules, err)
		}
	}
	if t := engine.IsTerminal(b.pos); t != rules.TerminalNone {
		b.terminal = t
		b.finishedAt = now
	}
	return applied, nil
}
