// Package archive stores finished boards for later review. It is write-mostly
// and never used to restore live sessions.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/park285/bughouse-server/internal/bughouse"
)

// Record is one finished board.
type Record struct {
	ID         string    `json:"id"`
	Session    string    `json:"session"`
	Board      int       `json:"board"`
	WhiteName  string    `json:"whiteName"`
	BlackName  string    `json:"blackName"`
	Result     string    `json:"result"`
	Method     string    `json:"method"`
	MovesUCI   []string  `json:"movesUci"`
	MovesSAN   []string  `json:"movesSan"`
	FEN        string    `json:"fen"`
	PGN        string    `json:"pgn"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Archive persists finished boards.
type Archive interface {
	Save(ctx context.Context, rec Record) error
	// Recent returns the newest records of a session, newest first.
	Recent(ctx context.Context, session string, limit int) ([]Record, error)
	Close() error
}

// FromSummary turns a board summary into a record with a fresh id and PGN.
func FromSummary(sum bughouse.BoardSummary) Record {
	finished := sum.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	rec := Record{
		ID:         uuid.NewString(),
		Session:    sum.Session,
		Board:      int(sum.Board),
		WhiteName:  sum.WhiteName,
		BlackName:  sum.BlackName,
		Result:     sum.Result,
		Method:     sum.Method,
		MovesUCI:   append([]string(nil), sum.MovesUCI...),
		MovesSAN:   append([]string(nil), sum.MovesSAN...),
		FEN:        sum.FEN,
		StartedAt:  sum.StartedAt,
		FinishedAt: finished,
	}
	rec.PGN = BuildPGN(rec)
	return rec
}

// BuildPGN renders the record as a PGN game with a seven-tag roster.
func BuildPGN(rec Record) string {
	var b strings.Builder
	date := rec.FinishedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := rec.Result
	if strings.TrimSpace(result) == "" {
		result = "*"
	}
	b.WriteString("[Event \"Bughouse\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(rec.Session)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[Round \"board %d\"]\n", rec.Board))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", playerOrUnknown(rec.WhiteName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", playerOrUnknown(rec.BlackName)))
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n", result))
	if m := strings.TrimSpace(rec.Method); m != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(m)))
	}
	b.WriteString("\n")

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(rec.MovesSAN[i])))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func playerOrUnknown(name string) string {
	if s := sanitizePGN(name); s != "" {
		return s
	}
	return "?"
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 20
	}
	return limit
}
