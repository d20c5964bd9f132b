package archive

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/park285/bughouse-server/internal/bughouse"
)

func foolsMateSummary(t *testing.T) bughouse.BoardSummary {
	t.Helper()
	s := bughouse.NewSession("friday", bughouse.Options{})
	if _, err := s.ClaimSeat(bughouse.Board1White, bughouse.Participant{ConnID: "w", Name: "Ann \"A\""}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.ClaimSeat(bughouse.Board1Black, bughouse.Participant{ConnID: "b", Name: "Bob"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	var last bughouse.MoveResult
	for i, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		seat := bughouse.Board1White
		if i%2 == 1 {
			seat = bughouse.Board1Black
		}
		res, err := s.SubmitMove(seat, bughouse.MoveProposal{Board: bughouse.Board1, Text: mv})
		if err != nil {
			t.Fatalf("move %s: %v", mv, err)
		}
		last = res
	}
	if last.Summary == nil {
		t.Fatalf("expected a finished board summary")
	}
	return *last.Summary
}

func TestFromSummaryBuildsPGN(t *testing.T) {
	rec := FromSummary(foolsMateSummary(t))
	if rec.ID == "" || rec.Board != 1 || rec.Result != "0-1" || rec.Method != "checkmate" {
		t.Fatalf("unexpected record %+v", rec)
	}
	for _, want := range []string{
		`[White "Ann 'A'"]`,
		`[Black "Bob"]`,
		`[Result "0-1"]`,
		`[Termination "checkmate"]`,
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(rec.PGN, want) {
			t.Fatalf("PGN missing %q:\n%s", want, rec.PGN)
		}
	}
}

func TestBuildPGNUnfinished(t *testing.T) {
	pgn := BuildPGN(Record{Session: "s", Board: 2, MovesSAN: []string{"e4"}})
	if !strings.Contains(pgn, `[White "?"]`) || !strings.HasSuffix(pgn, "1. e4 *") {
		t.Fatalf("unexpected PGN:\n%s", pgn)
	}
}

func exerciseArchive(t *testing.T, a Archive) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)
	older := Record{ID: "r1", Session: "s", Board: 1, Result: "1-0", MovesUCI: []string{"e2e4"}, MovesSAN: []string{"e4"},
		StartedAt: base.Add(-time.Hour), FinishedAt: base.Add(-time.Minute)}
	newer := Record{ID: "r2", Session: "s", Board: 2, Result: "0-1", FinishedAt: base, StartedAt: base.Add(-time.Hour)}
	other := Record{ID: "r3", Session: "elsewhere", Board: 1, Result: "*", FinishedAt: base}
	for _, r := range []Record{older, newer, other, older} {
		if err := a.Save(ctx, r); err != nil {
			t.Fatalf("Save(%s): %v", r.ID, err)
		}
	}
	got, err := a.Recent(ctx, "s", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" || got[1].ID != "r1" {
		t.Fatalf("unexpected records %+v", got)
	}
	if len(got[1].MovesSAN) != 1 || got[1].MovesSAN[0] != "e4" || !got[1].FinishedAt.Equal(older.FinishedAt) {
		t.Fatalf("record not preserved: %+v", got[1])
	}
	if len(got[0].MovesUCI) != 0 {
		t.Fatalf("expected empty moves, got %v", got[0].MovesUCI)
	}
}

func TestMemoryArchive(t *testing.T) {
	exerciseArchive(t, NewMemory())
}

func TestSQLiteArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "archive.db")
	a, err := Open(context.Background(), "sqlite://"+path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if _, ok := a.(*SQLStore); !ok {
		t.Fatalf("expected *SQLStore, got %T", a)
	}
	exerciseArchive(t, a)
}

func TestOpenDispatch(t *testing.T) {
	a, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := a.(*Memory); !ok {
		t.Fatalf("expected memory archive, got %T", a)
	}
	if _, err := Open(context.Background(), "mysql://user:pw@host/db"); err == nil || strings.Contains(err.Error(), "pw") {
		t.Fatalf("expected redacted unsupported-url error, got %v", err)
	}
}

func TestBindPlaceholders(t *testing.T) {
	s := &SQLStore{dialect: dialectSQLite}
	if got := s.bind("a = $1 AND b = $12"); got != "a = ? AND b = ?" {
		t.Fatalf("unexpected %q", got)
	}
	pg := &SQLStore{dialect: dialectPostgres}
	if got := pg.bind("a = $1"); got != "a = $1" {
		t.Fatalf("postgres query changed: %q", got)
	}
}
