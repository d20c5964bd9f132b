package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// SQLStore writes records to Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Open picks a backend from an archive URL: empty for memory,
// postgres:// (or postgresql://) for Postgres, sqlite://path for SQLite.
func Open(ctx context.Context, rawURL string) (Archive, error) {
	rawURL = strings.TrimSpace(rawURL)
	switch {
	case rawURL == "" || rawURL == "memory://":
		return NewMemory(), nil
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return OpenPostgres(ctx, rawURL)
	case strings.HasPrefix(rawURL, "sqlite://"):
		return OpenSQLite(ctx, sqlitePath(rawURL))
	default:
		return nil, fmt.Errorf("archive: unsupported url %q", redact(rawURL))
	}
}

func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return initStore(ctx, db, dialectPostgres)
}

// OpenSQLite creates parent directories as needed.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("archive: sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("archive: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite: %w", err)
	}
	// one writer avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	return initStore(ctx, db, dialectSQLite)
}

func initStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bughouse_boards (
			id TEXT PRIMARY KEY,
			session TEXT NOT NULL,
			board INTEGER NOT NULL,
			white_name TEXT NOT NULL DEFAULT '',
			black_name TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL,
			result_method TEXT NOT NULL DEFAULT '',
			moves_uci TEXT NOT NULL,
			moves_san TEXT NOT NULL,
			fen TEXT NOT NULL,
			pgn TEXT NOT NULL,
			started_at_ms BIGINT NOT NULL,
			finished_at_ms BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bughouse_boards_session ON bughouse_boards(session, finished_at_ms DESC)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// bind rewrites $n placeholders for SQLite.
func (s *SQLStore) bind(q string) string {
	if s.dialect != dialectSQLite {
		return q
	}
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		if q[i] == '$' {
			b.WriteByte('?')
			for i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	movesUCI, err := json.Marshal(nonNil(rec.MovesUCI))
	if err != nil {
		return err
	}
	movesSAN, err := json.Marshal(nonNil(rec.MovesSAN))
	if err != nil {
		return err
	}
	q := `INSERT INTO bughouse_boards (
		id, session, board, white_name, black_name,
		result, result_method, moves_uci, moves_san, fen, pgn,
		started_at_ms, finished_at_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, s.bind(q),
		rec.ID, rec.Session, rec.Board, rec.WhiteName, rec.BlackName,
		rec.Result, rec.Method, string(movesUCI), string(movesSAN), rec.FEN, rec.PGN,
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLStore) Recent(ctx context.Context, session string, limit int) ([]Record, error) {
	q := `SELECT id, session, board, white_name, black_name, result, result_method,
		moves_uci, moves_san, fen, pgn, started_at_ms, finished_at_ms
	FROM bughouse_boards WHERE session = $1
	ORDER BY finished_at_ms DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, s.bind(q), session, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                Record
			movesUCI, movesSAN string
			started, finished  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Session, &rec.Board, &rec.WhiteName, &rec.BlackName,
			&rec.Result, &rec.Method, &movesUCI, &movesSAN, &rec.FEN, &rec.PGN, &started, &finished); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(movesUCI), &rec.MovesUCI); err != nil {
			return nil, fmt.Errorf("archive: decode moves: %w", err)
		}
		if err := json.Unmarshal([]byte(movesSAN), &rec.MovesSAN); err != nil {
			return nil, fmt.Errorf("archive: decode moves: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started)
		rec.FinishedAt = time.UnixMilli(finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func sqlitePath(raw string) string {
	return strings.TrimPrefix(raw, "sqlite://")
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
