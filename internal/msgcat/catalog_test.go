package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedRejectMessages(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.Reject("wrong_turn", map[string]any{"Board": 2})
	if got != "It is not your turn on board 2." {
		t.Fatalf("unexpected text %q", got)
	}
	if got := c.Reject("no_such_reason", nil); got != "no_such_reason" {
		t.Fatalf("expected fallback to reason, got %q", got)
	}
	// missing template field falls back rather than printing "<no value>"
	if got := c.Reject("wrong_board", nil); got != "wrong_board" {
		t.Fatalf("expected fallback on missing field, got %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	body := "reject:\n  match_over: \"Game over, thanks for playing.\"\n"
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Reject("match_over", nil); got != "Game over, thanks for playing." {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Reject("bad_seat", nil); got != "Unknown seat." {
		t.Fatalf("embedded default lost: %q", got)
	}
}

func TestDuplicateOverrideKeys(t *testing.T) {
	dir := t.TempDir()
	body := "reject:\n  bad_seat: x\n"
	for _, n := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}
