package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/bughouse-server/internal/archive"
	"github.com/park285/bughouse-server/internal/bughouse"
	"github.com/park285/bughouse-server/internal/hub"
	"github.com/park285/bughouse-server/internal/sessionindex"
	"github.com/park285/bughouse-server/pkg/bughousedto"
)

type fixture struct {
	srv     *httptest.Server
	hub     *hub.Hub
	index   *sessionindex.MemoryStore
	archive *archive.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx := sessionindex.NewMemoryStore(time.Hour)
	arch := archive.NewMemory()
	h := hub.New(bughouse.NewDirectory(bughouse.Options{EndMatchOnFirstTerminal: true}), hub.Options{Index: idx, Archive: arch})
	api := New(h, Options{PublicBaseURL: "https://bughouse.example/", Index: idx, Archive: arch})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
	})
	return &fixture{srv: srv, hub: h, index: idx, archive: arch}
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func get(t *testing.T, rawURL string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, body := get(t, f.srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || string(body) != "Ok\n" {
		t.Fatalf("unexpected health response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}
	if resp.Header.Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS for https base url")
	}
}

func TestCreateSessionRedirectsAndLists(t *testing.T) {
	f := newFixture(t)
	form := url.Values{"newSessionName": {"alpha"}}
	resp, err := noRedirect().PostForm(f.srv.URL+"/session", form)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/session/alpha" {
		t.Fatalf("unexpected redirect %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	body := strings.NewReader(`{"newSessionName":"beta"}`)
	resp, err = noRedirect().Post(f.srv.URL+"/session", "application/json", body)
	if err != nil {
		t.Fatalf("POST json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/session/beta" {
		t.Fatalf("unexpected json redirect %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, raw := get(t, f.srv.URL+"/api/sessions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	var list bughousedto.SessionList
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	names := map[string]bughousedto.SessionSummary{}
	for _, s := range list.Sessions {
		names[s.Name] = s
	}
	if len(names) != 2 {
		t.Fatalf("expected two sessions, got %+v", list.Sessions)
	}
	if names["alpha"].URL != "https://bughouse.example/session/alpha" {
		t.Fatalf("unexpected session url %q", names["alpha"].URL)
	}

	resp, page := get(t, f.srv.URL+"/")
	if resp.StatusCode != http.StatusOK || !bytes.Contains(page, []byte(`href="/session/beta"`)) {
		t.Fatalf("home page does not list sessions: %s", page)
	}
}

func TestCreateSessionRejectsBadName(t *testing.T) {
	f := newFixture(t)
	resp, err := noRedirect().PostForm(f.srv.URL+"/session", url.Values{"newSessionName": {"a/b"}})
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSessionStateCreatesSession(t *testing.T) {
	f := newFixture(t)
	resp, raw := get(t, f.srv.URL+"/session/gamma")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var init bughousedto.InitGame
	if err := json.Unmarshal(raw, &init); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if init.Session != "gamma" || !strings.HasPrefix(init.FEN1, "rnbqkbnr/pppppppp") || init.FEN1 != init.FEN2 {
		t.Fatalf("unexpected snapshot %+v", init)
	}
	if _, ok := f.hub.Directory().Lookup("gamma"); !ok {
		t.Fatalf("session was not created")
	}
}

func TestWebSocketThroughRouter(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/session/delta/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	var env bughousedto.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != bughousedto.EventInitGame {
		t.Fatalf("expected initGame, got %s", env.Type)
	}
}

func TestBoardImage(t *testing.T) {
	f := newFixture(t)
	resp, _ := get(t, f.srv.URL+"/session/nobody/board/1.png")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.StatusCode)
	}

	get(t, f.srv.URL+"/session/epsilon")
	resp, raw := get(t, f.srv.URL+"/session/epsilon/board/2.png?size=256&flip=1")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if cfg.Width != 256 {
		t.Fatalf("expected width 256, got %d", cfg.Width)
	}

	resp, _ = get(t, f.srv.URL+"/session/epsilon/board/3.png")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for board 3, got %d", resp.StatusCode)
	}
}

func TestQRCode(t *testing.T) {
	f := newFixture(t)
	resp, raw := get(t, f.srv.URL+"/session/zeta/qr.png")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
		t.Fatalf("decode qr: %v", err)
	}
}

func TestArchiveListing(t *testing.T) {
	f := newFixture(t)
	rec := archive.Record{ID: "r1", Session: "eta", Board: 1, Result: "1-0", Method: "checkmate", FinishedAt: time.Now()}
	if err := f.archive.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	resp, raw := get(t, f.srv.URL+"/api/sessions/eta/archive?limit=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var out struct {
		Session string           `json:"session"`
		Records []archive.Record `json:"records"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Session != "eta" || len(out.Records) != 1 || out.Records[0].ID != "r1" {
		t.Fatalf("unexpected archive listing %+v", out)
	}
}

func TestBoardImageOptionsUsesPartnerPools(t *testing.T) {
	snap := bughouse.Snapshot{
		Players: map[bughouse.Seat]string{bughouse.Board1White: "Ann"},
		Hands: bughouse.HandsSnapshot{
			"board1WhiteHand": {},
			"board1BlackHand": {"n"},
			"board2WhiteHand": {"q"},
			"board2BlackHand": {"p", "p"},
		},
	}
	opts := boardImageOptions(snap, bughouse.Board1, false)
	if len(opts.BottomHand) != 2 || opts.BottomLabel != "Ann" {
		t.Fatalf("white on board 1 drops what board 2 black captured: %+v", opts)
	}
	if len(opts.TopHand) != 1 || opts.TopHand[0] != "q" || opts.TopLabel != "board1b" {
		t.Fatalf("black on board 1 drops what board 2 white captured: %+v", opts)
	}
}
