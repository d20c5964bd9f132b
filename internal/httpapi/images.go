package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/park285/bughouse-server/internal/bughouse"
	"github.com/park285/bughouse-server/internal/obslog"
	"github.com/park285/bughouse-server/internal/render"
	"github.com/park285/bughouse-server/internal/rules"
)

// serveQR encodes the session's shareable URL.
func (s *Server) serveQR(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	name, err := bughouse.ValidateName(p.ByName("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(bughouse.CodeMalformedProposal), err.Error())
		return
	}
	png, err := qrcode.Encode(s.sessionURL(r, name), qrcode.Medium, qrSize)
	if err != nil {
		obslog.L().Warn("qr_encode_failed", zap.String("session", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal", "qr generation failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.securityHeaders(w)
	_, _ = w.Write(png)
}

// serveBoard renders /session/:name/board/{1|2}.png with the drop pools of
// both players of that board. Query: size=<px>, flip=1.
func (s *Server) serveBoard(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	file := p.ByName("file")
	id, err := strconv.Atoi(strings.TrimSuffix(file, ".png"))
	board := bughouse.BoardID(id)
	if err != nil || !strings.HasSuffix(file, ".png") || !board.Valid() {
		writeError(w, http.StatusNotFound, "NotFound", "board must be 1.png or 2.png")
		return
	}
	sess, ok := s.dir.Lookup(p.ByName("name"))
	if !ok {
		writeError(w, http.StatusNotFound, string(bughouse.CodeUnknownSession), bughouse.ErrUnknownSession.Error())
		return
	}

	snap := sess.Join()
	fen := snap.FEN1
	if board == bughouse.Board2 {
		fen = snap.FEN2
	}
	opts := boardImageOptions(snap, board, r.URL.Query().Get("flip") == "1")
	opts.Size = queryInt(r, "size", 0, render.MinSize, render.MaxSize)
	if sum, ok := sess.Summary(board); ok && len(sum.MovesUCI) > 0 {
		opts.LastMove = sum.MovesUCI[len(sum.MovesUCI)-1]
	}

	png, err := s.renderer.RenderPNG(r.Context(), fen, opts)
	if err != nil {
		obslog.L().Warn("board_render_failed", zap.String("session", sess.Name()), zap.Int("board", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal", "render failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	s.securityHeaders(w)
	_, _ = w.Write(png)
}

// boardImageOptions puts white at the bottom unless flipped. Each side's
// hand is the pool that seat may drop from.
func boardImageOptions(snap bughouse.Snapshot, board bughouse.BoardID, flip bool) render.Options {
	white := bughouse.SeatFor(board, rules.White)
	black := bughouse.SeatFor(board, rules.Black)
	bottom, top := white, black
	if flip {
		bottom, top = black, white
	}
	return render.Options{
		Flip:        flip,
		BottomHand:  handFor(snap.Hands, bottom),
		TopHand:     handFor(snap.Hands, top),
		BottomLabel: seatLabel(snap, bottom),
		TopLabel:    seatLabel(snap, top),
	}
}

func handFor(h bughouse.HandsSnapshot, seat bughouse.Seat) []string {
	for _, k := range bughouse.HandKeys {
		if k.Recipient() == seat {
			return h[k.WireKey()]
		}
	}
	return nil
}

func seatLabel(snap bughouse.Snapshot, seat bughouse.Seat) string {
	if name := snap.Players[seat]; name != "" {
		return name
	}
	return string(seat)
}

// queryInt returns def for a missing or invalid value and clamps the rest.
func queryInt(r *http.Request, key string, def, min, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
