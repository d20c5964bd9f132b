// Package httpapi exposes the HTTP surface of the server: the home page,
// session listing and creation, per-session state, board images, invite QR
// codes and the websocket upgrade.
package httpapi

import (
	"embed"
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/park285/bughouse-server/internal/archive"
	"github.com/park285/bughouse-server/internal/bughouse"
	"github.com/park285/bughouse-server/internal/hub"
	"github.com/park285/bughouse-server/internal/obslog"
	"github.com/park285/bughouse-server/internal/render"
	"github.com/park285/bughouse-server/internal/sessionindex"
)

//go:embed templates/home.html
var templatesFS embed.FS

var homeTemplate = template.Must(template.ParseFS(templatesFS, "templates/home.html"))

const (
	listLimit    = 100
	archiveLimit = 20
	qrSize       = 320
)

// Options configure the HTTP surface. Index and Archive may be nil.
type Options struct {
	// PublicBaseURL is used for invite links; empty derives it from the request.
	PublicBaseURL string
	Index         sessionindex.Index
	Archive       archive.Archive
	Renderer      *render.Renderer
}

type Server struct {
	hub      *hub.Hub
	dir      *bughouse.Directory
	opts     Options
	renderer *render.Renderer
}

func New(h *hub.Hub, opts Options) *Server {
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	r := opts.Renderer
	if r == nil {
		r = render.New()
	}
	return &Server{hub: h, dir: h.Directory(), opts: opts, renderer: r}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		obslog.L().Error("http_panic", zap.String("path", r.URL.Path), zap.Any("panic", v))
		writeError(w, http.StatusInternalServerError, "Internal", "internal server error")
	}
	mux.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NotFound", "not found")
	})

	mux.GET("/", s.serveHome)
	mux.GET("/healthz", s.serveHealth)
	mux.GET("/api/sessions", s.serveSessionList)
	mux.GET("/api/sessions/:name/archive", s.serveArchive)
	mux.POST("/session", s.serveCreateSession)
	mux.GET("/session/:name", s.serveSessionState)
	mux.GET("/session/:name/ws", s.serveWebSocket)
	mux.GET("/session/:name/qr.png", s.serveQR)
	mux.GET("/session/:name/board/:file", s.serveBoard)

	return withAccessLog(mux)
}

func (s *Server) securityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")
	if strings.HasPrefix(s.opts.PublicBaseURL, "https://") {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.securityHeaders(w)
	_, _ = w.Write([]byte("Ok\n"))
}

func (s *Server) serveHome(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	list := s.sessions(r.Context(), r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.securityHeaders(w)
	if err := homeTemplate.Execute(w, list); err != nil {
		obslog.L().Warn("home_render_failed", zap.Error(err))
	}
}

func (s *Server) serveCreateSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	raw, err := createRequestName(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(bughouse.CodeMalformedProposal), err.Error())
		return
	}
	sess, err := s.dir.Get(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(bughouse.CodeMalformedProposal), err.Error())
		return
	}
	s.securityHeaders(w)
	http.Redirect(w, r, "/session/"+url.PathEscape(sess.Name()), http.StatusSeeOther)
}

func (s *Server) serveSessionState(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	sess, err := s.dir.Get(p.ByName("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(bughouse.CodeMalformedProposal), err.Error())
		return
	}
	s.securityHeaders(w)
	writeJSON(w, http.StatusOK, hub.SnapshotPayload(sess.Join(), ""))
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s.hub.ServeSession(w, r, p.ByName("name"))
}

func (s *Server) serveArchive(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	name, err := bughouse.ValidateName(p.ByName("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(bughouse.CodeMalformedProposal), err.Error())
		return
	}
	records := []archive.Record{}
	if s.opts.Archive != nil {
		recs, err := s.opts.Archive.Recent(r.Context(), name, queryInt(r, "limit", archiveLimit, 1, 200))
		if err != nil {
			obslog.L().Warn("archive_read_failed", zap.String("session", name), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Unavailable", "archive unavailable")
			return
		}
		records = append(records, recs...)
	}
	s.securityHeaders(w)
	writeJSON(w, http.StatusOK, map[string]any{"session": name, "records": records})
}

// sessionURL is the shareable page of a session.
func (s *Server) sessionURL(r *http.Request, name string) string {
	base := s.opts.PublicBaseURL
	if base == "" && r != nil {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/session/" + url.PathEscape(name)
}

func createRequestName(w http.ResponseWriter, r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			NewSessionName string `json:"newSessionName"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			return "", err
		}
		return req.NewSessionName, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("newSessionName"), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" && net.ParseIP(ip) != nil {
		host = ip
	}
	return host
}
