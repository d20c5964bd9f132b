package httpapi

import (
	"context"
	"net/http"
	"sort"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/park285/bughouse-server/internal/obslog"
	"github.com/park285/bughouse-server/pkg/bughousedto"
)

func (s *Server) serveSessionList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.securityHeaders(w)
	writeJSON(w, http.StatusOK, s.sessions(r.Context(), r))
}

// sessions merges the shared index with sessions living in this process.
// An index failure degrades to the local view.
func (s *Server) sessions(ctx context.Context, r *http.Request) bughousedto.SessionList {
	byName := make(map[string]*bughousedto.SessionSummary)
	if s.opts.Index != nil {
		entries, err := s.opts.Index.List(ctx, listLimit)
		if err != nil {
			obslog.L().Warn("session_index_list_failed", zap.Error(err))
		}
		for _, e := range entries {
			byName[e.Name] = &bughousedto.SessionSummary{Name: e.Name, UpdatedAt: e.UpdatedAt}
		}
	}
	for _, info := range s.dir.List() {
		sum, ok := byName[info.Name]
		if !ok {
			sum = &bughousedto.SessionSummary{Name: info.Name}
			byName[info.Name] = sum
		}
		sum.Seated = info.Seated
		if info.UpdatedAt.After(sum.UpdatedAt) {
			sum.UpdatedAt = info.UpdatedAt
		}
	}

	out := bughousedto.SessionList{Sessions: make([]bughousedto.SessionSummary, 0, len(byName))}
	for _, sum := range byName {
		sum.URL = s.sessionURL(r, sum.Name)
		sum.Connection = s.hub.ConnCount(sum.Name)
		out.Sessions = append(out.Sessions, *sum)
	}
	sort.Slice(out.Sessions, func(i, j int) bool {
		a, b := out.Sessions[i], out.Sessions[j]
		if a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.Name < b.Name
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	if len(out.Sessions) > listLimit {
		out.Sessions = out.Sessions[:listLimit]
	}
	return out
}
