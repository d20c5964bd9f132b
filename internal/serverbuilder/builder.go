// Package serverbuilder wires the server's components from configuration.
package serverbuilder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/bughouse-server/internal/archive"
	"github.com/park285/bughouse-server/internal/bughouse"
	"github.com/park285/bughouse-server/internal/config"
	"github.com/park285/bughouse-server/internal/httpapi"
	"github.com/park285/bughouse-server/internal/hub"
	"github.com/park285/bughouse-server/internal/msgcat"
	"github.com/park285/bughouse-server/internal/render"
	"github.com/park285/bughouse-server/internal/sessionindex"
)

type Deps struct {
	Directory *bughouse.Directory
	Hub       *hub.Hub
	Index     sessionindex.Index
	Archive   archive.Archive
	Catalog   *msgcat.Catalog
	Handler   http.Handler
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	// Index (Redis optional)
	var index sessionindex.Index
	if strings.TrimSpace(cfg.RedisURL) != "" {
		store, err := sessionindex.NewRedisStore(ctx, cfg.RedisURL, cfg.SessionIndexTTL())
		if err != nil {
			return nil, fmt.Errorf("init session index: %w", err)
		}
		index = store
		logger.Info("session_index", zap.String("backend", "redis"))
	} else {
		index = sessionindex.NewMemoryStore(cfg.SessionIndexTTL())
		logger.Info("session_index", zap.String("backend", "memory"))
	}

	arch, err := archive.Open(ctx, cfg.ArchiveURL)
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("init archive: %w", err)
	}

	dir := bughouse.NewDirectory(bughouse.Options{EndMatchOnFirstTerminal: cfg.EndMatchOnFirstTerminal})
	h := hub.New(dir, hub.Options{
		AllowedOrigins:          append([]string(nil), cfg.AllowedOrigins...),
		MaxConnsPerSession:      cfg.MaxConnsPerSession,
		ReleaseSeatOnDisconnect: cfg.ReleaseSeatOnDisconnect,
		Catalog:                 catalog,
		Index:                   index,
		Archive:                 arch,
		ArchiveTimeout:          cfg.ArchiveTimeout(),
	})
	api := httpapi.New(h, httpapi.Options{
		PublicBaseURL: cfg.PublicBaseURL,
		Index:         index,
		Archive:       arch,
		Renderer:      render.New(),
	})

	return &Deps{
		Directory: dir,
		Hub:       h,
		Index:     index,
		Archive:   arch,
		Catalog:   catalog,
		Handler:   api.Handler(),
	}, nil
}

// Close stops the hub first so queued mirror work reaches the backends
// before they are closed.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	if err := d.Hub.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("hub: %w", err))
	}
	if err := d.Index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session index: %w", err))
	}
	if err := d.Archive.Close(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}
	return errors.Join(errs...)
}
