// bughouse-server hosts two-board bughouse sessions over websockets.
//
// Configuration is read from defaults, then the YAML file named by
// BUGHOUSE_CONFIG (or --config), then environment variables, then flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/bughouse-server/internal/config"
	"github.com/park285/bughouse-server/internal/obslog"
	"github.com/park285/bughouse-server/internal/serverbuilder"
)

const releaseVersion = "0.1.0"

type flags struct {
	configPath   string
	bind         string
	publicURL    string
	redisURL     string
	archiveURL   string
	origins      []string
	releaseSeat  bool
	endOnFirst   bool
	maxConns     int
	shutdownWait time.Duration
	logLevel     string
	logFormat    string
}

func main() {
	cobra.CheckErr(newRootCmd(&flags{}).Execute())
}

func newRootCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "bughouse-server",
		Short:        "Serve bughouse sessions over HTTP and websockets",
		Version:      releaseVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "YAML config file (overrides BUGHOUSE_CONFIG)")
	fs.StringVarP(&f.bind, "bind", "b", "", "listen address host:port")
	fs.StringVar(&f.publicURL, "public-url", "", "public base URL used in invite links")
	fs.StringVar(&f.redisURL, "redis-url", "", "Redis URL for the session index and event mirror")
	fs.StringVar(&f.archiveURL, "archive-url", "", "postgres:// or sqlite:// URL for finished boards")
	fs.StringSliceVar(&f.origins, "allowed-origin", nil, "extra allowed websocket origins (repeatable)")
	fs.BoolVar(&f.releaseSeat, "release-seat-on-disconnect", false, "free a seat when its connection closes")
	fs.BoolVar(&f.endOnFirst, "end-match-on-first-terminal", true, "stop both boards once either board ends")
	fs.IntVar(&f.maxConns, "max-conns", 0, "maximum connections per session")
	fs.DurationVar(&f.shutdownWait, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "legacy, json or console")
	return cmd
}

func run(cmd *cobra.Command, f *flags) error {
	if f.configPath != "" {
		if err := os.Setenv("BUGHOUSE_CONFIG", f.configPath); err != nil {
			return err
		}
	}
	logOpts := obslog.OptionsFromEnv()
	if f.logLevel != "" {
		logOpts.Level = f.logLevel
	}
	if f.logFormat != "" {
		logOpts.Format = f.logFormat
	}
	if err := obslog.Init(logOpts); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	applyFlags(cmd, f, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := serverbuilder.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           deps.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       10 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listen",
			zap.String("addr", srv.Addr),
			zap.String("version", releaseVersion),
			zap.Bool("release_seat_on_disconnect", cfg.ReleaseSeatOnDisconnect),
			zap.Bool("end_match_on_first_terminal", cfg.EndMatchOnFirstTerminal),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("server_shutdown", zap.String("signal", "received"))
	case err := <-errCh:
		if err != nil {
			_ = deps.Close(context.Background())
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), f.shutdownWait)
	defer cancel()
	// websocket connections are hijacked, so the hub closes them itself
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Warn("deps_close_failed", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	logger.Info("server_stopped")
	return nil
}

// applyFlags overrides cfg with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.AppConfig) {
	fs := cmd.Flags()
	if fs.Changed("bind") {
		cfg.BindAddr = f.bind
	}
	if fs.Changed("public-url") {
		cfg.PublicBaseURL = f.publicURL
	}
	if fs.Changed("redis-url") {
		cfg.RedisURL = f.redisURL
	}
	if fs.Changed("archive-url") {
		cfg.ArchiveURL = f.archiveURL
	}
	if fs.Changed("allowed-origin") {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, f.origins...)
	}
	if fs.Changed("release-seat-on-disconnect") {
		cfg.ReleaseSeatOnDisconnect = f.releaseSeat
	}
	if fs.Changed("end-match-on-first-terminal") {
		cfg.EndMatchOnFirstTerminal = f.endOnFirst
	}
	if fs.Changed("max-conns") {
		cfg.MaxConnsPerSession = f.maxConns
	}
}
