package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/wsession/internal/config"
	"github.com/vango-dev/wsession/internal/errors"
	"github.com/vango-dev/wsession/pkg/archive"
	"github.com/vango-dev/wsession/pkg/server"
)

type serveOptions struct {
	addr    string
	profile bool
	echo    bool
}

func serveCmd(g *globalFlags) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Long: `Run the session server.

Serves WebSocket sessions on the configured path plus an admin API:

  GET    /healthz                 liveness
  GET    /stats                   server counters
  GET    /sessions                every live and detached session
  GET    /sessions/{id}           one session
  POST   /sessions/{id}/messages  send the request body to a session
  DELETE /sessions/{id}           close a session
  POST   /broadcast               send the request body to every session
  GET    /metrics                 Prometheus metrics (when enabled)

Examples:
  wsession serve
  wsession serve --addr :9000 --echo
  wsession serve --config deploy/wsession.yaml --profile`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.Server.Addr = opts.addr
			}
			if opts.profile {
				cfg.Profile.Enabled = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
			return runServe(ctx, cfg, opts, logger, nil)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "Listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&opts.profile, "profile", false, "Enable continuous profiling")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "Echo every inbound message back to its session")

	return cmd
}

// runServe serves until ctx is done, then shuts down. When ready is not
// nil it receives the bound listener address.
func runServe(ctx context.Context, cfg *config.Config, opts *serveOptions, logger *slog.Logger, ready chan<- string) error {
	if cfg.Profile.Enabled {
		profiler, err := startProfiler(cfg.Profile, logger)
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	srvCfg, err := cfg.ServerConfig(logger)
	if err != nil {
		return err
	}

	var registry *prometheus.Registry
	if cfg.Server.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		srvCfg.Metrics = server.NewMetrics(
			server.WithRegistry(registry),
			server.WithNamespace(cfg.Server.Metrics.Namespace),
		)
	}

	srv := server.New(srvCfg)
	if opts != nil && opts.echo {
		srv.OnMessage(func(m server.Message) {
			srv.SendToSession(m.SessionID, m.Payload)
		})
	}
	srv.OnError(func(err error) {
		logger.Debug("session error", "error", err)
	})

	if err := srv.Start(); err != nil {
		return errors.New(errors.CodeListen).Wrap(err)
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = srv.Stop(context.Background())
		return errors.New(errors.CodeListen).
			WithDetail(cfg.Server.Addr).
			WithSuggestion("Choose another address with --addr").
			Wrap(err)
	}

	httpSrv := &http.Server{
		Handler:           newRouter(srv, cfg.Server, registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	archiveDone := make(chan struct{})
	archiveCtx, cancelArchive := context.WithCancel(context.Background())
	defer cancelArchive()
	if cfg.Archive.Enabled {
		archiver, err := newArchiver(ctx, cfg, srv, logger)
		if err != nil {
			_ = ln.Close()
			_ = srv.Stop(context.Background())
			return err
		}
		go func() {
			defer close(archiveDone)
			archiver.Run(archiveCtx, 30*time.Second)
		}()
	} else {
		close(archiveDone)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()

	logger.Info("serving",
		"addr", ln.Addr().String(),
		"path", cfg.Server.Path,
		"metrics", cfg.Server.Metrics.Enabled,
		"archive", cfg.Archive.Enabled)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			_ = srv.Stop(context.Background())
			return errors.New(errors.CodeListen).Wrap(err)
		}
	}

	timeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil || timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger.Info("shutting down", "timeout", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Sessions first: hijacked sockets are invisible to http.Server.
	stopErr := srv.Stop(shutdownCtx)
	httpErr := httpSrv.Shutdown(shutdownCtx)

	cancelArchive()
	select {
	case <-archiveDone:
	case <-shutdownCtx.Done():
	}

	if err := stderrors.Join(stopErr, httpErr); err != nil {
		return errors.New(errors.CodeShutdown).Wrap(err)
	}
	logger.Info("stopped")
	return nil
}

func newArchiver(ctx context.Context, cfg *config.Config, srv *server.Server, logger *slog.Logger) (*archive.Archiver, error) {
	archCfg, err := cfg.ArchiveConfig(logger)
	if err != nil {
		return nil, err
	}
	client, err := archive.NewS3Client(ctx, archCfg)
	if err != nil {
		return nil, errors.New(errors.CodeArchiveSetup).Wrap(err)
	}
	archiver, err := archive.New(client, srv, archCfg)
	if err != nil {
		return nil, errors.New(errors.CodeArchiveSetup).Wrap(err)
	}
	return archiver, nil
}

func startProfiler(cfg config.ProfileConfig, logger *slog.Logger) (*pyroscope.Profiler, error) {
	host, _ := os.Hostname()
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags: map[string]string{
			"hostname": host,
			"version":  version,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return nil, errors.New(errors.CodeProfilerSetup).
			WithDetail(fmt.Sprintf("pyroscope at %s", cfg.ServerAddress)).
			Wrap(err)
	}
	logger.Info("profiling enabled", "server", cfg.ServerAddress, "application", cfg.ApplicationName)
	return profiler, nil
}
