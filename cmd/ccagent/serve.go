package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DefikitTeam/claude-code-container-sub003/agent"
	"github.com/DefikitTeam/claude-code-container-sub003/stdio"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over stdio",
		Long: `Reads newline-delimited JSON-RPC messages from stdin and writes replies
and notifications to stdout. Logs go to stderr. Exits when stdin closes
or on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			a, cleanup, err := buildAgent(cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h := stdio.NewHandler(a, stdio.WithDrainTimeout(cfg.Agent.DrainTimeout))

			g, gctx := errgroup.WithContext(ctx)
			if cfg.Agent.Metrics && cfg.HTTP.MetricsAddr != "" {
				g.Go(func() error {
					return serveMetrics(gctx, cfg.HTTP.MetricsAddr, a, log)
				})
			}
			g.Go(func() error {
				// Ends the metrics sidecar when stdio serving ends.
				defer stop()
				return h.Serve(gctx)
			})
			return g.Wait()
		},
	}
}

// serveMetrics exposes the Prometheus registry on its own listener for stdio
// deployments, where no HTTP bridge carries /metrics.
func serveMetrics(ctx context.Context, addr string, a *agent.Agent, log *slog.Logger) error {
	reg := a.MetricsRegistry()
	if reg == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics.listen", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	}
}
