package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DefikitTeam/claude-code-container-sub003/auth"
	redisbroker "github.com/DefikitTeam/claude-code-container-sub003/broker/redis"
	"github.com/DefikitTeam/claude-code-container-sub003/httpbridge"
)

func newServeHTTPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-http",
		Short: "Serve the agent over HTTP",
		Long: `Serves the agent endpoint over HTTP: POST carries JSON-RPC requests, GET
streams agent traffic as server-sent events, DELETE ends a connection.
Set CCAGENT_OIDC_ISSUER and CCAGENT_OIDC_AUDIENCE to require bearer
tokens; without them the bridge runs open.`,
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

			opts := []httpbridge.Option{
				httpbridge.WithLogger(log),
				httpbridge.WithServerName(cfg.HTTP.ServerName),
				httpbridge.WithConnectionTTL(cfg.HTTP.ConnectionTTL),
			}
			if cfg.HTTP.Realm != "" {
				opts = append(opts, httpbridge.WithRealm(cfg.HTTP.Realm))
			}

			if cfg.HTTP.Broker == "redis" {
				b := redisbroker.New(redisbroker.Config{
					Client:    goredis.NewClient(&goredis.Options{Addr: cfg.HTTP.RedisAddr}),
					KeyPrefix: cfg.HTTP.BrokerKeyPrefix,
				})
				defer b.Close()
				opts = append(opts, httpbridge.WithBroker(b))
			}

			switch {
			case cfg.Auth.JWKSURL != "":
				opts = append(opts, httpbridge.WithSecurityConfig(auth.SecurityConfig{
					Issuer:    cfg.Auth.Issuer,
					Audiences: []string{cfg.Auth.Audience},
					JWKSURL:   cfg.Auth.JWKSURL,
					Advertise: true,
				}))
			case cfg.Auth.Issuer != "":
				provider, err := auth.NewFromDiscovery(ctx, cfg.Auth.Issuer, cfg.Auth.Audience,
					auth.WithRequiredScopes(cfg.Auth.RequiredScopes...))
				if err != nil {
					return fmt.Errorf("configure oidc auth: %w", err)
				}
				opts = append(opts, httpbridge.WithAuthenticator(provider))
			}

			endpoint := cfg.HTTP.PublicEndpoint
			if endpoint == "" {
				endpoint = defaultEndpoint(cfg.HTTP.ListenAddr)
			}

			h, err := httpbridge.New(ctx, endpoint, a, opts...)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.HTTP.ListenAddr,
				Handler:           h,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("http.listen",
					slog.String("addr", cfg.HTTP.ListenAddr),
					slog.String("endpoint", endpoint),
				)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutCtx)
			})
			return g.Wait()
		},
	}
}

// defaultEndpoint derives a local endpoint URL from the bind address for
// development setups that never set CCAGENT_PUBLIC_ENDPOINT.
func defaultEndpoint(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://localhost:8410/acp"
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/acp", net.JoinHostPort(host, port))
}
