package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"rentcomps/api"
	"rentcomps/config"
	"rentcomps/metrics"
	"rentcomps/utils"
)

func newServeCmd(cfg *config.Config, logger *utils.Logger) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve comp search, photos and metadata over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps := api.Deps{Logger: logger}
			a, err := newApp(cfg, logger, metrics.NewPrometheusRecorder())
			switch {
			case config.IsConfigurationError(err):
				// Serve anyway; MLS endpoints answer 500 until configured.
				logger.Warn("[serve] %v", err)
				deps.ConfigErr = err
			case err != nil:
				return err
			default:
				defer a.close(ctx)
				deps.Comps = a.compService()
				deps.Photos = a.photoFetcher()
				deps.Metadata = a.client
			}

			if cfg.ArchiveEnabled {
				pg, err := openArchive(cfg, logger)
				if err != nil {
					logger.Error("[serve] Archive disabled: %v", err)
				} else {
					defer pg.Close()
					deps.Archive = pg
				}
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewHandler(deps).Routes(promhttp.Handler()),
				ReadHeaderTimeout: 5 * time.Second,
				WriteTimeout:      writeTimeout(cfg),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("[serve] Listening on %s", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			logger.Info("[serve] Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// writeTimeout covers the longest MLS exchange one request can trigger:
// login, search, a fresh login and search after a 401, then logout, each
// behind the rate limiter. The slack is for archiving and encoding.
func writeTimeout(cfg *config.Config) time.Duration {
	perCall := cfg.RequestTimeout + time.Duration(max(cfg.RateLimitMs, 0))*time.Millisecond
	return 5*perCall + 10*time.Second
}
