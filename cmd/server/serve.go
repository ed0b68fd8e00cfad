package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/budget-engine/api"
)

var flagPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "HTTP server port (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flagPort
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	log := newLogger(cfg)

	db, err := openDB(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	opts, err := serviceOptions(cfg, log)
	if err != nil {
		return err
	}

	handler := api.NewHandler(db, opts...)
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Tenant: api.TenantOptions{
			JWTSecret: cfg.Auth.JWTSecret,
			Header:    cfg.Auth.TenantHeader,
		},
	})

	var scheduler *api.VarianceScheduler
	if cfg.Scheduler.Enabled {
		scheduler = api.NewVarianceScheduler(db, cfg.Scheduler.Spec, log, opts...)
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if scheduler != nil {
			scheduler.Stop()
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}
