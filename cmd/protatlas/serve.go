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

	charmlog "github.com/charmbracelet/log"
	"github.com/protatlas/server/internal/api"
	"github.com/protatlas/server/internal/cache"
	"github.com/protatlas/server/internal/config"
	"github.com/spf13/cobra"
)

// serveParams holds the parsed flags for the serve command.
type serveParams struct {
	global *globalFlags
	port   int
}

func newServeCmd(g *globalFlags) *cobra.Command {
	p := serveParams{global: g}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load all datasets and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(p)
		},
	}
	cmd.Flags().IntVarP(&p.port, "port", "p", 0, "override server.port")
	return cmd
}

// newServer loads every configured dataset and returns an HTTP server for
// them. The returned cache manager must be closed after shutdown.
func newServer(ctx context.Context, cfg *config.Config, log *charmlog.Logger) (*http.Server, *cache.Manager, error) {
	services, cacheManager, err := loadServices(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, cfg.Server.Title)
	for _, svc := range services {
		registry.Register(svc)
		st := svc.Stats()
		log.Info("dataset registered", "dataset", svc.ID(), "genes", st.Genes, "tissues", st.Tissues, "groups", st.Groups)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Cache:       cacheManager,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return server, cacheManager, nil
}

func runServe(p serveParams) error {
	cfg, err := loadConfig(p.global)
	if err != nil {
		return err
	}
	if p.port > 0 {
		cfg.Server.Port = p.port
	}
	log, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}

	log.Info("starting server", "port", cfg.Server.Port, "datasets", len(cfg.Data.Datasets), "default", cfg.Data.DefaultDataset)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, cacheManager, err := newServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cacheManager.Close()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "err", err)
	}

	log.Info("server stopped")
	return nil
}
