package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openshelf/openshelf/internal/db"
)

type Server struct {
	config   *Config
	server   *http.Server
	services *Services
	db       *sqlx.DB
}

func New(config *Config) (*Server, error) {
	sqldb, err := db.NewSqliteDb(db.WithPath(config.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	services, err := NewServices(config, sqldb)
	if err != nil {
		sqldb.Close()
		return nil, err
	}

	return &Server{
		config:   config,
		services: services,
		db:       sqldb,
		server: &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: SetupRoutes(services, config),
		},
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("openshelf server start")
	defer slog.Info("openshelf server stop")

	if err := s.services.Start(ctx); err != nil {
		return fmt.Errorf("services start: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		slog.Info("http server stopped")
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("openshelf shutdown signal")
	return s.Stop(context.Background())
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.services.Shutdown(shutdownCtx); err != nil {
		slog.Error("services shutdown", "error", err)
	}

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return s.db.Close()
}

func (s *Server) runHttpServer() error {
	if s.config.HTTP.CertFile != "" && s.config.HTTP.KeyFile != "" {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
