package server

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/openshelf/openshelf/internal/server/library"
)

type Services struct {
	Library *library.LibraryService
}

func NewServices(config *Config, db *sqlx.DB) (*Services, error) {
	librarySvc, err := library.NewLibraryService(config.LibrariesDir, db)
	if err != nil {
		return nil, err
	}

	return &Services{
		Library: librarySvc,
	}, nil
}

func (s *Services) Start(ctx context.Context) error {
	return s.Library.Start(ctx)
}

func (s *Services) Shutdown(ctx context.Context) error {
	return s.Library.Shutdown(ctx)
}
