// Package cmd provides the factories shared by the command-line binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/jobflow/pkg/persistence"
	"github.com/dukex/jobflow/pkg/persistence/file"
	"github.com/dukex/jobflow/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence selects the store by the scheme of databaseURL; URLs
// without a known scheme are treated as file paths.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parseProvider(databaseURL, supportedPersistenceProviders, "file")

	logger.InfoContext(ctx, "initializing persistence", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgresql persistence: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseProvider(url string, supported []string, fallback string) string {
	scheme, _, found := strings.Cut(url, "://")
	if !found {
		return fallback
	}

	for _, provider := range supported {
		if scheme == provider {
			return provider
		}
	}

	return fallback
}
