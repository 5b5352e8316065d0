package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/UnknownOlympus/atlas-batch/internal/models"
	"github.com/UnknownOlympus/atlas-batch/internal/repository"
	"github.com/UnknownOlympus/atlas-batch/internal/sheet"
)

// Store loads an address table and persists it back after geocoding.
type Store interface {
	Load(ctx context.Context) (*models.AddressTable, error)
	Save(ctx context.Context, table *models.AddressTable) error
}

// Options configures the backend chosen by Open.
type Options struct {
	Sheet   string // Workbook sheet name, first sheet when empty
	PGTable string // Table holding addresses when the location is a PostgreSQL URL
	Logger  *slog.Logger
}

// Open selects a store for location: a PostgreSQL connection URL, a .csv file or
// an Excel workbook. The returned close function releases backend resources.
func Open(ctx context.Context, location string, opts Options) (Store, func(), error) {
	switch {
	case isPostgresURL(location):
		pool, err := repository.NewDatabase(ctx, location)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to address database: %w", err)
		}
		return repository.NewRepository(pool, opts.PGTable, opts.Logger), pool.Close, nil
	case strings.EqualFold(filepath.Ext(location), ".csv"):
		return sheet.NewCSVStore(location), func() {}, nil
	default:
		return sheet.NewXLSXStore(location, opts.Sheet), func() {}, nil
	}
}

func isPostgresURL(location string) bool {
	return strings.HasPrefix(location, "postgres://") || strings.HasPrefix(location, "postgresql://")
}
