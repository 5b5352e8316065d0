package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Database is the subset of *pgxpool.Pool used by the repository.
type Database interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository stores an address table in a PostgreSQL table with the columns
// row_index, address_concat, lat and long. Rows are ordered by row_index; their
// position in that order is the table row index.
type Repository struct {
	db    Database
	table string // sanitized, possibly schema-qualified table identifier
	log   *slog.Logger

	keys []int64 // row_index values by position, filled by Load
}

// NewRepository creates a new instance of Repository with the provided Database.
// It returns a pointer to the newly created Repository.
func NewRepository(db Database, table string, log *slog.Logger) *Repository {
	return &Repository{db: db, table: pgx.Identifier(strings.Split(table, ".")).Sanitize(), log: log}
}

// NewDatabase opens a connection pool and checks that the server answers.
func NewDatabase(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
