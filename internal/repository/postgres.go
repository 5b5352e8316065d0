package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/atlas-batch/internal/models"
)

var errNotLoaded = errors.New("address table was not loaded")

// Load reads every row of the table ordered by row_index.
func (r *Repository) Load(ctx context.Context) (*models.AddressTable, error) {
	query := fmt.Sprintf(`
		SELECT row_index, address_concat, lat, long
		FROM %s
		ORDER BY row_index ASC;
	`, r.table)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query address rows: %w", err)
	}
	defer rows.Close()

	table := &models.AddressTable{}
	var keys []int64
	for rows.Next() {
		var (
			key     int64
			address *string
			row     = &models.Row{Index: len(keys)}
		)
		if errScan := rows.Scan(&key, &address, &row.Lat, &row.Long); errScan != nil {
			return nil, fmt.Errorf("failed to scan address row: %w", errScan)
		}
		if address != nil {
			row.Address = *address
		}
		keys = append(keys, key)
		table.Rows = append(table.Rows, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	r.log.DebugContext(ctx, "Address table loaded", "table", r.table, "rows", len(table.Rows))
	r.keys = keys

	return table, nil
}

// Save writes the coordinates of the rows changed during the run in one transaction.
func (r *Repository) Save(ctx context.Context, table *models.AddressTable) error {
	if r.keys == nil && len(table.Rows) > 0 {
		return errNotLoaded
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET
			lat = $1,
			long = $2
		WHERE
			row_index = $3;
	`, r.table)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, row := range table.DirtyRows() {
		if row.Index >= len(r.keys) {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("row %d is outside the loaded table", row.Index)
		}
		if _, err = tx.Exec(ctx, query, row.Lat, row.Long, r.keys[row.Index]); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to update row coordinates: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit coordinates: %w", err)
	}

	return nil
}
