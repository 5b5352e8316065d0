package sheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/UnknownOlympus/atlas-batch/internal/models"
)

// CSVStore keeps an address table in a comma-separated file with a header line.
type CSVStore struct {
	path string

	records [][]string // header first, as read
	layout  layout
}

// NewCSVStore creates a store for the CSV file at path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

// Load parses the file and returns its data rows.
func (s *CSVStore) Load(_ context.Context) (*models.AddressTable, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if len(records) == 0 {
		return nil, ErrMissingAddressColumn
	}

	pos, header, err := resolveLayout(records[0])
	if err != nil {
		return nil, err
	}
	records[0] = header

	table := &models.AddressTable{Rows: make([]*models.Row, 0, len(records)-1)}
	for idx, record := range records[1:] {
		table.Rows = append(table.Rows, &models.Row{
			Index:   idx,
			Address: cellAt(record, pos.address),
			Lat:     parseCoordinate(cellAt(record, pos.lat)),
			Long:    parseCoordinate(cellAt(record, pos.long)),
		})
	}

	s.records, s.layout = records, pos

	return table, nil
}

// Save rewrites the file with the coordinates of the rows merged during the run;
// other rows keep their text as read. The content is written to a
// temporary file in the same directory first and then renamed over the original.
func (s *CSVStore) Save(_ context.Context, table *models.AddressTable) error {
	if s.records == nil {
		return ErrNotLoaded
	}

	width := len(s.records[0])
	for pos, record := range s.records {
		for len(record) < width {
			record = append(record, "")
		}
		s.records[pos] = record
	}

	for _, row := range table.DirtyRows() {
		record := s.records[row.Index+1]
		record[s.layout.lat] = formatCoordinate(row.Lat)
		record[s.layout.long] = formatCoordinate(row.Long)
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(s.records); err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.path, err)
	}

	return replaceFile(s.path, buf.Bytes())
}

func replaceFile(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".atlas-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
