package sheet

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Column names of an address table.
const (
	ColumnAddress = "ADDRESS_CONCAT"
	ColumnLat     = "LAT"
	ColumnLong    = "LONG"

	byteOrderMark = "\ufeff"
)

var (
	// ErrMissingAddressColumn is returned when the header lacks ADDRESS_CONCAT.
	ErrMissingAddressColumn = errors.New("table has no " + ColumnAddress + " column")
	// ErrNotLoaded is returned when Save is called before Load.
	ErrNotLoaded = errors.New("table was not loaded")
)

// layout holds the positions of the columns the geocoder reads and writes.
type layout struct {
	address int
	lat     int
	long    int
}

// resolveLayout finds the known columns in the header. Missing LAT/LONG columns
// are appended and reported through the returned header.
func resolveLayout(header []string) (layout, []string, error) {
	pos := layout{address: -1, lat: -1, long: -1}
	for idx, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, byteOrderMark)) {
		case ColumnAddress:
			pos.address = idx
		case ColumnLat:
			pos.lat = idx
		case ColumnLong:
			pos.long = idx
		}
	}

	if pos.address < 0 {
		return pos, nil, ErrMissingAddressColumn
	}
	if pos.lat < 0 {
		pos.lat = len(header)
		header = append(header, ColumnLat)
	}
	if pos.long < 0 {
		pos.long = len(header)
		header = append(header, ColumnLong)
	}

	return pos, header, nil
}

// parseCoordinate maps anything that is not a finite number to nil.
func parseCoordinate(value string) *float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return nil
	}

	return &parsed
}

func formatCoordinate(value *float64) string {
	if value == nil {
		return ""
	}

	return strconv.FormatFloat(*value, 'f', -1, 64)
}

func cellAt(record []string, idx int) string {
	if idx < len(record) {
		return record[idx]
	}

	return ""
}
