package sheet

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/atlas-batch/internal/models"
	"github.com/tealeg/xlsx/v2"
)

var errNoSheets = errors.New("workbook has no sheets")

// XLSXStore keeps an address table in an Excel workbook. The workbook stays in
// memory between Load and Save so that other sheets and cells are written back as read.
type XLSXStore struct {
	path      string
	sheetName string // empty selects the first sheet

	file   *xlsx.File
	sheet  *xlsx.Sheet
	layout layout
}

// NewXLSXStore creates a store for the workbook at path.
func NewXLSXStore(path, sheetName string) *XLSXStore {
	return &XLSXStore{path: path, sheetName: sheetName}
}

// Load reads the workbook and returns its data rows, header excluded.
func (s *XLSXStore) Load(_ context.Context) (*models.AddressTable, error) {
	file, err := xlsx.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", s.path, err)
	}

	sheet, err := pickSheet(file, s.sheetName)
	if err != nil {
		return nil, err
	}

	if len(sheet.Rows) == 0 || sheet.Rows[0] == nil {
		return nil, ErrMissingAddressColumn
	}

	headerRow := sheet.Rows[0]
	names := rowStrings(headerRow)
	pos, header, err := resolveLayout(names)
	if err != nil {
		return nil, err
	}
	for _, name := range header[len(names):] {
		headerRow.AddCell().SetString(name)
	}

	table := &models.AddressTable{Rows: make([]*models.Row, 0, len(sheet.Rows)-1)}
	for idx, row := range sheet.Rows[1:] {
		var values []string
		var raw []string
		if row != nil {
			values = rowStrings(row)
			raw = rowValues(row)
		}
		table.Rows = append(table.Rows, &models.Row{
			Index:   idx,
			Address: cellAt(values, pos.address),
			Lat:     parseCoordinate(cellAt(raw, pos.lat)),
			Long:    parseCoordinate(cellAt(raw, pos.long)),
		})
	}

	s.file, s.sheet, s.layout = file, sheet, pos

	return table, nil
}

// Save writes the coordinates of the rows merged during the run into the workbook
// and overwrites the file.
func (s *XLSXStore) Save(_ context.Context, table *models.AddressTable) error {
	if s.file == nil {
		return ErrNotLoaded
	}

	for _, row := range table.DirtyRows() {
		sheetRow := s.dataRow(row.Index)
		setCoordinate(cellOf(sheetRow, s.layout.lat), row.Lat)
		setCoordinate(cellOf(sheetRow, s.layout.long), row.Long)
	}

	if err := s.file.Save(s.path); err != nil {
		return fmt.Errorf("failed to write workbook %s: %w", s.path, err)
	}

	return nil
}

// dataRow returns the sheet row holding the table row at index, creating it if the
// reader left a gap.
func (s *XLSXStore) dataRow(index int) *xlsx.Row {
	pos := index + 1
	for len(s.sheet.Rows) <= pos {
		s.sheet.AddRow()
	}
	if s.sheet.Rows[pos] == nil {
		s.sheet.Rows[pos] = &xlsx.Row{Sheet: s.sheet}
	}

	return s.sheet.Rows[pos]
}

func pickSheet(file *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := file.Sheet[name]
		if !ok {
			return nil, fmt.Errorf("sheet %q not found", name)
		}
		return sheet, nil
	}

	if len(file.Sheets) == 0 {
		return nil, errNoSheets
	}

	return file.Sheets[0], nil
}

func cellOf(row *xlsx.Row, idx int) *xlsx.Cell {
	for len(row.Cells) <= idx {
		row.AddCell()
	}

	return row.Cells[idx]
}

func setCoordinate(cell *xlsx.Cell, value *float64) {
	if value == nil {
		cell.SetString("")
		return
	}
	cell.SetFloat(*value)
}

// rowStrings returns the formatted cell values, as shown by Excel.
func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for idx, cell := range row.Cells {
		if cell != nil {
			cells[idx] = cell.String()
		}
	}

	return cells
}

// rowValues returns the raw stored values, used for numbers to avoid display rounding.
func rowValues(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for idx, cell := range row.Cells {
		if cell != nil {
			cells[idx] = cell.Value
		}
	}

	return cells
}
