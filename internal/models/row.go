package models

// Row is a single address record of an AddressTable.
type Row struct {
	Index   int      // Index is the zero-based position of the row in its table.
	Address string   // Address is the free-text query taken from the ADDRESS_CONCAT column.
	Lat     *float64 // Lat is nil while the row is unresolved.
	Long    *float64 // Long is nil while the row is unresolved.
	Dirty   bool     // Dirty marks rows whose coordinates were merged during the current run.
}

// Resolved reports whether both coordinates of the row are present.
func (r *Row) Resolved() bool {
	return r.Lat != nil && r.Long != nil
}

// Apply merges a geocoding result into the row. An unresolved result clears both
// coordinates so a row never ends up with only one of them.
func (r *Row) Apply(res GeocodeResult) {
	r.Dirty = true
	if !res.IsResolved() {
		r.Lat, r.Long = nil, nil
		return
	}

	lat, lon := res.Coordinates.Latitude, res.Coordinates.Longitude
	r.Lat, r.Long = &lat, &lon
}

// AddressTable is an ordered set of rows loaded from a table store.
type AddressTable struct {
	Rows []*Row
}

// Candidates returns the rows at or after start that still lack a coordinate,
// in ascending index order.
func (t *AddressTable) Candidates(start int) []*Row {
	var rows []*Row
	for _, row := range t.Rows {
		if row.Index < start || row.Resolved() {
			continue
		}
		rows = append(rows, row)
	}

	return rows
}

// DirtyRows returns the rows modified during the current run.
func (t *AddressTable) DirtyRows() []*Row {
	var rows []*Row
	for _, row := range t.Rows {
		if row.Dirty {
			rows = append(rows, row)
		}
	}

	return rows
}
