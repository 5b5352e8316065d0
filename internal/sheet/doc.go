// Package sheet stores address tables in spreadsheet files.
//
// A table has a header row naming its columns. ADDRESS_CONCAT is required;
// LAT and LONG are appended to the header when missing. Every other column
// is carried through a load/save cycle untouched.
package sheet
