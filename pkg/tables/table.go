// Package tables reads and writes the CSV tables exchanged with the tracking engine and
// converts their rows to and from the in-memory records.
package tables

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"glycopaint/internal/fsutil"
)

// ErrSchemaMismatch is matched by every SchemaError
var ErrSchemaMismatch = errors.New("schema mismatch")

// SchemaError reports the columns a table is missing
type SchemaError struct {
	Table   string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing columns %s", e.Table, strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrSchemaMismatch) hold for a SchemaError
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// Row maps column names to raw cell values
type Row map[string]string

// Table is a CSV file held in memory. Header keeps the column order of the file.
type Table struct {
	Header []string
	Rows   []Row
}

// Read loads a CSV table with a header row
func Read(fsys fsutil.FileSystem, path string) (*Table, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// Decode parses CSV data with a header row
func Decode(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty table")
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Table{Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Write stores the table as CSV, cells ordered by Header
func Write(fsys fsutil.FileSystem, path string, t *Table) error {
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if err := Encode(w, t); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Encode writes the table as CSV
func Encode(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	rec := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i, col := range t.Header {
			rec[i] = row[col]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// HasColumn reports whether the header contains col
func (t *Table) HasColumn(col string) bool {
	return slices.Contains(t.Header, col)
}

// Require returns a SchemaError naming every column of cols absent from the header
func (t *Table) Require(name string, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Table: name, Missing: missing}
	}
	return nil
}

// EnsureColumns appends the columns of cols absent from the header
func (t *Table) EnsureColumns(cols ...string) {
	for _, c := range cols {
		if !t.HasColumn(c) {
			t.Header = append(t.Header, c)
		}
	}
}
