package fitsdata

import (
	"fmt"
	"io"
	"strings"

	"github.com/astrogo/fitsio"
)

// readTables decodes the binary table extensions whose columns are all
// float64. A stream that fitsio cannot open yields no tables; the primary
// HDU has already been read by then.
func readTables(r io.Reader) ([]*Table, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	var tables []*Table
	for _, hdu := range f.HDUs() {
		tbl, ok := hdu.(*fitsio.Table)
		if !ok || !doubleColumns(tbl.Cols()) {
			continue
		}
		t, err := decodeTable(tbl)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func doubleColumns(cols []fitsio.Column) bool {
	for _, c := range cols {
		format := strings.TrimSpace(c.Format)
		if format != "D" && format != "1D" {
			return false
		}
	}
	return len(cols) > 0
}

func decodeTable(tbl *fitsio.Table) (*Table, error) {
	cols := tbl.Cols()
	t := &Table{Name: tbl.Name(), Columns: make([]Column, len(cols))}
	for i, c := range cols {
		t.Columns[i] = Column{Name: c.Name, Unit: c.Unit}
	}

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("reading table %q: %w", t.Name, err)
	}
	defer rows.Close()

	args := make([]interface{}, len(cols))
	for rows.Next() {
		row := make([]float64, len(cols))
		for i := range row {
			args[i] = &row[i]
		}
		if err := rows.Scan(args...); err != nil {
			return nil, fmt.Errorf("reading table %q row %d: %w", t.Name, len(t.Rows), err)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading table %q: %w", t.Name, err)
	}
	return t, nil
}
