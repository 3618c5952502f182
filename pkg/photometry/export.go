package photometry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Text table formats accepted by WriteText.
const (
	FormatCSV   = "csv"
	FormatTab   = "tab"
	FormatBasic = "basic"
)

const regionHeader = "# Region file format: DS9 version 4.1\n" +
	"global color=green dashlist=8 3 width=1 font=\"helvetica 10 normal roman\" " +
	"select=1 highlite=1 dash=0 fixed=0 edit=1 move=1 delete=1 include=1 source=1\n" +
	"image\n"

// WriteRegion writes a DS9 region file with one circle of the given pixel
// radius per row, labeled with the row ID.
func WriteRegion(w io.Writer, t *Table, radius float64) error {
	if _, err := io.WriteString(w, regionHeader); err != nil {
		return fmt.Errorf("write region header: %w", err)
	}
	for _, r := range t.Rows {
		if _, err := fmt.Fprintf(w, "circle(%.7f,%.7f,%g) # text={%d}\n", r.Object.X, r.Object.Y, radius, r.ID); err != nil {
			return fmt.Errorf("write region %d: %w", r.ID, err)
		}
	}
	return nil
}

// WriteText writes t as a delimited text table with a header row. Formats are
// csv, tab and basic (space separated, names with spaces quoted).
func WriteText(w io.Writer, t *Table, format string) error {
	cw := csv.NewWriter(w)
	switch format {
	case FormatCSV, "":
	case FormatTab:
		cw.Comma = '\t'
	case FormatBasic:
		cw.Comma = ' '
	default:
		return fmt.Errorf("unsupported table format %q", format)
	}

	header := make([]string, len(tableColumns))
	for i, c := range tableColumns {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write table header: %w", err)
	}
	for _, r := range t.Rows {
		record := []string{
			strconv.Itoa(r.ID),
			formatValue(r.Object.X),
			formatValue(r.Object.Y),
			formatValue(r.Flux),
			formatValue(r.FluxErr),
			formatValue(r.HalfFluxRadius),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write table row %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ExportFiles writes the region file and text table of t to regionPath and
// textPath.
func ExportFiles(t *Table, regionPath, textPath, format string, radius float64) error {
	if err := writeFile(regionPath, func(w io.Writer) error { return WriteRegion(w, t, radius) }); err != nil {
		return err
	}
	return writeFile(textPath, func(w io.Writer) error { return WriteText(w, t, format) })
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
