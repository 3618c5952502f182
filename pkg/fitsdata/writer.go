package fitsdata

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/astrogo/fitsio"
)

// WriteFile writes d to path as a FITS file.
func WriteFile(path string, d *Data) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create FITS file: %w", err)
	}
	if err := Write(f, d); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes d as a FITS stream: a BITPIX -32 primary image carrying the
// header cards, followed by one binary table extension per table.
func Write(w io.Writer, d *Data) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("create FITS stream: %w", err)
	}

	if err := writePrimary(f, d); err != nil {
		f.Close()
		return err
	}
	for _, t := range d.Tables {
		if err := writeTable(f, t); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close FITS stream: %w", err)
	}
	return nil
}

func writePrimary(f *fitsio.File, d *Data) error {
	img := fitsio.NewImage(-32, []int{d.Image.Width, d.Image.Height})
	defer img.Close()

	if d.Header != nil {
		cards := make([]fitsio.Card, 0, len(d.Header.cards))
		for _, c := range d.Header.Cards() {
			switch {
			case isStructuralKey(c.Key):
				continue
			case len(c.Key) > 8:
				return fmt.Errorf("header keyword %q is longer than 8 characters", c.Key)
			case isCommentary(c.Key):
				cards = append(cards, fitsio.Card{Name: c.Key, Comment: c.Comment})
				continue
			}
			cards = append(cards, fitsio.Card{Name: c.Key, Value: cardValue(c.Value), Comment: c.Comment})
		}
		if err := img.Header().Append(cards...); err != nil {
			return fmt.Errorf("append header cards: %w", err)
		}
	}

	pix := make([]float32, len(d.Image.Pix))
	for i, v := range d.Image.Pix {
		pix[i] = float32(v)
	}
	if err := img.Write(pix); err != nil {
		return fmt.Errorf("write image data: %w", err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("write primary HDU: %w", err)
	}
	return nil
}

// cardValue stores non-finite floats as strings, which FITS numbers cannot
// represent.
func cardValue(v interface{}) interface{} {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return v
}

func writeTable(f *fitsio.File, t *Table) error {
	cols := make([]fitsio.Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = fitsio.Column{Name: c.Name, Format: "D", Unit: c.Unit}
	}
	tbl, err := fitsio.NewTable(t.Name, cols, fitsio.BINARY_TBL)
	if err != nil {
		return fmt.Errorf("create table %q: %w", t.Name, err)
	}
	defer tbl.Close()

	args := make([]interface{}, len(t.Columns))
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("table %q row %d: %d values for %d columns", t.Name, r, len(row), len(t.Columns))
		}
		for i := range row {
			args[i] = &row[i]
		}
		if err := tbl.Write(args...); err != nil {
			return fmt.Errorf("write table %q row %d: %w", t.Name, r, err)
		}
	}
	if err := f.Write(tbl); err != nil {
		return fmt.Errorf("write table %q: %w", t.Name, err)
	}
	return nil
}
