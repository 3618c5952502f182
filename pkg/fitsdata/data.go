package fitsdata

import (
	"path/filepath"
	"strings"
)

// Image is a 2D raster of float64 samples in row-major order.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// NewImage allocates a zeroed width x height image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float64, width*height)}
}

func (im *Image) At(x, y int) float64     { return im.Pix[y*im.Width+x] }
func (im *Image) Set(x, y int, v float64) { im.Pix[y*im.Width+x] = v }

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	pix := make([]float64, len(im.Pix))
	copy(pix, im.Pix)
	return &Image{Width: im.Width, Height: im.Height, Pix: pix}
}

// Column describes one table column.
type Column struct {
	Name string
	Unit string
}

// Table is a named numeric table attached to a Data object as a binary
// table extension.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]float64
}

// Column returns the values of the named column, or nil.
func (t *Table) Column(name string) []float64 {
	for i, c := range t.Columns {
		if c.Name != name {
			continue
		}
		out := make([]float64, len(t.Rows))
		for r, row := range t.Rows {
			out[r] = row[i]
		}
		return out
	}
	return nil
}

// Data is a pipeline data object: a primary image with its header plus any
// number of tables.
type Data struct {
	FileName string
	Header   *Header
	Image    *Image
	Tables   []*Table
}

// NewData wraps img with an empty header.
func NewData(img *Image) *Data {
	return &Data{Header: NewHeader(), Image: img}
}

// SetTable adds t, replacing an existing table with the same name.
func (d *Data) SetTable(t *Table) {
	for i, existing := range d.Tables {
		if existing.Name == t.Name {
			d.Tables[i] = t
			return
		}
	}
	d.Tables = append(d.Tables, t)
}

// Table returns the named table, or nil.
func (d *Data) Table(name string) *Table {
	for _, t := range d.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// FilenameBegin returns the file name without its FITS extension, with a
// trailing separator, for naming derived products.
func (d *Data) FilenameBegin() string {
	name := d.FileName
	if name == "" {
		name = "stonesteps"
	}
	ext := filepath.Ext(name)
	switch strings.ToLower(ext) {
	case ".fits", ".fit", ".fts", ".png", ".jpg", ".jpeg", ".tif", ".tiff":
		name = strings.TrimSuffix(name, ext)
	}
	if strings.HasSuffix(name, "_") || strings.HasSuffix(name, "-") || strings.HasSuffix(name, ".") {
		return name
	}
	return name + "_"
}
