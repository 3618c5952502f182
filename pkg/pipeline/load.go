package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"stonesteps/pkg/fitsdata"
)

// LoadData reads a FITS file, or an ordinary image without header for
// source extraction.
func LoadData(path string) (*fitsdata.Data, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		d, err := fitsdata.ReadFits(path)
		if err != nil {
			return nil, fmt.Errorf("reading FITS: %w", err)
		}
		return d, nil
	}
	img, err := loadNonFitsImage(path)
	if err != nil {
		return nil, err
	}
	d := fitsdata.NewData(img)
	d.FileName = path
	return d, nil
}

// LoadMask reads a background mask image from path.
func LoadMask(path string) (*fitsdata.Image, error) {
	d, err := LoadData(path)
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	return d.Image, nil
}
