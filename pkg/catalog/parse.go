package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// DefaultMaxMag is the faint limit of usable catalog entries.
const DefaultMaxMag = 22.0

// Entry is a catalog star with its magnitude in the requested band.
type Entry struct {
	RA, Dec float64
	Mag     float64
	MagErr  float64
}

// Band returns the catalog band of a FILTER keyword: everything before the
// first '-', so "r-SDSS" becomes "r".
func Band(filter string) string {
	filter = strings.TrimSpace(filter)
	if i := strings.IndexByte(filter, '-'); i >= 0 {
		filter = filter[:i]
	}
	return filter
}

// MagColumns returns the magnitude and error column names of band.
func MagColumns(band string) (string, string) {
	return "SDSS" + band + "Mag", "SDSS" + band + "MagErr"
}

// ParseEntries reads a CSV catalog reply. Blank lines and lines starting with
// '#' are skipped. The header must name ra, dec and the magnitude
// columns of band. Rows with a missing or out of range magnitude, or a
// missing magnitude error, are dropped; only 0 < mag < maxMag is kept.
func ParseEntries(data []byte, band string, maxMag float64) ([]Entry, error) {
	if maxMag <= 0 {
		maxMag = DefaultMaxMag
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	magName, errName := MagColumns(band)
	raCol := columnIndex(header, "ra")
	decCol := columnIndex(header, "dec")
	magCol := columnIndex(header, magName)
	errCol := columnIndex(header, errName)
	switch {
	case raCol < 0 || decCol < 0:
		return nil, fmt.Errorf("%w: no ra/dec columns", ErrMalformedResponse)
	case magCol < 0 || errCol < 0:
		return nil, fmt.Errorf("%w: no %s/%s columns", ErrMalformedResponse, magName, errName)
	}
	width := max(raCol, decCol, magCol, errCol) + 1

	entries := []Entry{}
	for row := 1; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		if len(rec) < width {
			return nil, fmt.Errorf("%w: row %d has %d fields, want %d", ErrMalformedResponse, row, len(rec), width)
		}
		ra, err1 := parseNumber(rec[raCol])
		dec, err2 := parseNumber(rec[decCol])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: row %d has bad coordinates", ErrMalformedResponse, row)
		}
		mag, err := parseNumber(rec[magCol])
		if err != nil || !(mag > 0 && mag < maxMag) {
			continue
		}
		magErr, err := parseNumber(rec[errCol])
		if err != nil || magErr < 0 {
			continue
		}
		entries = append(entries, Entry{RA: ra, Dec: dec, Mag: mag, MagErr: magErr})
	}
	return entries, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}
