package photometry

import (
	"fmt"
	"math"
	"sort"

	"stonesteps/pkg/fitsdata"
)

// Names of the result tables attached to the data object.
const (
	LowThresholdTable  = "Low Threshold Sources"
	HighThresholdTable = "High Threshold Sources"
)

// Column names and units of a result table.
var tableColumns = []fitsdata.Column{
	{Name: "ID"},
	{Name: "X", Unit: "pixel"},
	{Name: "Y", Unit: "pixel"},
	{Name: "Uncalibrated Flux", Unit: "flux"},
	{Name: "Uncalibrated Fluxerr", Unit: "flux"},
	{Name: "Half-light Radius", Unit: "pixel"},
}

// Criteria selects star-like sources with usable photometry.
type Criteria struct {
	// MaxElongation rejects trailed and blended objects (A/B must be below).
	MaxElongation float64
	// MinSNR and MaxSNR bound Flux/FluxErr exclusively.
	MinSNR float64
	MaxSNR float64
}

// DefaultCriteria returns A/B < 1.5 and 0 < SNR < 1000.
func DefaultCriteria() Criteria {
	return Criteria{MaxElongation: 1.5, MinSNR: 0, MaxSNR: 1000}
}

// Accept reports whether s passes every cut.
func (c Criteria) Accept(s *Source) bool {
	if s.FluxErr == 0 || s.Flux == 0 {
		return false
	}
	if math.IsNaN(s.Flux) || math.IsNaN(s.FluxErr) || math.IsInf(s.Flux, 0) || math.IsInf(s.FluxErr, 0) {
		return false
	}
	if !(s.Object.Elongation() < c.MaxElongation) {
		return false
	}
	snr := s.SNR()
	return snr > c.MinSNR && snr < c.MaxSNR
}

// Row is an accepted source with its 1-based ID.
type Row struct {
	ID int
	Source
}

// Table is an ordered set of accepted sources.
type Table struct {
	Name string
	Rows []Row
}

// BuildTable keeps the sources c accepts, sorts them by elliptical flux,
// brightest first, keeping the input order of equal fluxes, and numbers them
// from 1.
func BuildTable(name string, sources []Source, c Criteria) *Table {
	t := &Table{Name: name, Rows: []Row{}}
	for i := range sources {
		if c.Accept(&sources[i]) {
			t.Rows = append(t.Rows, Row{Source: sources[i]})
		}
	}
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Flux > t.Rows[j].Flux
	})
	for i := range t.Rows {
		t.Rows[i].ID = i + 1
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// ToFits converts t into a binary table for the output file.
func (t *Table) ToFits() *fitsdata.Table {
	ft := &fitsdata.Table{Name: t.Name, Columns: tableColumns, Rows: make([][]float64, len(t.Rows))}
	for i, r := range t.Rows {
		ft.Rows[i] = []float64{float64(r.ID), r.Object.X, r.Object.Y, r.Flux, r.FluxErr, r.HalfFluxRadius}
	}
	return ft
}

// TableFromFits restores a result table written by ToFits. Only the table
// columns are restored; shape parameters are left zero.
func TableFromFits(ft *fitsdata.Table) (*Table, error) {
	cols := make([][]float64, len(tableColumns))
	for i, c := range tableColumns {
		cols[i] = ft.Column(c.Name)
		if cols[i] == nil && len(ft.Rows) > 0 {
			return nil, fmt.Errorf("table %q has no column %q", ft.Name, c.Name)
		}
	}
	t := &Table{Name: ft.Name, Rows: make([]Row, len(ft.Rows))}
	for i := range ft.Rows {
		r := &t.Rows[i]
		r.ID = int(cols[0][i])
		r.Object.X = cols[1][i]
		r.Object.Y = cols[2][i]
		r.Flux = cols[3][i]
		r.FluxErr = cols[4][i]
		r.HalfFluxRadius = cols[5][i]
	}
	return t, nil
}
