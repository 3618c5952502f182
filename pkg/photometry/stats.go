package photometry

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// madScale converts a median absolute deviation into a Gaussian sigma.
const madScale = 1.4826

// Summary holds the header statistics of a result table.
type Summary struct {
	N int
	// RHalf is the mean half-flux radius, RHalfStd its MAD-based spread.
	RHalf      float64
	RHalfStd   float64
	Elongation float64
}

// Summarize computes the statistics over the rows of t. NaN values are
// ignored; an empty table yields NaN statistics.
func Summarize(t *Table) Summary {
	rhalf := make([]float64, len(t.Rows))
	elong := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		rhalf[i] = r.HalfFluxRadius
		elong[i] = r.Object.Elongation()
	}
	return Summary{
		N:          len(t.Rows),
		RHalf:      NaNMean(rhalf),
		RHalfStd:   MADStd(rhalf),
		Elongation: NaNMean(elong),
	}
}

// NaNMean returns the mean of the non-NaN values, or NaN if there are none.
func NaNMean(values []float64) float64 {
	finite := dropNaN(values)
	if len(finite) == 0 {
		return math.NaN()
	}
	return stat.Mean(finite, nil)
}

// MADStd returns 1.4826 times the median absolute deviation of the non-NaN
// values, or NaN if there are none.
func MADStd(values []float64) float64 {
	_, s := MedianMADStd(values)
	return s
}

// MedianMADStd returns the median and MAD-based standard deviation of the
// non-NaN values.
func MedianMADStd(values []float64) (float64, float64) {
	finite := dropNaN(values)
	if len(finite) == 0 {
		return math.NaN(), math.NaN()
	}
	med := median(finite)
	for i, v := range finite {
		finite[i] = math.Abs(v - med)
	}
	return med, madScale * median(finite)
}

func dropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// median sorts values in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return 0.5 * (values[n/2-1] + values[n/2])
}
