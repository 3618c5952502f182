package zeropoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stonesteps/pkg/fitsdata"
)

func TestFitTwoPoints(t *testing.T) {
	// instrumental = catalog - 24.5
	points := []Point{
		{Catalog: 14, CatalogErr: 0.02, Instrumental: -10.5, InstrumentalErr: 0.01},
		{Catalog: 16, CatalogErr: 0.03, Instrumental: -8.5, InstrumentalErr: 0.02},
	}
	r, err := Fit(points, DefaultMinMatches)
	require.NoError(t, err)
	assert.Equal(t, 2, r.N)
	assert.InDelta(t, 1.0, r.Slope, 1e-4)
	assert.InDelta(t, -24.5, r.Offset, 1e-3)
	assert.InDelta(t, 24.5, r.ZeroPoint, 1e-3)
	assert.Greater(t, r.ZeroPointErr, 0.0)
	assert.False(t, math.IsNaN(r.ZeroPointErr))
}

func TestFitWeightsNoisyPoints(t *testing.T) {
	points := []Point{
		{Catalog: 12, CatalogErr: 0.01, Instrumental: -13.0, InstrumentalErr: 0.01},
		{Catalog: 14, CatalogErr: 0.01, Instrumental: -11.0, InstrumentalErr: 0.01},
		{Catalog: 16, CatalogErr: 0.01, Instrumental: -9.0, InstrumentalErr: 0.01},
		// a poorly measured outlier barely moves the line
		{Catalog: 15, CatalogErr: 5, Instrumental: -5.0, InstrumentalErr: 5},
	}
	r, err := Fit(points, DefaultMinMatches)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r.Slope, 1e-3)
	assert.InDelta(t, 25.0, r.ZeroPoint, 0.02)
}

func TestFitInsufficientMatches(t *testing.T) {
	_, err := Fit([]Point{{Catalog: 14, CatalogErr: 0.02, Instrumental: -10, InstrumentalErr: 0.01}}, DefaultMinMatches)
	assert.ErrorIs(t, err, ErrInsufficientMatches)
	assert.Contains(t, err.Error(), "insufficient calibration matches")

	_, err = Fit(nil, 0)
	assert.ErrorIs(t, err, ErrInsufficientMatches)

	// non-finite pairs do not count
	_, err = Fit([]Point{
		{Catalog: 14, CatalogErr: 0.02, Instrumental: -10, InstrumentalErr: 0.01},
		{Catalog: 15, CatalogErr: 0.02, Instrumental: math.NaN(), InstrumentalErr: 0.01},
		{Catalog: 16},
	}, DefaultMinMatches)
	assert.ErrorIs(t, err, ErrInsufficientMatches)

	_, err = Fit([]Point{
		{Catalog: 14, CatalogErr: 0.02, Instrumental: -10, InstrumentalErr: 0.01},
		{Catalog: 14, CatalogErr: 0.02, Instrumental: -10.2, InstrumentalErr: 0.01},
		{Catalog: 16, CatalogErr: 0.02, Instrumental: -8, InstrumentalErr: 0.01},
	}, 4)
	assert.ErrorIs(t, err, ErrInsufficientMatches)
}

func TestFitIdenticalCatalogMagnitudes(t *testing.T) {
	r, err := Fit([]Point{
		{Catalog: 15, CatalogErr: 0.02, Instrumental: 15.05, InstrumentalErr: 0.02},
		{Catalog: 15, CatalogErr: 0.02, Instrumental: 14.95, InstrumentalErr: 0.02},
	}, DefaultMinMatches)
	require.NoError(t, err)
	assert.Equal(t, 2, r.N)
	assert.False(t, math.IsNaN(r.Slope) || math.IsInf(r.Slope, 0))
	assert.Equal(t, -r.Offset, r.ZeroPoint)
	// any line through the mean instrumental magnitude is a maximum
	assert.InDelta(t, 15.0, r.Slope*15+r.Offset, 1e-4)
	assert.True(t, math.IsNaN(r.ZeroPointErr))
}

func TestInstrumentalMag(t *testing.T) {
	mag, magErr := InstrumentalMag(10000, 100)
	assert.InDelta(t, -10.0, mag, 1e-12)
	assert.InDelta(t, 2.5/math.Ln10*0.01, magErr, 1e-12)
}

func TestScalingRoundTrip(t *testing.T) {
	img := fitsdata.NewImage(10, 10)
	for i := range img.Pix {
		img.Pix[i] = float64(i)
	}
	img.Pix[5] = math.NaN()

	s, err := NewScaling(img, DefaultZeroPercentile, Result{Offset: -25})
	require.NoError(t, err)
	assert.InDelta(t, 3631*math.Pow(10, -10), s.BScale, 1e-20)
	assert.GreaterOrEqual(t, s.BZero, 28.0)
	assert.LessOrEqual(t, s.BZero, 31.0)

	scaled := s.Apply(img)
	assert.InDelta(t, s.BScale*(50-s.BZero), scaled.Pix[50], 1e-18)
	assert.Equal(t, 0.0, img.Pix[0], "input is not modified")

	back := s.Invert(scaled)
	for i, v := range img.Pix {
		if math.IsNaN(v) {
			assert.True(t, math.IsNaN(back.Pix[i]))
			continue
		}
		assert.InDelta(t, v, back.Pix[i], 1e-9)
	}
}

func TestScalingNoFinitePixels(t *testing.T) {
	img := fitsdata.NewImage(2, 2)
	for i := range img.Pix {
		img.Pix[i] = math.Inf(1)
	}
	_, err := NewScaling(img, 30, Result{})
	assert.Error(t, err)
}
