package extract

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stonesteps/pkg/fitsdata"
)

func noiselessObject(t *testing.T, src gaussianSource) (*fitsdata.Image, []Object) {
	t.Helper()
	img := syntheticImage(100, 100, 0, 0, 0, src)
	objs, err := Extract(context.Background(), img, 1, nil, DefaultParams())
	require.NoError(t, err)
	require.Len(t, objs, 1)
	return img, objs
}

func TestMomentsOfRoundGaussian(t *testing.T) {
	_, objs := noiselessObject(t, gaussianSource{x: 50.25, y: 49.6, flux: 20000, sigma: 2})
	o := objs[0]
	assert.InDelta(t, 50.25, o.X, 0.02)
	assert.InDelta(t, 49.6, o.Y, 0.02)
	assert.InDelta(t, 2.0, o.A, 0.15)
	assert.InDelta(t, 2.0, o.B, 0.15)
	assert.Less(t, o.Elongation(), 1.05)
	assert.Greater(t, o.CXX, 0.0)
	assert.Greater(t, o.CYY, 0.0)
}

func TestKronSumEllipseAndFluxRadius(t *testing.T) {
	src := gaussianSource{x: 50.25, y: 49.6, flux: 20000, sigma: 2}
	img, objs := noiselessObject(t, src)

	kron, kflags := KronRadius(img, objs, 6)
	require.Len(t, kron, 1)
	assert.Zero(t, kflags[0])
	// First moment of a 2D Gaussian is sqrt(pi/2) sigma.
	assert.InDelta(t, math.Sqrt(math.Pi/2)*2/objs[0].A, kron[0], 0.1)

	noise := fitsdata.NewImage(img.Width, img.Height)
	for i := range noise.Pix {
		noise.Pix[i] = 2
	}
	flux, fluxErr, sflags := SumEllipse(img, objs, []float64{2.5 * kron[0]}, noise, 0)
	assert.Zero(t, sflags[0])
	assert.InDelta(t, src.flux, flux[0], 0.02*src.flux)
	assert.Less(t, flux[0], src.flux)
	// Error is 2*sqrt(area) for a constant noise map.
	area := math.Pi * 2.5 * kron[0] * 2.5 * kron[0] * objs[0].A * objs[0].B
	assert.InDelta(t, 2*math.Sqrt(area), fluxErr[0], 0.05*2*math.Sqrt(area))

	big, _, _ := SumEllipse(img, objs, []float64{8}, nil, 5)
	assert.InDelta(t, src.flux, big[0], 0.001*src.flux)

	rh, rflags := FluxRadius(img, objs, []float64{12}, 0.5, 5)
	assert.Zero(t, rflags[0])
	// Pixel integration widens the profile to sigma² + 1/12.
	want := math.Sqrt(2*math.Ln2) * math.Sqrt(src.sigma*src.sigma+1.0/12)
	assert.InDelta(t, want, rh[0], 0.08)
}

func TestSubpixRefinesBoundary(t *testing.T) {
	img := fitsdata.NewImage(40, 40)
	for i := range img.Pix {
		img.Pix[i] = 1
	}
	obj := Object{X: 20.3, Y: 19.8, A: 1, B: 1}
	for _, subpix := range []int{1, 5, 11} {
		flux, _, _ := SumEllipse(img, []Object{obj}, []float64{6}, nil, subpix)
		if subpix == 1 {
			assert.InDelta(t, 36*math.Pi, flux[0], 8)
		} else {
			assert.InDelta(t, 36*math.Pi, flux[0], 1.5)
		}
	}
}

func TestSubpixZeroSelectsDefault(t *testing.T) {
	img, objs := noiselessObject(t, gaussianSource{x: 20.3, y: 19.8, flux: 5000, sigma: 2})
	r := []float64{4}
	flux0, err0, _ := SumEllipse(img, objs, r, nil, 0)
	fluxD, errD, _ := SumEllipse(img, objs, r, nil, DefaultSubpix)
	assert.Equal(t, fluxD, flux0)
	assert.Equal(t, errD, err0)

	rh0, _ := FluxRadius(img, objs, []float64{10}, 0.5, 0)
	rhD, _ := FluxRadius(img, objs, []float64{10}, 0.5, DefaultSubpix)
	assert.Equal(t, rhD, rh0)
}

func TestApertureFlagsDegenerateGeometry(t *testing.T) {
	img := fitsdata.NewImage(20, 20)
	for i := range img.Pix {
		img.Pix[i] = 1
	}
	objs := []Object{
		{X: 10, Y: 10, A: 1, B: 0},
		{X: 0.5, Y: 10, A: 2, B: 2},
		{X: 10, Y: 10, A: 1, B: 1},
	}

	kron, kflags := KronRadius(img, objs, 6)
	assert.NotZero(t, kflags[0]&FlagDegenerate)
	assert.Zero(t, kron[0])
	assert.NotZero(t, kflags[1]&FlagApertureTruncated)

	flux, fluxErr, sflags := SumEllipse(img, objs, []float64{2, 2, 0}, nil, 5)
	assert.NotZero(t, sflags[0]&FlagDegenerate)
	assert.Zero(t, flux[0])
	assert.Zero(t, fluxErr[0])
	assert.NotZero(t, sflags[1]&FlagApertureTruncated)
	assert.NotZero(t, sflags[2]&FlagDegenerate)

	rh, rflags := FluxRadius(img, objs, []float64{3, 3, 0}, 0.5, 5)
	assert.NotZero(t, rflags[2]&FlagDegenerate)
	assert.True(t, math.IsNaN(rh[2]))
	assert.False(t, math.IsNaN(rh[0]))
}

func TestApertureFlagsNonPositiveFlux(t *testing.T) {
	img := fitsdata.NewImage(20, 20)
	for i := range img.Pix {
		img.Pix[i] = -1
	}
	objs := []Object{{X: 10, Y: 10, A: 1.5, B: 1}}

	_, kflags := KronRadius(img, objs, 6)
	assert.NotZero(t, kflags[0]&FlagApertureNonPositive)
	_, _, sflags := SumEllipse(img, objs, []float64{2}, nil, 5)
	assert.NotZero(t, sflags[0]&FlagApertureNonPositive)
	rh, rflags := FluxRadius(img, objs, []float64{3}, 0.5, 5)
	assert.NotZero(t, rflags[0]&FlagApertureNonPositive)
	assert.True(t, math.IsNaN(rh[0]))
}
