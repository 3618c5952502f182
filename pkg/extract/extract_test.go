package extract

import (
	"context"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stonesteps/pkg/fitsdata"
)

type gaussianSource struct {
	x, y, flux, sigma float64
}

// syntheticImage renders pixel-integrated Gaussian sources on a flat
// background with optional Gaussian noise.
func syntheticImage(width, height int, background, noise float64, seed int64, sources ...gaussianSource) *fitsdata.Image {
	img := fitsdata.NewImage(width, height)
	rng := rand.New(rand.NewSource(seed))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := background
			for _, s := range sources {
				v += s.flux * pixelFraction(float64(x), s.x, s.sigma) * pixelFraction(float64(y), s.y, s.sigma)
			}
			if noise > 0 {
				v += rng.NormFloat64() * noise
			}
			img.Set(x, y, v)
		}
	}
	return img
}

func pixelFraction(p, center, sigma float64) float64 {
	s := sigma * math.Sqrt2
	return 0.5 * (math.Erf((p+0.5-center)/s) - math.Erf((p-0.5-center)/s))
}

func extractBoth(t *testing.T, img *fitsdata.Image, thresh float64) (*Background, *fitsdata.Image, []Object) {
	t.Helper()
	ctx := context.Background()
	bkg, err := NewBackground(ctx, img, DefaultBackgroundParams())
	require.NoError(t, err)
	sub := bkg.Subtract(img)
	objs, err := Extract(ctx, sub, thresh, bkg.RMS, DefaultParams())
	require.NoError(t, err)
	return bkg, sub, objs
}

func TestExtractEmptyImage(t *testing.T) {
	img := fitsdata.NewImage(64, 48)
	_, _, objs := extractBoth(t, img, 2)
	assert.Empty(t, objs)

	objs, err := Extract(context.Background(), img, 1, nil, DefaultParams())
	require.NoError(t, err)
	assert.NotNil(t, objs)
	assert.Empty(t, objs)
}

func TestExtractPureNoiseAboveHighThreshold(t *testing.T) {
	img := syntheticImage(100, 100, 100, 5, 7)
	_, _, objs := extractBoth(t, img, 20)
	assert.Empty(t, objs)
}

func TestBackgroundOfNoisyField(t *testing.T) {
	img := syntheticImage(100, 100, 100, 5, 3, gaussianSource{x: 56.3, y: 55.7, flux: 20000, sigma: 2})
	bkg, err := NewBackground(context.Background(), img, DefaultBackgroundParams())
	require.NoError(t, err)
	assert.InDelta(t, 100, bkg.GlobalBack, 1)
	assert.InDelta(t, 5, bkg.GlobalRMS, 1)
	assert.Equal(t, img.Width, bkg.Level.Width)
	assert.Equal(t, img.Height, bkg.RMS.Height)
	for _, v := range bkg.Level.Pix {
		require.InDelta(t, 100, v, 5)
	}
}

func TestBackgroundRejectsBadParams(t *testing.T) {
	img := fitsdata.NewImage(10, 10)
	_, err := NewBackground(context.Background(), img, BackgroundParams{})
	assert.Error(t, err)

	p := DefaultBackgroundParams()
	p.Mask = make([]float64, 3)
	_, err = NewBackground(context.Background(), img, p)
	assert.Error(t, err)

	p.Mask = make([]float64, 100)
	for i := range p.Mask {
		p.Mask[i] = 1
	}
	_, err = NewBackground(context.Background(), img, p)
	assert.ErrorContains(t, err, "no usable background mesh")
}

func TestBackgroundMaskedMeshIsFilled(t *testing.T) {
	img := fitsdata.NewImage(32, 16)
	for i := range img.Pix {
		img.Pix[i] = 50
	}
	p := DefaultBackgroundParams()
	p.FilterWidth, p.FilterHeight = 1, 1
	p.Mask = make([]float64, len(img.Pix))
	for y := 0; y < 16; y++ {
		for x := 16; x < 32; x++ {
			p.Mask[y*32+x] = 1
			img.Set(x, y, 1e6)
		}
	}
	bkg, err := NewBackground(context.Background(), img, p)
	require.NoError(t, err)
	assert.InDelta(t, 50, bkg.Level.At(30, 8), 1e-9)
}

func TestExtractSingleGaussian(t *testing.T) {
	src := gaussianSource{x: 56.3, y: 55.7, flux: 20000, sigma: 2}
	img := syntheticImage(100, 100, 100, 5, 11, src)
	_, _, objs := extractBoth(t, img, 2)
	require.NotEmpty(t, objs)

	best := objs[0]
	for _, o := range objs[1:] {
		if o.Flux > best.Flux {
			best = o
		}
	}
	assert.InDelta(t, src.x, best.X, 0.2)
	assert.InDelta(t, src.y, best.Y, 0.2)
	assert.Less(t, best.Elongation(), 1.3)
	assert.Zero(t, best.Flags&FlagTruncated)
	assert.Greater(t, best.NPix, 20)
	assert.True(t, best.XMin < int(src.x) && best.XMax > int(src.x))
}

func TestExtractShapesAreOffsetInvariant(t *testing.T) {
	src := gaussianSource{x: 40.2, y: 61.9, flux: 15000, sigma: 1.8}
	img := syntheticImage(100, 100, 100, 5, 5, src)
	shifted := img.Clone()
	for i := range shifted.Pix {
		shifted.Pix[i] += 1000
	}

	_, _, a := extractBoth(t, img, 2)
	_, _, b := extractBoth(t, shifted, 2)
	require.Equal(t, len(a), len(b))
	require.NotEmpty(t, a)
	for i := range a {
		assert.InDelta(t, a[i].A, b[i].A, 1e-6)
		assert.InDelta(t, a[i].B, b[i].B, 1e-6)
		assert.InDelta(t, a[i].Theta, b[i].Theta, 1e-6)
		assert.InDelta(t, a[i].X, b[i].X, 1e-6)
	}
}

func TestExtractDeblendsBlendedPair(t *testing.T) {
	img := syntheticImage(80, 60, 0, 0, 0,
		gaussianSource{x: 35, y: 30, flux: 10000, sigma: 2},
		gaussianSource{x: 44, y: 30, flux: 8000, sigma: 2},
	)
	p := DefaultParams()
	objs, err := Extract(context.Background(), img, 1, nil, p)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	for _, o := range objs {
		assert.NotZero(t, o.Flags&FlagMerged)
	}
	xs := []float64{objs[0].X, objs[1].X}
	if xs[0] > xs[1] {
		xs[0], xs[1] = xs[1], xs[0]
	}
	assert.InDelta(t, 35, xs[0], 0.5)
	assert.InDelta(t, 44, xs[1], 0.5)

	p.DeblendNThresh = 1
	objs, err = Extract(context.Background(), img, 1, nil, p)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Zero(t, objs[0].Flags&FlagMerged)
}

func TestDeblenderBoundsEnclosesRegion(t *testing.T) {
	d := deblender{width: 10}
	assert.Equal(t, image.Rect(3, 2, 4, 3), d.bounds([]int{23}))
	assert.Equal(t, image.Rect(1, 0, 8, 5), d.bounds([]int{1, 47, 17, 7}))
}

func TestExtractDropsSmallComponents(t *testing.T) {
	img := fitsdata.NewImage(20, 20)
	img.Set(5, 5, 100)
	img.Set(6, 5, 100)
	p := DefaultParams()
	p.Filter = false
	objs, err := Extract(context.Background(), img, 1, nil, p)
	require.NoError(t, err)
	assert.Empty(t, objs)

	p.MinArea = 2
	objs, err = Extract(context.Background(), img, 1, nil, p)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	// A two-pixel object hits the singularity guard.
	assert.InDelta(t, 5.5, objs[0].X, 1e-12)
	assert.Greater(t, objs[0].B, 0.0)
}

func TestExtractHonorsCancellation(t *testing.T) {
	img := syntheticImage(40, 40, 0, 0, 0, gaussianSource{x: 20, y: 20, flux: 1000, sigma: 1.5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Extract(ctx, img, 0.5, nil, DefaultParams())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = NewBackground(ctx, img, DefaultBackgroundParams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractRejectsMismatchedNoise(t *testing.T) {
	_, err := Extract(context.Background(), fitsdata.NewImage(4, 4), 1, fitsdata.NewImage(3, 4), DefaultParams())
	assert.Error(t, err)
}

func TestKappaSigmaClipRejectsOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	values := make([]float64, 0, 1100)
	for i := 0; i < 1000; i++ {
		values = append(values, 200+rng.NormFloat64()*10)
	}
	for i := 0; i < 100; i++ {
		values = append(values, 5000)
	}
	stats := KappaSigmaClip(values, 3, 1e-4, 100)
	assert.InDelta(t, 200, stats.Mode, 2)
	assert.InDelta(t, 10, stats.Sigma, 1.5)
	assert.Greater(t, stats.NumIterations, 1)

	empty := KappaSigmaClip(nil, 3, 1e-4, 10)
	assert.True(t, math.IsNaN(empty.Mode))
}

func TestLabelComponentsEightConnected(t *testing.T) {
	m := NewMatWithSize(4, 5)
	defer m.Close()
	data := m.DataFloat64()
	// Diagonal pair joins; the right column is separate.
	data[0*5+0] = 1
	data[1*5+1] = 1
	data[0*5+4] = 1
	data[1*5+4] = 1
	data[3*5+2] = 1

	labels, n := labelComponents(m)
	require.Equal(t, 3, n)
	assert.Equal(t, labels[0], labels[6])
	assert.NotEqual(t, labels[0], labels[4])
	assert.Equal(t, labels[4], labels[9])
	assert.Zero(t, labels[1])
	assert.NotZero(t, labels[17])
}

func TestResizeCubicKeepsConstant(t *testing.T) {
	src := gridMat([]float64{7, 7, 7, 7, 7, 7}, 2, 3)
	defer src.Close()
	dst := NewMat()
	defer dst.Close()
	resizeCubic(src, &dst, 32, 48)
	require.Equal(t, 32, dst.Rows())
	require.Equal(t, 48, dst.Cols())
	for _, v := range dst.DataFloat64()[:32*48] {
		require.InDelta(t, 7, v, 1e-9)
	}
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "none", Flag(0).String())
	assert.Equal(t, "merged|degenerate", (FlagMerged | FlagDegenerate).String())
}
