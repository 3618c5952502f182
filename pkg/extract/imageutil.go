package extract

import (
	"math"
	"sort"

	"stonesteps/pkg/fitsdata"
)

// MeshStats holds the clipped statistics of one background mesh.
type MeshStats struct {
	Mode          float64
	Sigma         float64
	NumIterations int
}

// toMat copies an image into a new CV_64F Mat.
func toMat(img *fitsdata.Image) Mat {
	m := NewMatWithSize(img.Height, img.Width)
	copy(m.DataFloat64(), img.Pix)
	return m
}

// fromMat copies the top-left width x height corner of a contiguous Mat.
func fromMat(m Mat, width, height int) *fitsdata.Image {
	img := fitsdata.NewImage(width, height)
	data := m.DataFloat64()
	cols := m.Cols()
	for y := 0; y < height; y++ {
		copy(img.Pix[y*width:(y+1)*width], data[y*cols:y*cols+width])
	}
	return img
}

// gridMat builds a rows x cols Mat from row-major values.
func gridMat(values []float64, rows, cols int) Mat {
	m := NewMatWithSize(rows, cols)
	copy(m.DataFloat64(), values)
	return m
}

// detectionKernel returns the 1D factor of the [1 2 1]ᵀ[1 2 1]/16 kernel.
func detectionKernel() Mat {
	k := NewMatWithSize(3, 1)
	data := k.DataFloat64()
	data[0], data[1], data[2] = 0.25, 0.5, 0.25
	return k
}

// KappaSigmaClip estimates the background mode and sigma of values by
// iterative clipping at kappa sigma around the median. The mode is
// 2.5*median - 1.5*mean unless the clipped distribution is skewed, in which
// case the median is used. values is reordered.
func KappaSigmaClip(values []float64, kappa float64, allowedError float64, maxIterations int) MeshStats {
	if len(values) == 0 {
		return MeshStats{Mode: math.NaN(), Sigma: math.NaN()}
	}
	sort.Float64s(values)

	lo, hi := 0, len(values)
	var mean, sigma, median float64
	lastSigma := math.Inf(1)
	numIterations := 0
	for numIterations < maxIterations {
		window := values[lo:hi]
		mean, sigma = meanStdDev(window)
		median = sortedMedian(window)
		numIterations++
		if sigma == 0 || math.Abs(sigma-lastSigma) <= allowedError*sigma {
			break
		}
		lastSigma = sigma

		low := median - kappa*sigma
		high := median + kappa*sigma
		newLo := sort.SearchFloat64s(values, low)
		newHi := sort.Search(len(values), func(i int) bool { return values[i] > high })
		if newHi-newLo < 2 || (newLo == lo && newHi == hi) {
			break
		}
		lo, hi = newLo, newHi
	}

	mode := median
	if sigma > 0 && math.Abs(mean-median) < 0.3*sigma {
		mode = 2.5*median - 1.5*mean
	}
	return MeshStats{Mode: mode, Sigma: sigma, NumIterations: numIterations}
}

func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sse float64
	for _, v := range values {
		d := v - mean
		sse += d * d
	}
	return mean, math.Sqrt(sse / float64(len(values)))
}

func sortedMedian(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return 0.5 * (sorted[n/2-1] + sorted[n/2])
}

func medianFloat64(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sortedMedian(sorted)
}
