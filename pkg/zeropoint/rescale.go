package zeropoint

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"stonesteps/pkg/fitsdata"
)

// DefaultZeroPercentile is the pixel percentile used as the zero flux level.
const DefaultZeroPercentile = 30.0

// abZeroFlux is the AB magnitude zero point flux density in Jy.
const abZeroFlux = 3631.0

// Scaling maps counts to Jy: image' = BScale * (image - BZero).
type Scaling struct {
	BZero, BScale float64
}

// NewScaling takes BZero from the given percentile (0-100) of the finite
// pixels of img and BScale from the fitted offset.
func NewScaling(img *fitsdata.Image, percentile float64, r Result) (Scaling, error) {
	finitePix := make([]float64, 0, len(img.Pix))
	for _, v := range img.Pix {
		if finite(v) {
			finitePix = append(finitePix, v)
		}
	}
	if len(finitePix) == 0 {
		return Scaling{}, errors.New("image has no finite pixels")
	}
	sort.Float64s(finitePix)
	p := math.Min(math.Max(percentile/100, 0), 1)
	return Scaling{
		BZero:  stat.Quantile(p, stat.Empirical, finitePix, nil),
		BScale: abZeroFlux * math.Pow(10, r.Offset/2.5),
	}, nil
}

// Apply returns the rescaled copy of img.
func (s Scaling) Apply(img *fitsdata.Image) *fitsdata.Image {
	out := img.Clone()
	for i, v := range out.Pix {
		out.Pix[i] = s.BScale * (v - s.BZero)
	}
	return out
}

// Invert undoes Apply.
func (s Scaling) Invert(img *fitsdata.Image) *fitsdata.Image {
	out := img.Clone()
	for i, v := range out.Pix {
		out.Pix[i] = v/s.BScale + s.BZero
	}
	return out
}
