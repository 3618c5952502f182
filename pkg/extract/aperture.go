package extract

import (
	"math"

	"stonesteps/pkg/fitsdata"
)

// Half diagonal of a pixel, the largest distance from a pixel center to any
// point of that pixel.
const pixelHalfDiagonal = 0.7072

const fluxRadiusBins = 64

// ellipseCoeffs returns cxx, cyy, cxy for an ellipse with semi-axes a, b
// rotated by theta.
func ellipseCoeffs(a, b, theta float64) (float64, float64, float64) {
	sin, cos := math.Sincos(theta)
	ia2, ib2 := 1/(a*a), 1/(b*b)
	cxx := cos*cos*ia2 + sin*sin*ib2
	cyy := sin*sin*ia2 + cos*cos*ib2
	cxy := 2 * cos * sin * (ia2 - ib2)
	return cxx, cyy, cxy
}

func validShape(o *Object) bool {
	return o.A > 0 && o.B > 0 && !math.IsInf(o.A, 0) && !math.IsNaN(o.Theta) &&
		!math.IsNaN(o.X) && !math.IsNaN(o.Y)
}

// apertureBox returns the pixel range covering an ellipse of scaled radius r
// around (x, y), clipped to the image, and whether clipping occurred.
func apertureBox(img *fitsdata.Image, x, y, cxx, cyy, cxy, r float64) (x0, x1, y0, y1 int, clipped bool) {
	det := cxx*cyy - cxy*cxy/4
	dxlim := r * math.Sqrt(cyy/det)
	dylim := r * math.Sqrt(cxx/det)
	x0 = int(math.Floor(x - dxlim - 0.5))
	x1 = int(math.Ceil(x + dxlim + 0.5))
	y0 = int(math.Floor(y - dylim - 0.5))
	y1 = int(math.Ceil(y + dylim + 0.5))
	if x0 < 0 || y0 < 0 || x1 >= img.Width || y1 >= img.Height {
		clipped = true
	}
	return max(x0, 0), min(x1, img.Width-1), max(y0, 0), min(y1, img.Height-1), clipped
}

// KronRadius computes the first-moment radius of each object inside an
// ellipse of r times its shape, in units of that shape.
func KronRadius(img *fitsdata.Image, objs []Object, r float64) ([]float64, []Flag) {
	radii := make([]float64, len(objs))
	flags := make([]Flag, len(objs))
	for n := range objs {
		o := &objs[n]
		if !validShape(o) || !(r > 0) {
			flags[n] |= FlagDegenerate
			continue
		}
		cxx, cyy, cxy := ellipseCoeffs(o.A, o.B, o.Theta)
		x0, x1, y0, y1, clipped := apertureBox(img, o.X, o.Y, cxx, cyy, cxy, r)
		if clipped {
			flags[n] |= FlagApertureTruncated
		}
		r2 := r * r
		var r1sum, v1 float64
		for py := y0; py <= y1; py++ {
			dy := float64(py) - o.Y
			for px := x0; px <= x1; px++ {
				dx := float64(px) - o.X
				r1 := cxx*dx*dx + cyy*dy*dy + cxy*dx*dy
				if r1 >= r2 {
					continue
				}
				v := img.Pix[py*img.Width+px]
				if math.IsNaN(v) {
					continue
				}
				r1sum += v * math.Sqrt(r1)
				v1 += v
			}
		}
		if r1sum <= 0 || v1 <= 0 {
			flags[n] |= FlagApertureNonPositive
			continue
		}
		radii[n] = r1sum / v1
	}
	return radii, flags
}

// SumEllipse sums the flux of each object inside an ellipse of r[i] times its
// shape. Pixels on the aperture boundary are sampled on a subpix x subpix
// grid; subpix 0 uses DefaultSubpix. The error is sqrt(sum(w*noise²)) over the
// aperture, zero when noise is nil.
func SumEllipse(img *fitsdata.Image, objs []Object, r []float64, noise *fitsdata.Image, subpix int) ([]float64, []float64, []Flag) {
	if subpix <= 0 {
		subpix = DefaultSubpix
	}
	flux := make([]float64, len(objs))
	fluxErr := make([]float64, len(objs))
	flags := make([]Flag, len(objs))
	step := 1 / float64(subpix)
	subArea := step * step

	for n := range objs {
		o := &objs[n]
		rr := r[n]
		if !validShape(o) || !(rr > 0) || math.IsInf(rr, 0) {
			flags[n] |= FlagDegenerate
			continue
		}
		cxx, cyy, cxy := ellipseCoeffs(o.A, o.B, o.Theta)
		margin := pixelHalfDiagonal / o.B
		rin := math.Max(rr-margin, 0)
		rout := rr + margin
		x0, x1, y0, y1, clipped := apertureBox(img, o.X, o.Y, cxx, cyy, cxy, rout)
		if clipped {
			flags[n] |= FlagApertureTruncated
		}

		rr2, rin2, rout2 := rr*rr, rin*rin, rout*rout
		var sum, variance float64
		for py := y0; py <= y1; py++ {
			dy := float64(py) - o.Y
			for px := x0; px <= x1; px++ {
				dx := float64(px) - o.X
				r1 := cxx*dx*dx + cyy*dy*dy + cxy*dx*dy
				if r1 >= rout2 {
					continue
				}
				idx := py*img.Width + px
				v := img.Pix[idx]
				if math.IsNaN(v) {
					continue
				}
				w := 1.0
				if r1 > rin2 {
					w = 0
					for sy := 0; sy < subpix; sy++ {
						ddy := dy - 0.5 + (float64(sy)+0.5)*step
						for sx := 0; sx < subpix; sx++ {
							ddx := dx - 0.5 + (float64(sx)+0.5)*step
							if cxx*ddx*ddx+cyy*ddy*ddy+cxy*ddx*ddy < rr2 {
								w += subArea
							}
						}
					}
				}
				sum += w * v
				if noise != nil {
					s := noise.Pix[idx]
					variance += w * s * s
				}
			}
		}
		flux[n] = sum
		fluxErr[n] = math.Sqrt(variance)
		if sum <= 0 {
			flags[n] |= FlagApertureNonPositive
		}
	}
	return flux, fluxErr, flags
}

// FluxRadius returns, for each object, the radius of the circle that encloses
// frac of the flux found within rmax[i] of its center. Enclosed flux is binned
// in annuli and interpolated linearly inside the crossing bin.
func FluxRadius(img *fitsdata.Image, objs []Object, rmax []float64, frac float64, subpix int) ([]float64, []Flag) {
	if subpix <= 0 {
		subpix = DefaultSubpix
	}
	radii := make([]float64, len(objs))
	flags := make([]Flag, len(objs))
	step := 1 / float64(subpix)
	subArea := step * step
	bins := make([]float64, fluxRadiusBins)

	for n := range objs {
		o := &objs[n]
		rm := rmax[n]
		if math.IsNaN(o.X) || math.IsNaN(o.Y) || !(rm > 0) || math.IsInf(rm, 0) {
			radii[n] = math.NaN()
			flags[n] |= FlagDegenerate
			continue
		}
		for i := range bins {
			bins[i] = 0
		}
		binWidth := rm / fluxRadiusBins

		x0, x1, y0, y1, clipped := apertureBox(img, o.X, o.Y, 1, 1, 0, rm)
		if clipped {
			flags[n] |= FlagApertureTruncated
		}
		for py := y0; py <= y1; py++ {
			dy := float64(py) - o.Y
			for px := x0; px <= x1; px++ {
				dx := float64(px) - o.X
				if math.Hypot(dx, dy) >= rm+pixelHalfDiagonal {
					continue
				}
				v := img.Pix[py*img.Width+px]
				if math.IsNaN(v) {
					continue
				}
				for sy := 0; sy < subpix; sy++ {
					ddy := dy - 0.5 + (float64(sy)+0.5)*step
					for sx := 0; sx < subpix; sx++ {
						ddx := dx - 0.5 + (float64(sx)+0.5)*step
						d := math.Hypot(ddx, ddy)
						if d < rm {
							bins[min(int(d/binWidth), fluxRadiusBins-1)] += v * subArea
						}
					}
				}
			}
		}

		var total float64
		for _, b := range bins {
			total += b
		}
		if !(total > 0) {
			radii[n] = math.NaN()
			flags[n] |= FlagApertureNonPositive
			continue
		}
		target := frac * total
		radii[n] = rm
		var cum float64
		for i, b := range bins {
			if cum+b >= target && b > 0 {
				radii[n] = binWidth * (float64(i) + (target-cum)/b)
				break
			}
			cum += b
		}
	}
	return radii, flags
}
