package extract

import (
	"context"
	"fmt"
	"math"

	"stonesteps/pkg/fitsdata"
)

// Extract detects objects in a background-subtracted image. A pixel belongs to
// an object when its (optionally filtered) value is strictly above
// thresh*noise, or above thresh when noise is nil. Components smaller than
// p.MinArea are dropped and the rest are deblended. Moments are measured on
// the unfiltered image.
func Extract(ctx context.Context, img *fitsdata.Image, thresh float64, noise *fitsdata.Image, p Params) ([]Object, error) {
	if noise != nil && (noise.Width != img.Width || noise.Height != img.Height) {
		return nil, fmt.Errorf("noise map %dx%d does not match image %dx%d", noise.Width, noise.Height, img.Width, img.Height)
	}
	if p.MinArea < 1 {
		p.MinArea = 1
	}
	width, height := img.Width, img.Height

	det := img.Pix
	if p.Filter {
		det = filterDetection(img)
	}
	threshold := func(i int) float64 {
		if noise == nil {
			return thresh
		}
		return thresh * noise.Pix[i]
	}

	mask := NewMatWithSize(height, width)
	maskData := mask.DataFloat64()
	for i, v := range det {
		if v > threshold(i) {
			maskData[i] = 1
		}
	}
	labels, n := labelComponents(mask)
	mask.Close()

	objects := []Object{}
	if n == 0 {
		return objects, nil
	}
	components := make([][]int, n)
	for i, l := range labels {
		if l > 0 {
			components[l-1] = append(components[l-1], i)
		}
	}

	for ci, comp := range components {
		if ci%64 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		if len(comp) < p.MinArea {
			continue
		}
		groups, merged := deblend(comp, det, width, p)
		for _, g := range groups {
			obj := measureObject(g, img, threshold)
			if merged {
				obj.Flags |= FlagMerged
			}
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

func filterDetection(img *fitsdata.Image) []float64 {
	src := toMat(img)
	defer src.Close()
	kernel := detectionKernel()
	defer kernel.Close()
	dst := NewMat()
	defer dst.Close()
	sepFilter2DReflect(src, &dst, kernel, kernel)
	return fromMat(dst, img.Width, img.Height).Pix
}

// singularityLimit guards the moments of objects that are too thin to
// define an ellipse, following SExtractor.
const (
	singularityLimit = 0.00694
	singularityPad   = 1.0 / 12.0
)

func measureObject(pix []int, img *fitsdata.Image, threshold func(int) float64) Object {
	width, height := img.Width, img.Height
	obj := Object{
		NPix: len(pix),
		XMin: width, YMin: height,
		XMax: -1, YMax: -1,
		Peak: math.Inf(-1),
	}
	peakIdx := pix[0]
	for _, i := range pix {
		x, y := i%width, i/width
		obj.XMin, obj.XMax = min(obj.XMin, x), max(obj.XMax, x)
		obj.YMin, obj.YMax = min(obj.YMin, y), max(obj.YMax, y)
		v := img.Pix[i]
		obj.Flux += v
		if v > obj.Peak {
			obj.Peak = v
			peakIdx = i
		}
	}
	obj.Thresh = threshold(peakIdx)

	// Weighted moments relative to the bounding-box corner.
	weighted := obj.Flux > 0
	var sw, sx, sy, sxx, syy, sxy float64
	for _, i := range pix {
		dx := float64(i%width - obj.XMin)
		dy := float64(i/width - obj.YMin)
		w := 1.0
		if weighted {
			w = img.Pix[i]
		}
		sw += w
		sx += w * dx
		sy += w * dy
		sxx += w * dx * dx
		syy += w * dy * dy
		sxy += w * dx * dy
	}
	mx, my := sx/sw, sy/sw
	obj.X = mx + float64(obj.XMin)
	obj.Y = my + float64(obj.YMin)
	obj.X2 = sxx/sw - mx*mx
	obj.Y2 = syy/sw - my*my
	obj.XY = sxy/sw - mx*my

	if obj.X2*obj.Y2-obj.XY*obj.XY < singularityLimit {
		obj.X2 += singularityPad
		obj.Y2 += singularityPad
	}
	setEllipse(&obj)

	if !weighted {
		obj.Flags |= FlagDegenerate
	}
	if obj.XMin == 0 || obj.YMin == 0 || obj.XMax == width-1 || obj.YMax == height-1 {
		obj.Flags |= FlagTruncated
	}
	return obj
}

// setEllipse derives A, B, Theta and the ellipse coefficients from the
// second moments.
func setEllipse(obj *Object) {
	x2, y2, xy := obj.X2, obj.Y2, obj.XY
	half := 0.5 * (x2 + y2)
	diff := x2 - y2
	root := math.Sqrt(0.25*diff*diff + xy*xy)

	obj.A = math.Sqrt(half + root)
	if half-root > 0 {
		obj.B = math.Sqrt(half - root)
	}
	if xy == 0 && diff == 0 {
		obj.Theta = 0
	} else {
		obj.Theta = 0.5 * math.Atan2(2*xy, diff)
	}

	det := x2*y2 - xy*xy
	if det > 0 && !math.IsNaN(det) && !math.IsInf(det, 0) {
		obj.CXX = y2 / det
		obj.CYY = x2 / det
		obj.CXY = -2 * xy / det
	}
	if !(obj.B > 0) || math.IsNaN(obj.A) || math.IsInf(obj.A, 0) {
		obj.Flags |= FlagDegenerate
	}
}
