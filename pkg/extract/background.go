package extract

import (
	"context"
	"fmt"
	"math"

	"stonesteps/pkg/fitsdata"
)

// BackgroundParams configures the mesh background model.
type BackgroundParams struct {
	MeshWidth, MeshHeight     int
	FilterWidth, FilterHeight int
	// FilterThreshold limits median filtering to meshes whose level differs
	// from the local median by more than this value.
	FilterThreshold float64
	// Mask, when set, excludes pixels whose mask value exceeds MaskThreshold.
	Mask          []float64
	MaskThreshold float64
}

// DefaultBackgroundParams returns 16x16 meshes with a 3x3 median filter.
func DefaultBackgroundParams() BackgroundParams {
	return BackgroundParams{
		MeshWidth:    16,
		MeshHeight:   16,
		FilterWidth:  3,
		FilterHeight: 3,
	}
}

// Background is a per-pixel background level and noise model.
type Background struct {
	Level *fitsdata.Image
	RMS   *fitsdata.Image

	// GlobalBack and GlobalRMS are the medians of the mesh grids.
	GlobalBack float64
	GlobalRMS  float64
}

const (
	backgroundKappa      = 3.0
	backgroundMaxIter    = 100
	backgroundAllowedErr = 1e-4
)

// NewBackground estimates the background of img.
func NewBackground(ctx context.Context, img *fitsdata.Image, p BackgroundParams) (*Background, error) {
	if img.Width == 0 || img.Height == 0 {
		return nil, fmt.Errorf("empty image %dx%d", img.Width, img.Height)
	}
	if p.MeshWidth <= 0 || p.MeshHeight <= 0 {
		return nil, fmt.Errorf("mesh size must be positive, got %dx%d", p.MeshWidth, p.MeshHeight)
	}
	if p.Mask != nil && len(p.Mask) != len(img.Pix) {
		return nil, fmt.Errorf("mask has %d values for %d pixels", len(p.Mask), len(img.Pix))
	}
	bw, bh := p.MeshWidth, p.MeshHeight
	nx := (img.Width + bw - 1) / bw
	ny := (img.Height + bh - 1) / bh

	level := make([]float64, nx*ny)
	sigma := make([]float64, nx*ny)
	valid := make([]bool, nx*ny)
	buf := make([]float64, 0, bw*bh)

	for my := 0; my < ny; my++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		for mx := 0; mx < nx; mx++ {
			buf = buf[:0]
			total := 0
			for y := my * bh; y < min((my+1)*bh, img.Height); y++ {
				for x := mx * bw; x < min((mx+1)*bw, img.Width); x++ {
					total++
					i := y*img.Width + x
					v := img.Pix[i]
					if math.IsNaN(v) || math.IsInf(v, 0) {
						continue
					}
					if p.Mask != nil && p.Mask[i] > p.MaskThreshold {
						continue
					}
					buf = append(buf, v)
				}
			}
			k := my*nx + mx
			if len(buf)*2 < total || len(buf) == 0 {
				continue
			}
			stats := KappaSigmaClip(buf, backgroundKappa, backgroundAllowedErr, backgroundMaxIter)
			level[k], sigma[k], valid[k] = stats.Mode, stats.Sigma, true
		}
	}

	if !fillInvalidMeshes(level, sigma, valid, nx, ny) {
		return nil, fmt.Errorf("no usable background mesh in %dx%d image", img.Width, img.Height)
	}
	if p.FilterWidth > 1 || p.FilterHeight > 1 {
		medianFilterMeshes(level, sigma, nx, ny, p.FilterWidth, p.FilterHeight, p.FilterThreshold)
	}

	return &Background{
		Level:      interpolateMeshes(level, nx, ny, bw, bh, img.Width, img.Height),
		RMS:        interpolateMeshes(sigma, nx, ny, bw, bh, img.Width, img.Height),
		GlobalBack: medianFloat64(level),
		GlobalRMS:  medianFloat64(sigma),
	}, nil
}

// Subtract returns img minus the background level.
func (b *Background) Subtract(img *fitsdata.Image) *fitsdata.Image {
	out := img.Clone()
	for i := range out.Pix {
		out.Pix[i] -= b.Level.Pix[i]
	}
	return out
}

// fillInvalidMeshes replaces unusable meshes with the mean of the nearest
// ring of usable ones. It reports false when no mesh is usable.
func fillInvalidMeshes(level, sigma []float64, valid []bool, nx, ny int) bool {
	usable := false
	for _, v := range valid {
		usable = usable || v
	}
	if !usable {
		return false
	}
	src := make([]bool, len(valid))
	copy(src, valid)
	for k := range valid {
		if src[k] {
			continue
		}
		kx, ky := k%nx, k/nx
		for radius := 1; ; radius++ {
			var sumL, sumS float64
			n := 0
			for y := max(ky-radius, 0); y <= min(ky+radius, ny-1); y++ {
				for x := max(kx-radius, 0); x <= min(kx+radius, nx-1); x++ {
					j := y*nx + x
					if src[j] {
						sumL += level[j]
						sumS += sigma[j]
						n++
					}
				}
			}
			if n > 0 {
				level[k] = sumL / float64(n)
				sigma[k] = sumS / float64(n)
				break
			}
		}
	}
	return true
}

func medianFilterMeshes(level, sigma []float64, nx, ny, fw, fh int, threshold float64) {
	hx, hy := fw/2, fh/2
	origL := make([]float64, len(level))
	origS := make([]float64, len(sigma))
	copy(origL, level)
	copy(origS, sigma)
	winL := make([]float64, 0, fw*fh)
	winS := make([]float64, 0, fw*fh)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			winL, winS = winL[:0], winS[:0]
			for yy := max(y-hy, 0); yy <= min(y+hy, ny-1); yy++ {
				for xx := max(x-hx, 0); xx <= min(x+hx, nx-1); xx++ {
					winL = append(winL, origL[yy*nx+xx])
					winS = append(winS, origS[yy*nx+xx])
				}
			}
			k := y*nx + x
			med := medianFloat64(winL)
			if math.Abs(origL[k]-med) > threshold {
				level[k] = med
				sigma[k] = medianFloat64(winS)
			}
		}
	}
}

// interpolateMeshes resamples the mesh grid to full resolution with bicubic
// interpolation between mesh centers.
func interpolateMeshes(grid []float64, nx, ny, bw, bh, width, height int) *fitsdata.Image {
	if nx == 1 && ny == 1 {
		img := fitsdata.NewImage(width, height)
		for i := range img.Pix {
			img.Pix[i] = grid[0]
		}
		return img
	}
	src := gridMat(grid, ny, nx)
	defer src.Close()
	dst := NewMat()
	defer dst.Close()
	resizeCubic(src, &dst, ny*bh, nx*bw)
	return fromMat(dst, width, height)
}
