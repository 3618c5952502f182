package photometry

import (
	"fmt"
	"math"

	"stonesteps/pkg/extract"
	"stonesteps/pkg/fitsdata"
)

// MeasureParams controls the aperture measurements.
type MeasureParams struct {
	// KronAperture is the integration radius of the Kron radius in units of
	// the object ellipse.
	KronAperture float64
	// KronFactor scales the Kron radius into the flux aperture.
	KronFactor float64
	// Subpix is the sub-pixel sampling of aperture boundaries; 0 selects
	// extract.DefaultSubpix.
	Subpix int
	// HalfFluxFraction is the enclosed-flux fraction of the reported radius.
	HalfFluxFraction float64
}

// DefaultMeasureParams returns Kron r=6, factor 2.5 and half-flux radii.
func DefaultMeasureParams() MeasureParams {
	return MeasureParams{
		KronAperture:     6.0,
		KronFactor:       2.5,
		Subpix:           extract.DefaultSubpix,
		HalfFluxFraction: 0.5,
	}
}

// Source is a detected object with its aperture measurements.
type Source struct {
	Object extract.Object

	KronRadius     float64
	Flux           float64
	FluxErr        float64
	HalfFluxRadius float64
	// Flags is the union of detection and aperture flags.
	Flags extract.Flag
}

func (s *Source) String() string {
	return fmt.Sprintf("{X=%f, Y=%f, Kron=%f, Flux=%f, FluxErr=%f, RHalf=%f, Flags=%s}",
		s.Object.X, s.Object.Y, s.KronRadius, s.Flux, s.FluxErr, s.HalfFluxRadius, s.Flags)
}

// SNR returns Flux/FluxErr.
func (s *Source) SNR() float64 { return s.Flux / s.FluxErr }

// Measure computes the Kron radius, elliptical flux and half-flux radius of
// every object on the background-subtracted image sub. Objects are measured
// independently; degenerate geometry is reported through flags.
func Measure(sub, rms *fitsdata.Image, objs []extract.Object, p MeasureParams) []Source {
	if len(objs) == 0 {
		return []Source{}
	}
	kron, kronFlags := extract.KronRadius(sub, objs, p.KronAperture)

	radius := make([]float64, len(objs))
	rmax := make([]float64, len(objs))
	for i, o := range objs {
		radius[i] = p.KronFactor * kron[i]
		dx := float64(o.XMax-o.XMin) / 2
		dy := float64(o.YMax-o.YMin) / 2
		rmax[i] = math.Sqrt(dx*dx + dy*dy)
	}
	flux, fluxErr, sumFlags := extract.SumEllipse(sub, objs, radius, rms, p.Subpix)
	rhalf, rhalfFlags := extract.FluxRadius(sub, objs, rmax, p.HalfFluxFraction, p.Subpix)

	sources := make([]Source, len(objs))
	for i, o := range objs {
		sources[i] = Source{
			Object:         o,
			KronRadius:     kron[i],
			Flux:           flux[i],
			FluxErr:        fluxErr[i],
			HalfFluxRadius: rhalf[i],
			Flags:          o.Flags | kronFlags[i] | sumFlags[i] | rhalfFlags[i],
		}
	}
	return sources
}
