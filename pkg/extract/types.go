package extract

import (
	"fmt"
	"math"
	"strings"
)

// Flag marks measurement conditions on a single object.
type Flag uint16

const (
	// FlagMerged is set on objects that were split from a larger component.
	FlagMerged Flag = 1 << iota
	// FlagTruncated is set when the isophotal footprint touches the image edge.
	FlagTruncated
	// FlagApertureTruncated is set when an aperture extends past the image edge.
	FlagApertureTruncated
	// FlagApertureNonPositive is set when the flux inside an aperture is not positive.
	FlagApertureNonPositive
	// FlagDegenerate is set when the object's shape cannot define an aperture.
	FlagDegenerate
)

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	names := []string{"merged", "truncated", "aper-truncated", "aper-nonpositive", "degenerate"}
	for i, name := range names {
		if f&(1<<uint(i)) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Object is a detected source measured from its isophotal footprint.
type Object struct {
	Thresh float64 // detection threshold at the peak pixel
	NPix   int

	X, Y        float64
	X2, Y2, XY  float64
	A, B, Theta float64
	// Ellipse coefficients: CXX*dx² + CYY*dy² + CXY*dx*dy = 1 on the 1-sigma isophote.
	CXX, CYY, CXY float64

	Flux float64
	Peak float64

	XMin, XMax int
	YMin, YMax int

	Flags Flag
}

func (o *Object) String() string {
	return fmt.Sprintf("{X=%f, Y=%f, A=%f, B=%f, Theta=%f, NPix=%d, Flux=%f, Peak=%f, BBox=[%d:%d,%d:%d], Flags=%s}",
		o.X, o.Y, o.A, o.B, o.Theta, o.NPix, o.Flux, o.Peak, o.XMin, o.XMax, o.YMin, o.YMax, o.Flags)
}

// Elongation returns A/B, or +Inf for a zero-width object.
func (o *Object) Elongation() float64 {
	if o.B == 0 {
		return math.Inf(1)
	}
	return o.A / o.B
}

// Params controls detection and deblending.
type Params struct {
	MinArea        int
	DeblendNThresh int
	DeblendCont    float64
	// Filter convolves the image with the 3x3 detection kernel before thresholding.
	Filter bool
}

// DefaultParams returns the detection defaults.
func DefaultParams() Params {
	return Params{
		MinArea:        5,
		DeblendNThresh: 32,
		DeblendCont:    0.005,
		Filter:         true,
	}
}

// DefaultSubpix is the sub-pixel sampling used when 0 is requested.
const DefaultSubpix = 5
