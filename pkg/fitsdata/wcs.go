package fitsdata

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoWCS is returned when a header carries no usable celestial WCS.
var ErrNoWCS = errors.New("no celestial WCS in header")

const deg2rad = math.Pi / 180

// WCS is a gnomonic (TAN) world coordinate system.
type WCS struct {
	CRPIX1, CRPIX2 float64
	CRVAL1, CRVAL2 float64
	// CD matrix in degrees per pixel.
	CD [2][2]float64

	inv [2][2]float64
}

// ParseWCS reads a TAN WCS from h. It accepts a CD matrix, a PC matrix with
// CDELT, or CDELT with an optional CROTA2 rotation.
func ParseWCS(h *Header) (*WCS, error) {
	ctype1 := strings.ToUpper(h.GetString("CTYPE1"))
	if ctype1 != "" && !strings.HasSuffix(ctype1, "-TAN") && !strings.HasSuffix(ctype1, "-TAN-SIP") {
		return nil, fmt.Errorf("%w: unsupported projection %q", ErrNoWCS, ctype1)
	}
	w := &WCS{}
	var ok1, ok2, ok3, ok4 bool
	w.CRPIX1, ok1 = h.GetDouble("CRPIX1")
	w.CRPIX2, ok2 = h.GetDouble("CRPIX2")
	w.CRVAL1, ok3 = h.GetDouble("CRVAL1")
	w.CRVAL2, ok4 = h.GetDouble("CRVAL2")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("%w: missing CRPIX/CRVAL", ErrNoWCS)
	}

	switch {
	case h.Has("CD1_1") || h.Has("CD2_2"):
		w.CD[0][0], _ = h.GetDouble("CD1_1")
		w.CD[0][1], _ = h.GetDouble("CD1_2")
		w.CD[1][0], _ = h.GetDouble("CD2_1")
		w.CD[1][1], _ = h.GetDouble("CD2_2")
	case h.Has("CDELT1") && h.Has("CDELT2"):
		cdelt1, _ := h.GetDouble("CDELT1")
		cdelt2, _ := h.GetDouble("CDELT2")
		if h.Has("PC1_1") || h.Has("PC2_2") {
			pc := [2][2]float64{{1, 0}, {0, 1}}
			for i, row := range [2][2]string{{"PC1_1", "PC1_2"}, {"PC2_1", "PC2_2"}} {
				for j, key := range row {
					if v, ok := h.GetDouble(key); ok {
						pc[i][j] = v
					}
				}
			}
			w.CD[0][0], w.CD[0][1] = cdelt1*pc[0][0], cdelt1*pc[0][1]
			w.CD[1][0], w.CD[1][1] = cdelt2*pc[1][0], cdelt2*pc[1][1]
		} else {
			rot, _ := h.GetDouble("CROTA2")
			s, c := math.Sincos(rot * deg2rad)
			w.CD[0][0], w.CD[0][1] = cdelt1*c, -cdelt2*s
			w.CD[1][0], w.CD[1][1] = cdelt1*s, cdelt2*c
		}
	default:
		return nil, fmt.Errorf("%w: missing CD or CDELT", ErrNoWCS)
	}

	det := w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
	if det == 0 || math.IsNaN(det) {
		return nil, fmt.Errorf("%w: singular CD matrix", ErrNoWCS)
	}
	w.inv = [2][2]float64{
		{w.CD[1][1] / det, -w.CD[0][1] / det},
		{-w.CD[1][0] / det, w.CD[0][0] / det},
	}
	return w, nil
}

// PixelToSky converts 0-based pixel coordinates to RA/Dec in degrees.
func (w *WCS) PixelToSky(x, y float64) (ra, dec float64) {
	dx := x + 1 - w.CRPIX1
	dy := y + 1 - w.CRPIX2
	xi := (w.CD[0][0]*dx + w.CD[0][1]*dy) * deg2rad
	eta := (w.CD[1][0]*dx + w.CD[1][1]*dy) * deg2rad

	ra0 := w.CRVAL1 * deg2rad
	sinDec0, cosDec0 := math.Sincos(w.CRVAL2 * deg2rad)
	den := cosDec0 - eta*sinDec0
	ra = ra0 + math.Atan2(xi, den)
	dec = math.Atan2(sinDec0+eta*cosDec0, math.Hypot(xi, den))

	ra = math.Mod(ra/deg2rad, 360)
	if ra < 0 {
		ra += 360
	}
	return ra, dec / deg2rad
}

// SkyToPixel converts RA/Dec in degrees to 0-based pixel coordinates. Points
// on the far hemisphere return NaN.
func (w *WCS) SkyToPixel(ra, dec float64) (x, y float64) {
	sinDec, cosDec := math.Sincos(dec * deg2rad)
	sinDec0, cosDec0 := math.Sincos(w.CRVAL2 * deg2rad)
	sinDRA, cosDRA := math.Sincos((ra - w.CRVAL1) * deg2rad)

	cosc := sinDec0*sinDec + cosDec0*cosDec*cosDRA
	if cosc <= 0 {
		return math.NaN(), math.NaN()
	}
	xi := cosDec * sinDRA / cosc / deg2rad
	eta := (cosDec0*sinDec - sinDec0*cosDec*cosDRA) / cosc / deg2rad

	dx := w.inv[0][0]*xi + w.inv[0][1]*eta
	dy := w.inv[1][0]*xi + w.inv[1][1]*eta
	return dx + w.CRPIX1 - 1, dy + w.CRPIX2 - 1
}

// ParseSexagesimal parses "DD:MM:SS.s", "DD MM SS.s" or a plain decimal.
func ParseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty sexagesimal value")
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == ' ' || r == 'h' || r == 'm' || r == 's' || r == 'd'
	})
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid sexagesimal value %q", s)
	}
	negative := strings.HasPrefix(fields[0], "-")
	total := 0.0
	scale := 1.0
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimLeft(f, "+-"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid sexagesimal value %q: %w", s, err)
		}
		total += v / scale
		scale *= 60
	}
	if negative {
		total = -total
	}
	return total, nil
}

// Pointing returns the nominal pointing of the exposure in degrees. RA/DEC
// strings are read as hours and degrees; numeric RA/DEC cards are taken as
// degrees. Without them the WCS reference point is used.
func Pointing(h *Header) (ra, dec float64, err error) {
	if h.Has("RA") && h.Has("DEC") {
		hra, raErr := pointingAxis(h, "RA", 15)
		hdec, decErr := pointingAxis(h, "DEC", 1)
		if raErr == nil && decErr == nil {
			return hra, hdec, nil
		}
	}
	var ok1, ok2 bool
	ra, ok1 = h.GetDouble("CRVAL1")
	dec, ok2 = h.GetDouble("CRVAL2")
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("%w: no RA/DEC or CRVAL cards", ErrNoWCS)
	}
	return ra, dec, nil
}

func pointingAxis(h *Header, key string, sexagesimalScale float64) (float64, error) {
	v, _ := h.Get(key)
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		if d, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return d, nil
		}
		d, err := ParseSexagesimal(t)
		if err != nil {
			return 0, err
		}
		return d * sexagesimalScale, nil
	}
	return 0, fmt.Errorf("unsupported %s value %v", key, v)
}
