package catalog

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

const deg2rad = math.Pi / 180

// Position is a sky position in degrees.
type Position struct {
	RA, Dec float64
}

// Match pairs a catalog entry with the index of a measured source.
type Match struct {
	Source     int
	Entry      Entry
	Separation float64 // degrees
}

// MatchRadius converts a match radius in pixels into degrees for a detector
// with the given unbinned pixel scale (arcsec/pixel) and binning.
func MatchRadius(pixels, pixelScale float64, binning int) float64 {
	if binning < 1 {
		binning = 1
	}
	return pixels * pixelScale * float64(binning) / 3600
}

// Separation returns the angular distance between a and b in degrees.
func Separation(a, b Position) float64 {
	pa := unitVector(a.RA, a.Dec)
	pb := unitVector(b.RA, b.Dec)
	return chordToDegrees(math.Sqrt(pa.Distance(pb)))
}

func unitVector(ra, dec float64) kdtree.Point {
	sinRA, cosRA := math.Sincos(ra * deg2rad)
	sinDec, cosDec := math.Sincos(dec * deg2rad)
	return kdtree.Point{cosDec * cosRA, cosDec * sinRA, sinDec}
}

func chordToDegrees(chord float64) float64 {
	return 2 * math.Asin(math.Min(chord/2, 1)) / deg2rad
}

// CrossMatch pairs every entry with its nearest source and keeps the pairs
// closer than maxSep degrees. A source is claimed by the first entry, in
// entry order, that matches it; later entries with the same nearest source
// are dropped.
func CrossMatch(entries []Entry, sources []Position, maxSep float64) []Match {
	matches := []Match{}
	if len(entries) == 0 || len(sources) == 0 {
		return matches
	}

	points := make(kdtree.Points, 0, len(sources))
	index := make(map[[3]float64]int, len(sources))
	for i, s := range sources {
		if math.IsNaN(s.RA) || math.IsNaN(s.Dec) {
			continue
		}
		p := unitVector(s.RA, s.Dec)
		key := [3]float64{p[0], p[1], p[2]}
		if _, dup := index[key]; dup {
			continue
		}
		index[key] = i
		points = append(points, p)
	}
	if len(points) == 0 {
		return matches
	}
	tree := kdtree.New(points, false)

	used := make(map[int]bool)
	for _, e := range entries {
		nearest, dist2 := tree.Nearest(unitVector(e.RA, e.Dec))
		p, ok := nearest.(kdtree.Point)
		if !ok {
			continue
		}
		sep := chordToDegrees(math.Sqrt(dist2))
		i := index[[3]float64{p[0], p[1], p[2]}]
		if !(sep < maxSep) || used[i] {
			continue
		}
		used[i] = true
		matches = append(matches, Match{Source: i, Entry: e, Separation: sep})
	}
	return matches
}
