package extract

import (
	"image"
	"math"
	"sort"
)

// deblend splits a connected component into objects using a multi-threshold
// tree. Levels are spaced exponentially between the component's lowest and
// highest detection values. A component splits at the first level with at
// least two branches that each hold MinArea pixels and more than DeblendCont
// of the component flux. The second return value reports whether a split
// happened.
func deblend(comp []int, det []float64, width int, p Params) ([][]int, bool) {
	if p.DeblendNThresh <= 1 || len(comp) < 2*p.MinArea {
		return [][]int{comp}, false
	}
	low, peak := math.Inf(1), math.Inf(-1)
	var total float64
	for _, i := range comp {
		v := det[i]
		total += v
		low = math.Min(low, v)
		peak = math.Max(peak, v)
	}
	if !(low > 0) || peak <= low || !(total > 0) {
		return [][]int{comp}, false
	}

	d := deblender{det: det, width: width, p: p, low: low, peak: peak, total: total}
	groups := d.split(comp, 1)
	return groups, len(groups) > 1
}

type deblender struct {
	det   []float64
	width int
	p     Params

	low, peak, total float64
}

func (d *deblender) level(k int) float64 {
	return d.low * math.Pow(d.peak/d.low, float64(k)/float64(d.p.DeblendNThresh))
}

func (d *deblender) split(region []int, startLevel int) [][]int {
	for k := startLevel; k < d.p.DeblendNThresh; k++ {
		var significant [][]int
		for _, branch := range d.branchesAbove(region, d.level(k)) {
			if len(branch) < d.p.MinArea {
				continue
			}
			var flux float64
			for _, i := range branch {
				flux += d.det[i]
			}
			if flux > d.p.DeblendCont*d.total {
				significant = append(significant, branch)
			}
		}
		switch {
		case len(significant) == 0:
			return [][]int{region}
		case len(significant) >= 2:
			var out [][]int
			for _, part := range d.assign(region, significant) {
				out = append(out, d.split(part, k+1)...)
			}
			return out
		}
	}
	return [][]int{region}
}

// branchesAbove returns the 8-connected groups of region pixels above t.
func (d *deblender) branchesAbove(region []int, t float64) [][]int {
	box := d.bounds(region)
	mask := NewMatWithSize(box.Dy(), box.Dx())
	defer mask.Close()
	data := mask.DataFloat64()
	for _, i := range region {
		if d.det[i] > t {
			x, y := i%d.width-box.Min.X, i/d.width-box.Min.Y
			data[y*box.Dx()+x] = 1
		}
	}
	labels, n := labelComponents(mask)
	if n == 0 {
		return nil
	}
	branches := make([][]int, n)
	for _, i := range region {
		x, y := i%d.width-box.Min.X, i/d.width-box.Min.Y
		if l := labels[y*box.Dx()+x]; l > 0 {
			branches[l-1] = append(branches[l-1], i)
		}
	}
	return branches
}

func (d *deblender) bounds(region []int) image.Rectangle {
	// image.Rect would canonicalize the empty seed box.
	r := image.Rectangle{Min: image.Pt(math.MaxInt, math.MaxInt), Max: image.Pt(math.MinInt, math.MinInt)}
	for _, i := range region {
		x, y := i%d.width, i/d.width
		r.Min.X, r.Max.X = min(r.Min.X, x), max(r.Max.X, x+1)
		r.Min.Y, r.Max.Y = min(r.Min.Y, y), max(r.Max.Y, y+1)
	}
	return r
}

type seed struct {
	x, y          float64
	cxx, cyy, cxy float64
	peak          float64
}

// assign distributes every region pixel to a branch. Branch pixels stay with
// their branch; the rest go to the branch whose Gaussian profile predicts the
// highest value at that pixel.
func (d *deblender) assign(region []int, branches [][]int) [][]int {
	owner := make(map[int]int, len(region))
	seeds := make([]seed, len(branches))
	for b, branch := range branches {
		for _, i := range branch {
			owner[i] = b
		}
		seeds[b] = d.seedOf(branch)
	}

	parts := make([][]int, len(branches))
	for _, i := range region {
		if b, ok := owner[i]; ok {
			parts[b] = append(parts[b], i)
			continue
		}
		x, y := float64(i%d.width), float64(i/d.width)
		best, bestScore, bestDist := 0, -1.0, math.Inf(1)
		for b, s := range seeds {
			dx, dy := x-s.x, y-s.y
			r2 := s.cxx*dx*dx + s.cyy*dy*dy + s.cxy*dx*dy
			score := s.peak * math.Exp(-0.5*r2)
			dist := dx*dx + dy*dy
			if score > bestScore || (score == bestScore && dist < bestDist) {
				best, bestScore, bestDist = b, score, dist
			}
		}
		parts[best] = append(parts[best], i)
	}
	for _, part := range parts {
		sort.Ints(part)
	}
	return parts
}

func (d *deblender) seedOf(branch []int) seed {
	var sw, sx, sy, sxx, syy, sxy float64
	s := seed{peak: math.Inf(-1)}
	for _, i := range branch {
		v := d.det[i]
		x, y := float64(i%d.width), float64(i/d.width)
		sw += v
		sx += v * x
		sy += v * y
		sxx += v * x * x
		syy += v * y * y
		sxy += v * x * y
		s.peak = math.Max(s.peak, v)
	}
	s.x, s.y = sx/sw, sy/sw
	x2 := sxx/sw - s.x*s.x
	y2 := syy/sw - s.y*s.y
	xy := sxy/sw - s.x*s.y
	if x2*y2-xy*xy < singularityLimit {
		x2 += singularityPad
		y2 += singularityPad
	}
	det := x2*y2 - xy*xy
	s.cxx, s.cyy, s.cxy = y2/det, x2/det, -2*xy/det
	return s
}
