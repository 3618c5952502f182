package zeropoint

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// ErrInsufficientMatches is returned when too few catalog pairs survive to
// constrain the fit.
var ErrInsufficientMatches = errors.New("insufficient calibration matches")

// DefaultMinMatches is the smallest number of pairs that determines a line.
const DefaultMinMatches = 2

var errSingular = errors.New("catalog magnitudes do not constrain a slope")

// maxCondition bounds the condition number of the normal equations.
const maxCondition = 1e12

// Point is one calibration pair in magnitudes.
type Point struct {
	Catalog, CatalogErr           float64
	Instrumental, InstrumentalErr float64
}

// Sigma is the combined uncertainty of p.
func (p Point) Sigma() float64 {
	return math.Hypot(p.CatalogErr, p.InstrumentalErr)
}

// Result is a fitted calibration line instrumental = Slope*catalog + Offset.
type Result struct {
	Slope, Offset float64
	// ZeroPoint is -Offset: MAG = -2.5*log10(counts) + ZeroPoint.
	ZeroPoint    float64
	ZeroPointErr float64
	N            int
}

// InstrumentalMag converts a flux and its error into a magnitude and error.
func InstrumentalMag(flux, fluxErr float64) (float64, float64) {
	return -2.5 * math.Log10(flux), 2.5 / math.Ln10 * fluxErr / flux
}

// Fit maximizes the Gaussian likelihood of the calibration line over points,
// starting from slope 1 and offset -2. Points with a non-finite value or zero
// combined error are ignored. The zero point error is the weighted least
// squares standard error of the offset, NaN when the catalog magnitudes are
// too alike to constrain the slope.
func Fit(points []Point, minMatches int) (Result, error) {
	if minMatches < DefaultMinMatches {
		minMatches = DefaultMinMatches
	}
	usable := make([]Point, 0, len(points))
	for _, p := range points {
		s := p.Sigma()
		if finite(p.Catalog) && finite(p.Instrumental) && finite(s) && s > 0 {
			usable = append(usable, p)
		}
	}
	if len(usable) < minMatches {
		return Result{}, fmt.Errorf("%w: %d usable of %d pairs, need %d",
			ErrInsufficientMatches, len(usable), len(points), minMatches)
	}

	wls, cov, wlsErr := weightedLine(usable)
	x, err := maximizeLikelihood(usable)
	if err != nil {
		if wlsErr != nil {
			return Result{}, fmt.Errorf("fit calibration line: %w", errors.Join(err, wlsErr))
		}
		x = wls
	}

	zpErr := math.NaN()
	if wlsErr == nil {
		zpErr = math.Sqrt(cov.At(1, 1))
	}
	return Result{
		Slope:        x[0],
		Offset:       x[1],
		ZeroPoint:    -x[1],
		ZeroPointErr: zpErr,
		N:            len(usable),
	}, nil
}

// maximizeLikelihood minimizes the chi-square half-sum with BFGS.
func maximizeLikelihood(points []Point) ([]float64, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			var chi2 float64
			for _, p := range points {
				r := (p.Instrumental - (x[0]*p.Catalog + x[1])) / p.Sigma()
				chi2 += r * r
			}
			return 0.5 * chi2
		},
		Grad: func(grad, x []float64) {
			grad[0], grad[1] = 0, 0
			for _, p := range points {
				s := p.Sigma()
				r := (p.Instrumental - (x[0]*p.Catalog + x[1])) / (s * s)
				grad[0] -= r * p.Catalog
				grad[1] -= r
			}
		},
	}
	res, err := optimize.Minimize(problem, []float64{1, -2}, nil, &optimize.BFGS{})
	if err != nil {
		return nil, err
	}
	if !finite(res.X[0]) || !finite(res.X[1]) {
		return nil, fmt.Errorf("fit diverged")
	}
	return res.X, nil
}

// weightedLine solves the weighted normal equations and returns the line
// parameters with their covariance.
func weightedLine(points []Point) ([]float64, *mat.SymDense, error) {
	normal := mat.NewSymDense(2, nil)
	rhs := mat.NewVecDense(2, nil)
	for _, p := range points {
		w := 1 / (p.Sigma() * p.Sigma())
		normal.SetSym(0, 0, normal.At(0, 0)+w*p.Catalog*p.Catalog)
		normal.SetSym(0, 1, normal.At(0, 1)+w*p.Catalog)
		normal.SetSym(1, 1, normal.At(1, 1)+w)
		rhs.SetVec(0, rhs.AtVec(0)+w*p.Catalog*p.Instrumental)
		rhs.SetVec(1, rhs.AtVec(1)+w*p.Instrumental)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(normal); !ok || chol.Cond() > maxCondition {
		return nil, nil, errSingular
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, rhs); err != nil {
		return nil, nil, fmt.Errorf("solve calibration line: %w", err)
	}
	cov := mat.NewSymDense(2, nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, nil, fmt.Errorf("calibration covariance: %w", err)
	}
	return []float64{beta.AtVec(0), beta.AtVec(1)}, cov, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
