// Package curvefit fits a mono-exponential decay y = m·exp(-t·x) + b to the frequency
// distribution of track durations and derives the characteristic time Tau = 1/t.
package curvefit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Tau values written to the tables when no usable Tau exists
const (
	TauNotEnoughTracks = -1.0
	TauFitFailed       = -2.0
	TauLowConfidence   = -3.0
)

// Status classifies the outcome of a fit
type Status int

const (
	// OK means the fit converged with an acceptable R²
	OK Status = iota
	// NotEnoughTracks means fewer tracks than required; no fit was attempted
	NotEnoughTracks
	// FitFailed means the optimiser did not produce usable parameters
	FitFailed
	// LowConfidence means the fit converged but R² is below the minimum
	LowConfidence
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case NotEnoughTracks:
		return "not enough tracks"
	case FitFailed:
		return "fit failed"
	case LowConfidence:
		return "low confidence"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Params are the parameters of the decay model
type Params struct {
	M, T, B float64
}

// Eval returns m·exp(-t·x) + b
func (p Params) Eval(x float64) float64 {
	return p.M*math.Exp(-p.T*x) + p.B
}

// InitialGuess is the starting point of every fit
var InitialGuess = Params{M: 2000, T: 4, B: 10}

// Result is the outcome of fitting one set of track durations
type Result struct {
	Status Status

	// Tau is 1/t in milliseconds, only meaningful when Status is OK
	Tau float64

	// RSquared is the coefficient of determination; 0 unless the fit converged
	RSquared float64

	// Params holds the fitted parameters when the fit converged
	Params Params

	// NrTracks is the number of durations the histogram was built from
	NrTracks int

	// Err describes why the fit failed
	Err error
}

// TauValue returns Tau for a successful fit and the matching negative code otherwise
func (r Result) TauValue() float64 {
	switch r.Status {
	case OK:
		return r.Tau
	case NotEnoughTracks:
		return TauNotEnoughTracks
	case LowConfidence:
		return TauLowConfidence
	}
	return TauFitFailed
}

var (
	errTooFewPoints  = errors.New("fewer distinct durations than model parameters")
	errNonFinite     = errors.New("non-finite residual or parameter")
	errMaxIterations = errors.New("optimal parameters not found within iteration limit")
	errNonPositive   = errors.New("fitted decay rate is not positive")
)

const (
	defaultMaxIterations = 800
	ftol                 = 1.49012e-8
	xtol                 = 1.49012e-8
	maxLambda            = 1e16
)

// Fitter runs the Levenberg–Marquardt fit of the decay model
type Fitter struct {
	// Timeout bounds a single fit; zero means no limit beyond the caller's context
	Timeout time.Duration

	// MaxIterations bounds the number of accepted or rejected LM iterations
	MaxIterations int
}

// Fit fits the decay model to the histogram of durations. Fewer than minTracks durations
// yield NotEnoughTracks; an R² below minRSquared yields LowConfidence.
func (f Fitter) Fit(ctx context.Context, durations []float64, minTracks int, minRSquared float64) Result {
	res := Result{NrTracks: len(durations)}
	if len(durations) < minTracks {
		res.Status = NotEnoughTracks
		return res
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	x, y := Histogram(durations)
	p, err := f.levenbergMarquardt(ctx, x, y)
	if err != nil {
		res.Status = FitFailed
		res.Err = err
		return res
	}

	res.Params = p
	res.RSquared = RSquared(x, y, p)
	if res.RSquared < minRSquared {
		res.Status = LowConfidence
		return res
	}
	res.Status = OK
	res.Tau = 1000 / p.T
	return res
}

// Histogram returns the distinct durations in ascending order and how often each occurs
func Histogram(durations []float64) (x, y []float64) {
	sorted := append([]float64(nil), durations...)
	sort.Float64s(sorted)
	for i, d := range sorted {
		if i > 0 && d == sorted[i-1] {
			y[len(y)-1]++
			continue
		}
		x = append(x, d)
		y = append(y, 1)
	}
	return x, y
}

// RSquared returns 1 - SSres/SStot for the model p, or 0 when SStot is 0
func RSquared(x, y []float64, p Params) float64 {
	mean := stat.Mean(y, nil)
	res := make([]float64, len(y))
	tot := make([]float64, len(y))
	for i := range y {
		r := y[i] - p.Eval(x[i])
		res[i] = r * r
		d := y[i] - mean
		tot[i] = d * d
	}
	ssTot := floats.Sum(tot)
	if ssTot == 0 {
		return 0
	}
	return 1 - floats.Sum(res)/ssTot
}

func (f Fitter) levenbergMarquardt(ctx context.Context, x, y []float64) (Params, error) {
	if len(x) < 3 {
		return Params{}, errTooFewPoints
	}
	maxIter := f.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	p := InitialGuess
	cost := sse(x, y, p)
	if !isFinite(cost) {
		return Params{}, errNonFinite
	}

	n := len(x)
	jac := mat.NewDense(n, 3, nil)
	r := mat.NewVecDense(n, nil)
	lambda := 1e-3

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return Params{}, fmt.Errorf("curve fit interrupted: %w", err)
		}

		jacobian(x, y, p, jac, r)
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), r)

		accepted := false
		for lambda < maxLambda {
			a := mat.DenseCopyOf(&jtj)
			for i := 0; i < 3; i++ {
				d := jtj.At(i, i)
				a.Set(i, i, d+lambda*math.Max(d, 1e-12))
			}

			var step mat.VecDense
			if err := step.SolveVec(a, &jtr); err != nil {
				var c mat.Condition
				if !errors.As(err, &c) {
					lambda *= 10
					continue
				}
			}

			cand := Params{
				M: p.M + step.AtVec(0),
				T: p.T + step.AtVec(1),
				B: p.B + step.AtVec(2),
			}
			c := sse(x, y, cand)
			if isFinite(c) && c < cost {
				converged := cost-c <= ftol*cost || smallStep(&step, p)
				p, cost = cand, c
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
				if converged {
					return finish(x, p)
				}
				break
			}
			iter++
			lambda *= 10
		}

		// No step along any damping reduces the residual, so p is a minimum.
		if !accepted {
			return finish(x, p)
		}
	}
	return Params{}, errMaxIterations
}

// finish validates converged parameters and their covariance
func finish(x []float64, p Params) (Params, error) {
	if !isFinite(p.M) || !isFinite(p.T) || !isFinite(p.B) {
		return Params{}, errNonFinite
	}
	if p.T <= 0 {
		return Params{}, errNonPositive
	}

	jac := mat.NewDense(len(x), 3, nil)
	jacobian(x, nil, p, jac, nil)
	var jtj, cov mat.Dense
	jtj.Mul(jac.T(), jac)
	if err := cov.Inverse(&jtj); err != nil {
		var c mat.Condition
		if !errors.As(err, &c) || math.IsInf(float64(c), 0) {
			return Params{}, fmt.Errorf("covariance of the parameters can not be estimated: %w", err)
		}
	}
	return p, nil
}

// jacobian fills the partial derivatives of the model at every x and, when y is given, the
// residuals y - f(x).
func jacobian(x, y []float64, p Params, jac *mat.Dense, r *mat.VecDense) {
	for i, xi := range x {
		e := math.Exp(-p.T * xi)
		jac.Set(i, 0, e)
		jac.Set(i, 1, -p.M*xi*e)
		jac.Set(i, 2, 1)
		if y != nil {
			r.SetVec(i, y[i]-(p.M*e+p.B))
		}
	}
}

func sse(x, y []float64, p Params) float64 {
	var s float64
	for i := range x {
		d := y[i] - p.Eval(x[i])
		s += d * d
	}
	return s
}

func smallStep(step *mat.VecDense, p Params) bool {
	cur := []float64{p.M, p.T, p.B}
	for i, v := range cur {
		if math.Abs(step.AtVec(i)) > xtol*(math.Abs(v)+xtol) {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
