package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"probecal/domain/core"
)

const (
	defaultMaxIterations = 200
	defaultTolerance     = 1e-10
	defaultDamping       = 1e-3
	minDamping           = 1e-15
	maxDamping           = 1e32
	// maxScaledCondition bounds the condition number of the column-scaled
	// normal matrix at the solution.
	maxScaledCondition = 1e12
)

// Triple is one training observation z at (x, y).
type Triple struct {
	X float64
	Y float64
	Z float64
}

// Options tunes a single fit. Zero values select the defaults.
type Options struct {
	// Label names the fitted variable in errors and logs.
	Label string
	// Initial is the starting coefficient vector; all ones when nil.
	Initial        []float64
	MaxIterations  int
	Tolerance      float64
	InitialDamping float64
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = defaultTolerance
	}
	if o.InitialDamping <= 0 {
		o.InitialDamping = defaultDamping
	}
	return o
}

// Result is a converged fit with its solver diagnostics.
type Result struct {
	Label        string
	Model        *Model
	Iterations   int
	ResidualNorm float64
	// Covariance is (J^T J)^-1 scaled by the residual variance.
	Covariance  *mat.SymDense
	Diagnostics Diagnostics
}

// StdErrors returns the square roots of the covariance diagonal.
func (r *Result) StdErrors() []float64 {
	n := r.Covariance.SymmetricDim()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Sqrt(math.Max(0, r.Covariance.At(i, i)))
	}
	return out
}

type problem struct {
	basis Basis
	data  []Triple
}

// residuals fills r = z - f and the Jacobian rows df/dp, returning the cost
// sum(r^2). ok is false when any residual or derivative is not finite.
func (pb problem) residuals(p []float64, jac *mat.Dense, r *mat.VecDense) (float64, bool) {
	n := pb.basis.Arity()
	row := make([]float64, n)
	cost := 0.0
	for i, d := range pb.data {
		ri := d.Z - pb.basis.Eval(d.X, d.Y, p)
		if math.IsNaN(ri) || math.IsInf(ri, 0) {
			return math.NaN(), false
		}
		if jac != nil {
			pb.basis.Gradient(d.X, d.Y, p, row)
			for k, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return math.NaN(), false
				}
				jac.Set(i, k, v)
			}
		}
		if r != nil {
			r.SetVec(i, ri)
		}
		cost += ri * ri
	}
	return cost, !math.IsInf(cost, 0)
}

func dampedStep(a *mat.SymDense, g *mat.VecDense, lambda float64) ([]float64, bool) {
	n := a.SymmetricDim()
	d := mat.NewSymDense(n, nil)
	d.CopySym(a)
	for i := 0; i < n; i++ {
		aii := a.At(i, i)
		d.SetSym(i, i, aii+lambda*math.Max(aii, minDamping))
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(d); !ok {
		return nil, false
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, g); err != nil {
		return nil, false
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = step.AtVec(i)
	}
	return out, true
}

func norm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// Fit minimizes sum((z - basis(x, y; p))^2) over the training triples with a
// Levenberg-Marquardt iteration. A fit that does not converge, meets
// non-finite residuals, or ends on a singular Jacobian returns *core.FitError.
func Fit(basis Basis, data []Triple, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	n, m := basis.Arity(), len(data)

	fail := func(residualNorm float64, iterations int, reason string) error {
		return &core.FitError{
			Variable:     opts.Label,
			Basis:        basis.Name(),
			ResidualNorm: residualNorm,
			Iterations:   iterations,
			Reason:       reason,
		}
	}

	if m < n {
		return nil, fail(math.NaN(), 0, fmt.Sprintf("%v: %d samples for %d coefficients", core.ErrInsufficientData, m, n))
	}

	p := make([]float64, n)
	switch {
	case opts.Initial == nil:
		for i := range p {
			p[i] = 1
		}
	case len(opts.Initial) != n:
		return nil, fail(math.NaN(), 0, fmt.Sprintf("initial guess has %d coefficients, basis needs %d", len(opts.Initial), n))
	default:
		copy(p, opts.Initial)
	}

	pb := problem{basis: basis, data: data}
	jac := mat.NewDense(m, n, nil)
	r := mat.NewVecDense(m, nil)
	cost, ok := pb.residuals(p, jac, r)
	if !ok {
		return nil, fail(math.NaN(), 0, "non-finite residuals at initial guess")
	}

	lambda := opts.InitialDamping
	trial := make([]float64, n)
	converged := false
	iter := 0
	for iter < opts.MaxIterations && !converged {
		iter++

		var a mat.SymDense
		a.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), r)

		for {
			step, solved := dampedStep(&a, &g, lambda)
			if solved {
				for k := range p {
					trial[k] = p[k] + step[k]
				}
				small := norm(step) <= opts.Tolerance*(norm(p)+opts.Tolerance)
				trialCost, finite := pb.residuals(trial, nil, nil)
				if finite && trialCost <= cost {
					reduction := cost - trialCost
					copy(p, trial)
					cost, _ = pb.residuals(p, jac, r)
					lambda = math.Max(lambda/10, minDamping)
					converged = small || reduction <= opts.Tolerance*cost
					break
				}
				if small {
					converged = true
					break
				}
			}
			lambda *= 10
			if lambda > maxDamping {
				return nil, fail(math.Sqrt(cost), iter, "damping exhausted without reducing the residual")
			}
		}
	}
	if !converged {
		return nil, fail(math.Sqrt(cost), iter, fmt.Sprintf("no convergence after %d iterations", iter))
	}

	var a mat.SymDense
	a.SymOuterK(1, jac.T())
	cov, reason := covariance(&a, cost, m)
	if reason != "" {
		return nil, fail(math.Sqrt(cost), iter, reason)
	}

	model := NewModel(basis, p)
	diag, err := Diagnose(Residuals(model, data))
	if err != nil {
		return nil, fail(math.Sqrt(cost), iter, err.Error())
	}

	return &Result{
		Label:        opts.Label,
		Model:        model,
		Iterations:   iter,
		ResidualNorm: math.Sqrt(cost),
		Covariance:   cov,
		Diagnostics:  diag,
	}, nil
}

// covariance inverts J^T J after checking that its column-scaled form is well
// conditioned. A non-empty reason reports a singular Jacobian.
func covariance(a *mat.SymDense, cost float64, m int) (*mat.SymDense, string) {
	n := a.SymmetricDim()
	scale := make([]float64, n)
	for i := 0; i < n; i++ {
		aii := a.At(i, i)
		if !(aii > 0) {
			return nil, fmt.Sprintf("singular jacobian: coefficient %d has no support in the data", i)
		}
		scale[i] = 1 / math.Sqrt(aii)
	}
	scaled := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			scaled.SetSym(i, j, a.At(i, j)*scale[i]*scale[j])
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(scaled); !ok {
		return nil, "singular jacobian: normal matrix is not positive definite"
	}
	if cond := chol.Cond(); math.IsInf(cond, 0) || math.IsNaN(cond) || cond > maxScaledCondition {
		return nil, fmt.Sprintf("singular jacobian: condition number %.3g", cond)
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, "singular jacobian: " + err.Error()
	}
	variance := 0.0
	if m > n {
		variance = cost / float64(m-n)
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, inv.At(i, j)*scale[i]*scale[j]*variance)
		}
	}
	return cov, ""
}
