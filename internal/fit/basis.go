// Package fit solves the constrained polynomial least-squares problems that
// turn folded probe ratios into continuous response surfaces.
package fit

// Basis is a parametric form f(x, y; p) with a fixed number of coefficients.
type Basis interface {
	Name() string
	Arity() int
	Eval(x, y float64, p []float64) float64
	// Gradient writes df/dp_k into dst[k].
	Gradient(x, y float64, p []float64, dst []float64)
}

// polynomial is linear in its coefficients; terms writes each monomial.
type polynomial struct {
	name  string
	arity int
	terms func(x, y float64, dst []float64)
}

func (b polynomial) Name() string { return b.name }
func (b polynomial) Arity() int   { return b.arity }

func (b polynomial) Eval(x, y float64, p []float64) float64 {
	t := make([]float64, b.arity)
	b.terms(x, y, t)
	sum := 0.0
	for k := range t {
		sum += p[k] * t[k]
	}
	return sum
}

func (b polynomial) Gradient(x, y float64, _ []float64, dst []float64) {
	b.terms(x, y, dst)
}

func oddXEvenYTerms(x, y float64, dst []float64) {
	y2 := y * y
	y4 := y2 * y2
	dst[0] = x
	dst[1] = x * x
	dst[2] = x * x * x
	dst[3] = x * y2
	dst[4] = x * y4
	dst[5] = x * y4 * y2
}

// OddXEvenY passes through the y axis and is even in y:
// x, x^2, x^3, x*y^2, x*y^4, x*y^6. Used for alpha.
var OddXEvenY Basis = polynomial{
	name:  "odd_x_even_y",
	arity: 6,
	terms: oddXEvenYTerms,
}

// EvenXOddY mirrors OddXEvenY with x and y swapped. Used for beta.
var EvenXOddY Basis = polynomial{
	name:  "even_x_odd_y",
	arity: 6,
	terms: func(x, y float64, dst []float64) { oddXEvenYTerms(y, x, dst) },
}

// EvenXEvenY is even in both axes and free at the origin:
// 1, x^2, x^4, x^6, y^2, y^4, y^6. Used for q/dp0 and -s/dp0.
var EvenXEvenY Basis = polynomial{
	name:  "even_x_even_y",
	arity: 7,
	terms: func(x, y float64, dst []float64) {
		x2, y2 := x*x, y*y
		dst[0] = 1
		dst[1] = x2
		dst[2] = x2 * x2
		dst[3] = x2 * x2 * x2
		dst[4] = y2
		dst[5] = y2 * y2
		dst[6] = y2 * y2 * y2
	},
}

