package fit

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probecal/domain/core"
)

var (
	alphaCoef = []float64{15, 0, 1.2, 0.5, -0.05, 0.002}
	evenCoef  = []float64{1.05, 0.12, -0.01, 0.0005, 0.2, -0.015, 0.001}
)

func gridTriples(b Basis, coef []float64, sigma float64, seed int64) []Triple {
	rng := rand.New(rand.NewSource(seed))
	var out []Triple
	for i := 0; i <= 15; i++ {
		x := 0.2 * float64(i)
		for j := 0; j <= 10; j++ {
			y := 0.25 * float64(j)
			z := b.Eval(x, y, coef)
			if sigma > 0 {
				z += sigma * rng.NormFloat64()
			}
			out = append(out, Triple{X: x, Y: y, Z: z})
		}
	}
	return out
}

func TestBasisArityAndTerms(t *testing.T) {
	assert.Equal(t, 6, OddXEvenY.Arity())
	assert.Equal(t, 6, EvenXOddY.Arity())
	assert.Equal(t, 7, EvenXEvenY.Arity())

	dst := make([]float64, 6)
	OddXEvenY.Gradient(2, 3, nil, dst)
	assert.Equal(t, []float64{2, 4, 8, 18, 162, 1458}, dst)

	EvenXOddY.Gradient(3, 2, nil, dst)
	assert.Equal(t, []float64{2, 4, 8, 18, 162, 1458}, dst)

	dst7 := make([]float64, 7)
	EvenXEvenY.Gradient(2, 3, nil, dst7)
	assert.Equal(t, []float64{1, 4, 16, 64, 9, 81, 729}, dst7)
}

func TestBasisSymmetry(t *testing.T) {
	p6 := []float64{3, 0.7, -0.4, 1.1, -0.2, 0.05}
	p7 := []float64{1, 0.3, -0.1, 0.01, 0.2, -0.05, 0.003}
	for _, pt := range [][2]float64{{0.3, 0.4}, {1.7, 2.2}, {2.9, 0.1}} {
		x, y := pt[0], pt[1]
		// Even in the cross ratio, zero on the axis of the driving ratio.
		assert.InDelta(t, OddXEvenY.Eval(x, y, p6), OddXEvenY.Eval(x, -y, p6), 1e-12)
		assert.Equal(t, 0.0, OddXEvenY.Eval(0, y, p6))
		assert.InDelta(t, EvenXOddY.Eval(x, y, p6), EvenXOddY.Eval(-x, y, p6), 1e-12)
		assert.Equal(t, 0.0, EvenXOddY.Eval(x, 0, p6))
		// The mirror basis is the same surface with the axes swapped.
		assert.Equal(t, OddXEvenY.Eval(x, y, p6), EvenXOddY.Eval(y, x, p6))
		// Fully even and non-zero at the origin.
		v := EvenXEvenY.Eval(x, y, p7)
		assert.InDelta(t, v, EvenXEvenY.Eval(-x, y, p7), 1e-12)
		assert.InDelta(t, v, EvenXEvenY.Eval(x, -y, p7), 1e-12)
		assert.InDelta(t, v, EvenXEvenY.Eval(-x, -y, p7), 1e-12)
	}
	assert.Equal(t, 1.0, EvenXEvenY.Eval(0, 0, p7))
}

func TestFitRecoversExactCoefficients(t *testing.T) {
	cases := []struct {
		basis Basis
		coef  []float64
	}{
		{OddXEvenY, alphaCoef},
		{EvenXOddY, alphaCoef},
		{EvenXEvenY, evenCoef},
	}
	for _, tc := range cases {
		t.Run(tc.basis.Name(), func(t *testing.T) {
			res, err := Fit(tc.basis, gridTriples(tc.basis, tc.coef, 0, 1), Options{Label: tc.basis.Name()})
			require.NoError(t, err)

			got := res.Model.Coefficients()
			require.Len(t, got, len(tc.coef))
			for k := range got {
				assert.InDelta(t, tc.coef[k], got[k], 1e-6, "coefficient %d", k)
			}
			assert.Less(t, res.Diagnostics.RMS, 1e-8)
			assert.Less(t, res.ResidualNorm, 1e-7)
			assert.Greater(t, res.Iterations, 0)
			assert.Equal(t, tc.basis.Name(), res.Label)
		})
	}
}

func TestFitWithNoiseStaysWithinNoiseFloor(t *testing.T) {
	const sigma = 0.01
	data := gridTriples(EvenXEvenY, evenCoef, sigma, 7)

	res, err := Fit(EvenXEvenY, data, Options{Label: "q_over_dp0"})
	require.NoError(t, err)

	assert.Less(t, res.Diagnostics.RMS, 2*sigma)
	assert.Equal(t, len(data), res.Diagnostics.Samples)
	for _, se := range res.StdErrors() {
		assert.Greater(t, se, 0.0)
	}
	// The fitted surface tracks the generating one far below the sample noise.
	for _, pt := range [][2]float64{{0.5, 0.5}, {1.5, 1.0}, {2.5, 2.0}} {
		assert.InDelta(t, EvenXEvenY.Eval(pt[0], pt[1], evenCoef), res.Model.Eval(pt[0], pt[1]), sigma)
	}
}

func TestFitIsDeterministic(t *testing.T) {
	data := gridTriples(OddXEvenY, alphaCoef, 0.2, 3)

	a, err := Fit(OddXEvenY, data, Options{})
	require.NoError(t, err)
	b, err := Fit(OddXEvenY, data, Options{})
	require.NoError(t, err)

	assert.Equal(t, a.Model.Coefficients(), b.Model.Coefficients())
	assert.Equal(t, a.Iterations, b.Iterations)
}

func TestFitInitialGuess(t *testing.T) {
	data := gridTriples(OddXEvenY, alphaCoef, 0, 1)

	res, err := Fit(OddXEvenY, data, Options{Initial: []float64{10, 0, 1, 0, 0, 0}})
	require.NoError(t, err)
	assert.InDelta(t, alphaCoef[0], res.Model.Coefficients()[0], 1e-6)

	_, err = Fit(OddXEvenY, data, Options{Label: "alpha", Initial: []float64{1, 2}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrFitInstability))
}

func TestFitFailures(t *testing.T) {
	good := gridTriples(EvenXEvenY, evenCoef, 0, 1)

	withNaN := append([]Triple(nil), good...)
	withNaN[10].Z = math.NaN()

	collinear := make([]Triple, 40)
	for i := range collinear {
		collinear[i] = Triple{X: 1, Y: 1, Z: 3}
	}

	cases := map[string][]Triple{
		"nan residual":   withNaN,
		"too few":        good[:5],
		"singular":       collinear,
		"no data at all": nil,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := Fit(EvenXEvenY, data, Options{Label: "minus_s_over_dp0"})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, core.ErrFitInstability))

			var fe *core.FitError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "minus_s_over_dp0", fe.Variable)
			assert.Equal(t, "even_x_even_y", fe.Basis)
		})
	}
}

func TestFitSingularReportsResidualNorm(t *testing.T) {
	data := make([]Triple, 20)
	for i := range data {
		// x is always zero, so no alpha coefficient has any support.
		data[i] = Triple{X: 0, Y: 0.1 * float64(i), Z: float64(i)}
	}
	_, err := Fit(OddXEvenY, data, Options{Label: "alpha"})
	var fe *core.FitError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Reason, "singular jacobian")
	assert.False(t, math.IsNaN(fe.ResidualNorm))
}

func TestDiagnose(t *testing.T) {
	d, err := Diagnose([]float64{3, -4})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Samples)
	assert.InDelta(t, math.Sqrt(12.5), d.RMS, 1e-12)
	assert.Equal(t, 4.0, d.MaxAbs)
	assert.InDelta(t, 3.5, d.StdDev, 1e-12)
	assert.GreaterOrEqual(t, d.P95Abs, 3.0)
	assert.LessOrEqual(t, d.P95Abs, 4.0)

	_, err = Diagnose(nil)
	assert.Error(t, err)
}

func TestModelCopiesCoefficients(t *testing.T) {
	coef := []float64{1, 2, 3, 4, 5, 6}
	m := NewModel(OddXEvenY, coef)
	coef[0] = 100
	assert.Equal(t, 1.0, m.Coefficients()[0])

	out := m.Coefficients()
	out[1] = 100
	assert.Equal(t, 2.0, m.Coefficients()[1])
	assert.Equal(t, OddXEvenY.Name(), m.Basis().Name())
}
