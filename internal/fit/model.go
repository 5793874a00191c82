package fit

// Model is a basis with fitted coefficients. It is immutable once built.
type Model struct {
	basis Basis
	coef  []float64
}

// NewModel binds coefficients to a basis. The slice is copied.
func NewModel(b Basis, coef []float64) *Model {
	c := make([]float64, len(coef))
	copy(c, coef)
	return &Model{basis: b, coef: c}
}

// Eval returns f(x, y).
func (m *Model) Eval(x, y float64) float64 {
	return m.basis.Eval(x, y, m.coef)
}

// Basis returns the functional form.
func (m *Model) Basis() Basis { return m.basis }

// Coefficients returns a copy of the fitted coefficients.
func (m *Model) Coefficients() []float64 {
	c := make([]float64, len(m.coef))
	copy(c, m.coef)
	return c
}
