package calibration

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"probecal/domain/core"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Surface is one sampled response variable: two axes and x-major data.
type Surface struct {
	Variable Variable
	Comment  string
	X        Axis
	Y        Axis
	Data     []float64
}

// At returns the value at grid node (i, j).
func (s *Surface) At(i, j int) float64 {
	return s.Data[i*s.Y.Size+j]
}

// Validate checks axis sanity, data length and finiteness.
func (s *Surface) Validate() error {
	for name, a := range map[string]Axis{"x": s.X, "y": s.Y} {
		if a.Size < 1 {
			return fmt.Errorf("%w: %s %s axis size %d", core.ErrInvalidTable, s.Variable, name, a.Size)
		}
		if !(a.Step > 0) || math.IsInf(a.Step, 0) || math.IsNaN(a.ZeroOffset) || math.IsInf(a.ZeroOffset, 0) {
			return fmt.Errorf("%w: %s %s axis step %g offset %g", core.ErrInvalidTable, s.Variable, name, a.Step, a.ZeroOffset)
		}
	}
	if want := s.X.Size * s.Y.Size; len(s.Data) != want {
		return fmt.Errorf("%w: %s has %d values, expected %d", core.ErrInvalidTable, s.Variable, len(s.Data), want)
	}
	for k, v := range s.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s value %d is not finite", core.ErrInvalidTable, s.Variable, k)
		}
	}
	return nil
}

// Table is the persisted calibration artifact: four surfaces sharing a name prefix.
type Table struct {
	Prefix   string
	Surfaces []Surface
}

// Surface returns the surface for v.
func (t *Table) Surface(v Variable) (*Surface, error) {
	for i := range t.Surfaces {
		if t.Surfaces[i].Variable == v {
			return &t.Surfaces[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", core.ErrMissingVariable, v)
}

// Validate requires a C identifier prefix and exactly the four variables in artifact order.
func (t *Table) Validate() error {
	if !ValidPrefix(t.Prefix) {
		return fmt.Errorf("%w: prefix %q is not an identifier", core.ErrInvalidTable, t.Prefix)
	}
	if len(t.Surfaces) != len(Variables) {
		return fmt.Errorf("%w: %d surfaces, expected %d", core.ErrInvalidTable, len(t.Surfaces), len(Variables))
	}
	for i, v := range Variables {
		if t.Surfaces[i].Variable != v {
			return fmt.Errorf("%w: surface %d is %s, expected %s", core.ErrInvalidTable, i, t.Surfaces[i].Variable, v)
		}
		if err := t.Surfaces[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint hashes the canonical text of the table. Numbers use shortest
// round-trip formatting so a decoded artifact hashes identically.
func (t *Table) Fingerprint() core.Hash {
	var b strings.Builder
	b.WriteString(t.Prefix)
	b.WriteByte('\n')
	for _, s := range t.Surfaces {
		fmt.Fprintf(&b, "%s|%s|%d|%s|%s|%d|%s|%s\n",
			s.Variable, s.Comment,
			s.X.Size, FormatFloat(s.X.Step), FormatFloat(s.X.ZeroOffset),
			s.Y.Size, FormatFloat(s.Y.Step), FormatFloat(s.Y.ZeroOffset))
		for _, v := range s.Data {
			b.WriteString(FormatFloat(v))
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	return core.NewHash([]byte(b.String()))
}

// ValidPrefix reports whether p can prefix the C identifiers of an artifact.
func ValidPrefix(p string) bool {
	return identifierPattern.MatchString(p)
}

// FormatFloat renders v with the fewest digits that parse back to the same float64.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
