package calibration

import (
	"fmt"
	"math"

	"probecal/domain/core"
)

// edgeTolerance absorbs rounding when a lookup lands on the last grid node.
const edgeTolerance = 1e-9

// Reading is the raw probe triple plus the barometric reference.
type Reading struct {
	Dp0  float64 `json:"dp0"`
	Dpa  float64 `json:"dpa"`
	Dpb  float64 `json:"dpb"`
	Baro float64 `json:"baro"`
}

// AirData is the consumer output. The zero value signals a failed lookup.
type AirData struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Q     float64 `json:"q"`
	P     float64 `json:"p"`
}

// IsZero reports whether a is the failure quadruple.
func (a AirData) IsZero() bool {
	return a == AirData{}
}

func locate(a Axis, v float64) (lo, hi int, frac float64, ok bool) {
	f := (v - a.ZeroOffset) / a.Step
	last := float64(a.Size - 1)
	if math.IsNaN(f) || f < -edgeTolerance || f > last+edgeTolerance {
		return 0, 0, 0, false
	}
	f = math.Max(0, math.Min(f, last))
	lo = int(math.Floor(f))
	if lo >= a.Size-1 {
		lo = a.Size - 1
		if lo > 0 {
			lo--
		}
	}
	hi = lo
	if a.Size > 1 {
		hi = lo + 1
	}
	return lo, hi, f - float64(lo), true
}

// Interpolate performs the firmware's bilinear lookup between the four nodes
// enclosing (x, y). Points outside the axes are an error.
func (s *Surface) Interpolate(x, y float64) (float64, error) {
	i0, i1, tx, okx := locate(s.X, x)
	j0, j1, ty, oky := locate(s.Y, y)
	if !okx || !oky {
		return 0, core.NewOutOfTableError(s.Variable.String(), x, y)
	}
	v00 := s.At(i0, j0)
	v10 := s.At(i1, j0)
	v01 := s.At(i0, j1)
	v11 := s.At(i1, j1)
	return (1-tx)*(1-ty)*v00 + tx*(1-ty)*v10 + (1-tx)*ty*v01 + tx*ty*v11, nil
}

func absSign(v float64) (float64, float64) {
	if v < 0 {
		return -v, -1
	}
	return v, 1
}

// PressuresToAirData reproduces the firmware routine: the folded ratios index
// every surface, the ratio signs restore alpha and beta, and the pressure
// ratios are scaled back by dp0.
func PressuresToAirData(t *Table, r Reading) (AirData, error) {
	if r.Dp0 == 0 || math.IsNaN(r.Dp0) || math.IsInf(r.Dp0, 0) {
		return AirData{}, fmt.Errorf("%w: dp0=%g", core.ErrDegenerateSample, r.Dp0)
	}
	rpa, sa := absSign(r.Dpa / r.Dp0)
	rpb, sb := absSign(r.Dpb / r.Dp0)

	values := make(map[Variable]float64, len(Variables))
	for _, v := range Variables {
		s, err := t.Surface(v)
		if err != nil {
			return AirData{}, err
		}
		val, err := s.Interpolate(rpa, rpb)
		if err != nil {
			return AirData{}, err
		}
		values[v] = val
	}

	return AirData{
		Alpha: sa * values[Alpha],
		Beta:  sb * values[Beta],
		Q:     r.Dp0 * values[QOverDp0],
		P:     r.Baro + values[MinusSOverDp0]*r.Dp0,
	}, nil
}
