package probe

import (
	"math"

	"probecal/domain/calibration"
	"probecal/domain/core"
)

// Pressures are the physically meaningful differences of one sample.
type Pressures struct {
	Alpha  float64
	Beta   float64
	Dp0    float64 // center - static, the normalizing reference
	Dpa    float64 // down - up
	Dpb    float64 // right - left
	MinusS float64 // -static
}

// Reading returns the raw triple the consumer sees, with the given baro reference.
func (p Pressures) Reading(baro float64) calibration.Reading {
	return calibration.Reading{Dp0: p.Dp0, Dpa: p.Dpa, Dpb: p.Dpb, Baro: baro}
}

// Derive computes the derived pressures of every sample in order.
func Derive(b Batch) []Pressures {
	out := make([]Pressures, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = Pressures{
			Alpha:  s.Alpha,
			Beta:   s.Beta,
			Dp0:    s.Center - s.Static,
			Dpa:    s.Down - s.Up,
			Dpb:    s.Right - s.Left,
			MinusS: -s.Static,
		}
	}
	return out
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FilterDegenerate drops samples whose |dp0| is below floor (or zero) and
// samples carrying non-finite values. It returns the kept samples and the
// indices of the dropped ones.
func FilterDegenerate(ps []Pressures, floor float64) ([]Pressures, []int) {
	kept := make([]Pressures, 0, len(ps))
	var dropped []int
	for i, p := range ps {
		if p.Dp0 == 0 || math.Abs(p.Dp0) < floor || !finite(p.Alpha, p.Beta, p.Dp0, p.Dpa, p.Dpb, p.MinusS) {
			dropped = append(dropped, i)
			continue
		}
		kept = append(kept, p)
	}
	return kept, dropped
}

// RatioSample is the fitting input space: the two cross ratios and the two
// pressure ratios, paired with the commanded angles.
type RatioSample struct {
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	DpaOverDp0    float64 `json:"dpa_over_dp0"`
	DpbOverDp0    float64 `json:"dpb_over_dp0"`
	QOverDp0      float64 `json:"q_over_dp0"`
	MinusSOverDp0 float64 `json:"minus_s_over_dp0"`
}

// Response returns the fitted quantity for v.
func (r RatioSample) Response(v calibration.Variable) float64 {
	switch v {
	case calibration.Alpha:
		return r.Alpha
	case calibration.Beta:
		return r.Beta
	case calibration.QOverDp0:
		return r.QOverDp0
	case calibration.MinusSOverDp0:
		return r.MinusSOverDp0
	}
	return math.NaN()
}

// Ratios normalizes each sample by dp0. Degenerate samples must have been
// filtered already; any that remain abort with ErrDegenerateSample.
func Ratios(ps []Pressures) ([]RatioSample, error) {
	out := make([]RatioSample, len(ps))
	for i, p := range ps {
		if p.Dp0 == 0 {
			return nil, core.NewDegenerateError(i, p.Dp0)
		}
		r := RatioSample{
			Alpha:         p.Alpha,
			Beta:          p.Beta,
			DpaOverDp0:    p.Dpa / p.Dp0,
			DpbOverDp0:    p.Dpb / p.Dp0,
			QOverDp0:      1 / p.Dp0,
			MinusSOverDp0: p.MinusS / p.Dp0,
		}
		if !finite(r.Alpha, r.Beta, r.DpaOverDp0, r.DpbOverDp0, r.QOverDp0, r.MinusSOverDp0) {
			return nil, core.NewDegenerateError(i, p.Dp0)
		}
		out[i] = r
	}
	return out, nil
}
