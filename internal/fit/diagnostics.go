package fit

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Diagnostics summarizes the residuals (fitted - observed) over a training set.
type Diagnostics struct {
	Samples int     `json:"samples"`
	RMS     float64 `json:"rms"`
	MaxAbs  float64 `json:"max_abs"`
	StdDev  float64 `json:"std_dev"`
	P95Abs  float64 `json:"p95_abs"`
}

// Residuals returns fitted - observed for each triple, in input order.
func Residuals(m *Model, data []Triple) []float64 {
	out := make([]float64, len(data))
	for i, d := range data {
		out[i] = m.Eval(d.X, d.Y) - d.Z
	}
	return out
}

// Diagnose computes residual summary statistics.
func Diagnose(residuals []float64) (Diagnostics, error) {
	res := stats.Float64Data(residuals)
	abs := make(stats.Float64Data, len(res))
	sq := make(stats.Float64Data, len(res))
	for i, r := range res {
		abs[i] = math.Abs(r)
		sq[i] = r * r
	}

	meanSq, err := stats.Mean(sq)
	if err != nil {
		return Diagnostics{}, err
	}
	maxAbs, err := stats.Max(abs)
	if err != nil {
		return Diagnostics{}, err
	}
	sd, err := stats.StandardDeviation(res)
	if err != nil {
		return Diagnostics{}, err
	}
	p95, err := stats.Percentile(abs, 95)
	if err != nil {
		return Diagnostics{}, err
	}

	return Diagnostics{
		Samples: len(res),
		RMS:     math.Sqrt(meanSq),
		MaxAbs:  maxAbs,
		StdDev:  sd,
		P95Abs:  p95,
	}, nil
}
