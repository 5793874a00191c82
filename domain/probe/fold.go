package probe

import "math"

// Sign returns -1 for negative v and +1 otherwise; zero (and -0) count as positive.
func Sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Fold maps every sample into the positive (alpha, beta) quadrant. The cross
// ratios take the sign of their driving angle so the mirror images of one
// flow condition coincide. q/dp0 and -s/dp0 are symmetric and pass through.
// The input is not modified.
func Fold(samples []RatioSample) []RatioSample {
	out := make([]RatioSample, len(samples))
	for i, s := range samples {
		out[i] = RatioSample{
			Alpha:         math.Abs(s.Alpha),
			Beta:          math.Abs(s.Beta),
			DpaOverDp0:    s.DpaOverDp0 * Sign(s.Alpha),
			DpbOverDp0:    s.DpbOverDp0 * Sign(s.Beta),
			QOverDp0:      s.QOverDp0,
			MinusSOverDp0: s.MinusSOverDp0,
		}
	}
	return out
}
