package probe

import (
	"math"

	"github.com/montanaflynn/stats"
)

type anglePair struct{ alpha, beta float64 }

// groupByPair skips samples whose key is not finite; NaN never equals itself
// as a map key.
func groupByPair(samples []Sample, key func(Sample) anglePair) ([]anglePair, map[anglePair][]Sample) {
	var order []anglePair
	groups := make(map[anglePair][]Sample)
	for _, s := range samples {
		k := key(s)
		if !finite(k.alpha, k.beta) {
			continue
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], s)
	}
	return order, groups
}

func channelColumns(samples []Sample) [6]stats.Float64Data {
	var cols [6]stats.Float64Data
	for _, s := range samples {
		v := s.values()
		for c := range cols {
			cols[c] = append(cols[c], v[c])
		}
	}
	return cols
}

// Aggregate averages readings that share a commanded (alpha, beta) pair.
// It returns the mean batch and the matching population standard deviation
// batch, both ordered by first appearance of each pair. Readings with a
// non-finite commanded angle are left out.
func Aggregate(b Batch) (Batch, Batch, error) {
	order, groups := groupByPair(b.Samples, func(s Sample) anglePair {
		return anglePair{s.Alpha, s.Beta}
	})

	mean := Batch{Label: b.Label + ".data"}
	sigma := Batch{Label: b.Label + ".sigma"}
	for _, k := range order {
		cols := channelColumns(groups[k])
		var m, sd [6]float64
		for c, col := range cols {
			var err error
			if m[c], err = stats.Mean(col); err != nil {
				return Batch{}, Batch{}, err
			}
			if sd[c], err = stats.StandardDeviation(col); err != nil {
				return Batch{}, Batch{}, err
			}
		}
		mean.Samples = append(mean.Samples, Sample{Alpha: k.alpha, Beta: k.beta, Channels: channelsFrom(m)})
		sigma.Samples = append(sigma.Samples, Sample{Alpha: k.alpha, Beta: k.beta, Channels: channelsFrom(sd)})
	}
	return mean, sigma, nil
}

// Asymmetry is the per-channel spread (max - min) across the mirror images of
// one folded (|alpha|, |beta|) pair, after mirroring the channels of each image
// into the positive quadrant. A symmetric probe reads zero.
type Asymmetry struct {
	Alpha  float64
	Beta   float64
	Count  int
	Spread Channels
}

// mirror swaps the channel pairs that trade places when an angle changes sign.
func mirror(s Sample) Sample {
	if s.Alpha < 0 {
		s.Down, s.Up = s.Up, s.Down
	}
	if s.Beta < 0 {
		s.Right, s.Left = s.Left, s.Right
	}
	s.Alpha, s.Beta = math.Abs(s.Alpha), math.Abs(s.Beta)
	return s
}

// AsymmetryOf groups samples by folded angle pair and reports channel spreads.
// Samples with a non-finite commanded angle are ignored.
func AsymmetryOf(b Batch) ([]Asymmetry, error) {
	folded := make([]Sample, len(b.Samples))
	for i, s := range b.Samples {
		folded[i] = mirror(s)
	}
	order, groups := groupByPair(folded, func(s Sample) anglePair {
		return anglePair{s.Alpha, s.Beta}
	})

	out := make([]Asymmetry, 0, len(order))
	for _, k := range order {
		cols := channelColumns(groups[k])
		var spread [6]float64
		for c, col := range cols {
			hi, err := stats.Max(col)
			if err != nil {
				return nil, err
			}
			lo, err := stats.Min(col)
			if err != nil {
				return nil, err
			}
			spread[c] = hi - lo
		}
		out = append(out, Asymmetry{Alpha: k.alpha, Beta: k.beta, Count: len(groups[k]), Spread: channelsFrom(spread)})
	}
	return out, nil
}

// MaxSpread returns the largest spread seen on any channel.
func MaxSpread(entries []Asymmetry) float64 {
	worst := 0.0
	for _, e := range entries {
		for _, v := range e.Spread.values() {
			worst = math.Max(worst, v)
		}
	}
	return worst
}
