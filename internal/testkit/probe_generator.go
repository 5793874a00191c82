package testkit

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"probecal/domain/calibration"
	"probecal/domain/probe"
	"probecal/internal/fit"
)

// ProbeTruth holds the response surfaces a synthetic probe obeys, as
// coefficient vectors of the built-in basis families.
type ProbeTruth struct {
	Alpha  []float64 `json:"alpha"`
	Beta   []float64 `json:"beta"`
	Q      []float64 `json:"q_over_dp0"`
	MinusS []float64 `json:"minus_s_over_dp0"`
}

// DefaultProbeTruth resembles a hemispherical-head probe over the flight envelope
func DefaultProbeTruth() ProbeTruth {
	return ProbeTruth{
		Alpha:  []float64{12, 0, 0.8, 0.4, -0.02, 0.001},
		Beta:   []float64{10, 0, 0.6, 0.3, -0.02, 0.001},
		Q:      []float64{1.0, 0.08, -0.002, 0, 0.06, -0.002, 0},
		MinusS: []float64{0.45, -0.03, 0.001, 0, -0.025, 0.001, 0},
	}
}

// Models returns the truth as fitted-model values keyed by variable
func (t ProbeTruth) Models() map[calibration.Variable]*fit.Model {
	return map[calibration.Variable]*fit.Model{
		calibration.Alpha:         fit.NewModel(fit.OddXEvenY, t.Alpha),
		calibration.Beta:          fit.NewModel(fit.EvenXOddY, t.Beta),
		calibration.QOverDp0:      fit.NewModel(fit.EvenXEvenY, t.Q),
		calibration.MinusSOverDp0: fit.NewModel(fit.EvenXEvenY, t.MinusS),
	}
}

// ProbeGeneratorConfig configures the synthetic tunnel sweep
type ProbeGeneratorConfig struct {
	Truth ProbeTruth `json:"truth"`
	// Ratio sweep: dpa/dp0 over [-XMax, XMax], dpb/dp0 over [-YMax, YMax].
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
	Step float64 `json:"step"`
	// Repeats is the number of readings taken at each commanded pair.
	Repeats int `json:"repeats"`
	// ChannelNoise is the standard deviation added to every pressure channel.
	ChannelNoise float64 `json:"channel_noise"`
	Seed         uint64  `json:"seed"`
}

// DefaultProbeConfig returns a noisy sweep that covers the default grid
func DefaultProbeConfig() ProbeGeneratorConfig {
	return ProbeGeneratorConfig{
		Truth:        DefaultProbeTruth(),
		XMax:         2.8,
		YMax:         2.4,
		Step:         0.2,
		Repeats:      1,
		ChannelNoise: 0.002,
		Seed:         42,
	}
}

// Validate rejects sweeps that cannot be enumerated
func (c ProbeGeneratorConfig) Validate() error {
	if !(c.Step > 0) || math.IsInf(c.Step, 0) {
		return fmt.Errorf("sweep step must be positive, got %g", c.Step)
	}
	if c.XMax < 0 || c.YMax < 0 || math.IsInf(c.XMax, 0) || math.IsInf(c.YMax, 0) {
		return fmt.Errorf("sweep limits must be finite and non-negative, got %g and %g", c.XMax, c.YMax)
	}
	if c.ChannelNoise < 0 {
		return fmt.Errorf("channel noise must not be negative, got %g", c.ChannelNoise)
	}
	return nil
}

// ProbeGenerator produces measurement batches from a known probe
type ProbeGenerator struct {
	config ProbeGeneratorConfig
	models map[calibration.Variable]*fit.Model
	noise  distuv.Normal
}

// NewProbeGenerator creates a deterministic generator for config.Seed
func NewProbeGenerator(config ProbeGeneratorConfig) *ProbeGenerator {
	if config.Repeats < 1 {
		config.Repeats = 1
	}
	return &ProbeGenerator{
		config: config,
		models: config.Truth.Models(),
		noise: distuv.Normal{
			Mu:    0,
			Sigma: config.ChannelNoise,
			Src:   rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15),
		},
	}
}

// Truth evaluates the generating surface for v at folded ratios (x, y)
func (g *ProbeGenerator) Truth(v calibration.Variable, x, y float64) float64 {
	return g.models[v].Eval(x, y)
}

func sweep(limit, step float64) []float64 {
	n := int(math.Round(limit / step))
	out := make([]float64, 0, 2*n+1)
	for k := -n; k <= n; k++ {
		out = append(out, float64(k)*step)
	}
	return out
}

// Sample builds the exact reading for signed ratios (x, y) before noise.
func (g *ProbeGenerator) Sample(x, y float64) probe.Sample {
	ax, ay := math.Abs(x), math.Abs(y)
	dp0 := 1 / g.Truth(calibration.QOverDp0, ax, ay)
	dpa := x * dp0
	dpb := y * dp0
	s := -g.Truth(calibration.MinusSOverDp0, ax, ay) * dp0
	return probe.Sample{
		Alpha: probe.Sign(x) * g.Truth(calibration.Alpha, ax, ay),
		Beta:  probe.Sign(y) * g.Truth(calibration.Beta, ax, ay),
		Channels: probe.Channels{
			Down:   dpa / 2,
			Up:     -dpa / 2,
			Right:  dpb / 2,
			Left:   -dpb / 2,
			Center: dp0 + s,
			Static: s,
		},
	}
}

func (g *ProbeGenerator) perturb(c probe.Channels) probe.Channels {
	if g.config.ChannelNoise <= 0 {
		return c
	}
	return probe.Channels{
		Down:   c.Down + g.noise.Rand(),
		Up:     c.Up + g.noise.Rand(),
		Right:  c.Right + g.noise.Rand(),
		Left:   c.Left + g.noise.Rand(),
		Center: c.Center + g.noise.Rand(),
		Static: c.Static + g.noise.Rand(),
	}
}

// Generate sweeps the signed ratio grid and returns one sample per reading,
// commanded pairs in sweep order with their repeats adjacent.
func (g *ProbeGenerator) Generate() probe.Batch {
	xs := sweep(g.config.XMax, g.config.Step)
	ys := sweep(g.config.YMax, g.config.Step)
	b := probe.Batch{Label: "synthetic", Samples: make([]probe.Sample, 0, len(xs)*len(ys)*g.config.Repeats)}
	for _, x := range xs {
		for _, y := range ys {
			exact := g.Sample(x, y)
			for k := 0; k < g.config.Repeats; k++ {
				s := exact
				s.Channels = g.perturb(exact.Channels)
				b.Samples = append(b.Samples, s)
			}
		}
	}
	return b
}
