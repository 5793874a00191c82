package testkit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probecal/domain/calibration"
	"probecal/domain/probe"
)

func TestProbeGeneratorIsDeterministic(t *testing.T) {
	a := NewProbeGenerator(DefaultProbeConfig()).Generate()
	b := NewProbeGenerator(DefaultProbeConfig()).Generate()
	assert.Equal(t, a, b)

	cfg := DefaultProbeConfig()
	cfg.Seed = 7
	c := NewProbeGenerator(cfg).Generate()
	assert.NotEqual(t, a.Samples, c.Samples)
}

func TestProbeGeneratorSweepShape(t *testing.T) {
	cfg := DefaultProbeConfig()
	cfg.Repeats = 3
	b := NewProbeGenerator(cfg).Generate()

	// 29 x 25 commanded pairs, three readings each.
	assert.Equal(t, 29*25*3, b.Len())
	assert.Equal(t, b.Samples[0].Alpha, b.Samples[2].Alpha)
	assert.NotEqual(t, b.Samples[0].Down, b.Samples[1].Down)

	mean, _, err := probe.Aggregate(b)
	require.NoError(t, err)
	assert.Equal(t, 29*25, mean.Len())
}

func TestProbeGeneratorRatiosMatchTruth(t *testing.T) {
	cfg := DefaultProbeConfig()
	cfg.ChannelNoise = 0
	g := NewProbeGenerator(cfg)

	ratios, err := probe.Ratios(probe.Derive(g.Generate()))
	require.NoError(t, err)
	folded := probe.Fold(ratios)

	for _, r := range folded {
		require.GreaterOrEqual(t, r.DpaOverDp0, -1e-12)
		require.GreaterOrEqual(t, r.DpbOverDp0, -1e-12)
		x, y := math.Abs(r.DpaOverDp0), math.Abs(r.DpbOverDp0)
		for _, v := range calibration.Variables {
			assert.InDelta(t, g.Truth(v, x, y), r.Response(v), 1e-9, "%s at (%g, %g)", v, x, y)
		}
	}
}

func TestProbeGeneratorMirrorSymmetry(t *testing.T) {
	cfg := DefaultProbeConfig()
	cfg.ChannelNoise = 0
	g := NewProbeGenerator(cfg)

	s := g.Sample(1.2, 0.6)
	m := g.Sample(-1.2, 0.6)
	assert.Equal(t, -s.Alpha, m.Alpha)
	assert.Equal(t, s.Beta, m.Beta)
	assert.Equal(t, s.Down, m.Up)
	assert.Equal(t, s.Center, m.Center)

	asym, err := probe.AsymmetryOf(g.Generate())
	require.NoError(t, err)
	assert.InDelta(t, 0, probe.MaxSpread(asym), 1e-12)
}

func TestProbeConfigValidate(t *testing.T) {
	require.NoError(t, DefaultProbeConfig().Validate())

	for name, mutate := range map[string]func(*ProbeGeneratorConfig){
		"zero step":      func(c *ProbeGeneratorConfig) { c.Step = 0 },
		"negative step":  func(c *ProbeGeneratorConfig) { c.Step = -0.1 },
		"nan step":       func(c *ProbeGeneratorConfig) { c.Step = math.NaN() },
		"negative limit": func(c *ProbeGeneratorConfig) { c.YMax = -1 },
		"negative noise": func(c *ProbeGeneratorConfig) { c.ChannelNoise = -0.01 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultProbeConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
