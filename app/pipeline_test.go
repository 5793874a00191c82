package app

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probecal/domain/calibration"
	"probecal/domain/core"
	"probecal/domain/probe"
	"probecal/domain/run"
	"probecal/internal"
	apperrors "probecal/internal/errors"
	"probecal/internal/testkit"
)

func quietLogger() *internal.Logger {
	return internal.NewLoggerTo(&bytes.Buffer{}, internal.LogLevelTrace)
}

func testPipeline(mutate func(*PipelineConfig)) *Pipeline {
	cfg := DefaultPipelineConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewPipeline(cfg, quietLogger())
}

func TestPipelineRecoversExactProbe(t *testing.T) {
	gen := testkit.DefaultProbeConfig()
	gen.ChannelNoise = 0
	g := testkit.NewProbeGenerator(gen)

	res, err := testPipeline(func(c *PipelineConfig) { c.BetaLimit = 0 }).Run(context.Background(), g.Generate())
	require.NoError(t, err)

	assert.Equal(t, 29*25, res.Samples)
	assert.Empty(t, res.Dropped)
	assert.NotEmpty(t, res.RunID)

	for v, want := range map[calibration.Variable][]float64{
		calibration.Alpha:         gen.Truth.Alpha,
		calibration.Beta:          gen.Truth.Beta,
		calibration.QOverDp0:      gen.Truth.Q,
		calibration.MinusSOverDp0: gen.Truth.MinusS,
	} {
		got := res.Fits[v].Model.Coefficients()
		require.Len(t, got, len(want), v.String())
		for k := range want {
			assert.InDelta(t, want[k], got[k], 1e-6, "%s coefficient %d", v, k)
		}
	}

	// Every grid node carries the generating surface.
	table := res.Table
	require.NoError(t, table.Validate())
	for _, s := range table.Surfaces {
		for i := 0; i < s.X.Size; i += 5 {
			for j := 0; j < s.Y.Size; j += 5 {
				x, y := s.X.Coordinate(i), s.Y.Coordinate(j)
				assert.InDelta(t, g.Truth(s.Variable, x, y), s.At(i, j), 1e-5, "%s at (%g, %g)", s.Variable, x, y)
			}
		}
	}
}

func TestPipelineNoisyProbeMeetsTolerances(t *testing.T) {
	gen := testkit.DefaultProbeConfig()
	gen.Repeats = 3
	batch := testkit.NewProbeGenerator(gen).Generate()

	res, err := testPipeline(func(c *PipelineConfig) { c.Aggregate = true }).Run(context.Background(), batch)
	require.NoError(t, err)

	assert.Greater(t, res.Restricted, 0, "beta limit trims the widest sideslip readings")
	require.NotNil(t, res.Sigma)
	assert.Equal(t, res.Samples, res.Sigma.Len())

	assert.LessOrEqual(t, res.Fits[calibration.Alpha].Diagnostics.RMS, 1.0)
	assert.LessOrEqual(t, res.Fits[calibration.Beta].Diagnostics.RMS, 1.0)
	assert.LessOrEqual(t, res.Fits[calibration.QOverDp0].Diagnostics.RMS, 0.1)
	assert.LessOrEqual(t, res.Fits[calibration.MinusSOverDp0].Diagnostics.RMS, 0.1)
}

func TestPipelineTableIsSymmetric(t *testing.T) {
	gen := testkit.DefaultProbeConfig()
	res, err := testPipeline(nil).Run(context.Background(), testkit.NewProbeGenerator(gen).Generate())
	require.NoError(t, err)

	// Folding plus sign restoration makes the consumer exactly odd in each
	// cross ratio and the pressure outputs exactly even.
	for _, pt := range [][2]float64{{0.35, 0.2}, {1.1, 0.75}, {2.2, 1.9}} {
		x, y := pt[0], pt[1]
		base, err := calibration.PressuresToAirData(res.Table, calibration.Reading{Dp0: 1, Dpa: x, Dpb: y})
		require.NoError(t, err)
		for _, sx := range []float64{1, -1} {
			for _, sy := range []float64{1, -1} {
				m, err := calibration.PressuresToAirData(res.Table, calibration.Reading{Dp0: 1, Dpa: sx * x, Dpb: sy * y})
				require.NoError(t, err)
				assert.Equal(t, sx*base.Alpha, m.Alpha)
				assert.Equal(t, sy*base.Beta, m.Beta)
				assert.Equal(t, base.Q, m.Q)
				assert.Equal(t, base.P, m.P)
			}
		}
	}

	// The fitted surfaces themselves are even in the cross ratio.
	alpha := res.Fits[calibration.Alpha].Model
	q := res.Fits[calibration.QOverDp0].Model
	for _, pt := range [][2]float64{{0.5, 0.4}, {1.5, 2.0}} {
		assert.InDelta(t, alpha.Eval(pt[0], pt[1]), alpha.Eval(pt[0], -pt[1]), 1e-12)
		assert.InDelta(t, q.Eval(pt[0], pt[1]), q.Eval(-pt[0], -pt[1]), 1e-12)
	}
}

func TestPipelineParallelMatchesSequential(t *testing.T) {
	batch := testkit.NewProbeGenerator(testkit.DefaultProbeConfig()).Generate()

	par, err := testPipeline(func(c *PipelineConfig) { c.Parallel = true }).Run(context.Background(), batch)
	require.NoError(t, err)
	seq, err := testPipeline(func(c *PipelineConfig) { c.Parallel = false }).Run(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, par.Table, seq.Table)
	assert.Equal(t, par.Table.Fingerprint(), seq.Table.Fingerprint())
	assert.NotEqual(t, par.RunID, seq.RunID)
}

func TestPipelineDropsDegenerateReadings(t *testing.T) {
	batch := testkit.NewProbeGenerator(testkit.DefaultProbeConfig()).Generate()
	batch.Samples[3].Center = batch.Samples[3].Static
	batch.Samples[10].Center = batch.Samples[10].Static + 1e-9

	res, err := testPipeline(func(c *PipelineConfig) { c.BetaLimit = 0 }).Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 10}, res.Dropped)
	assert.Equal(t, batch.Len()-2, res.Samples)
}

func TestPipelineDropsNonFiniteAngles(t *testing.T) {
	batch := testkit.NewProbeGenerator(testkit.DefaultProbeConfig()).Generate()
	batch.Samples[5].Alpha = math.NaN()
	batch.Samples[7].Beta = math.Inf(1)

	res, err := testPipeline(func(c *PipelineConfig) { c.BetaLimit = 0 }).Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 7}, res.Dropped)
	assert.Equal(t, batch.Len()-2, res.Samples)

	agg, err := testPipeline(func(c *PipelineConfig) {
		c.BetaLimit = 0
		c.Aggregate = true
	}).Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Empty(t, agg.Dropped)
	for _, s := range agg.Folded {
		assert.False(t, math.IsNaN(s.Alpha) || math.IsInf(s.Beta, 0))
	}
}

func TestPipelineFailures(t *testing.T) {
	same := probe.Sample{Alpha: 5, Beta: 2, Channels: probe.Channels{Down: 0.2, Up: -0.2, Right: 0.1, Left: -0.1, Center: 0.6, Static: -0.4}}
	collapsed := probe.Batch{Label: "stuck"}
	for i := 0; i < 20; i++ {
		collapsed.Samples = append(collapsed.Samples, same)
	}
	allZero := probe.Batch{Label: "zero", Samples: []probe.Sample{{Alpha: 1}, {Alpha: 2}}}

	cases := []struct {
		name  string
		batch probe.Batch
		code  string
		want  error
	}{
		{"empty batch", probe.Batch{Label: "none"}, apperrors.CodeIngestion, core.ErrSchemaMismatch},
		{"all degenerate", allZero, apperrors.CodeIngestion, core.ErrDegenerateSample},
		{"collapsed sweep", collapsed, apperrors.CodeFitInstability, core.ErrFitInstability},
	}
	for _, tc := range cases {
		for _, parallel := range []bool{true, false} {
			t.Run(tc.name, func(t *testing.T) {
				p := testPipeline(func(c *PipelineConfig) { c.Parallel = parallel })
				res, err := p.Run(context.Background(), tc.batch)
				require.Error(t, err)
				assert.Nil(t, res)
				assert.Equal(t, tc.code, apperrors.GetCode(err))
				assert.True(t, errors.Is(err, tc.want), err.Error())
			})
		}
	}
}

func TestPipelineFitErrorNamesVariable(t *testing.T) {
	// Readings confined to the alpha axis leave the cross terms without support.
	var b probe.Batch
	for k := 1; k <= 30; k++ {
		x := 0.1 * float64(k)
		b.Samples = append(b.Samples, probe.Sample{
			Alpha:    10 * x,
			Channels: probe.Channels{Down: x / 2, Up: -x / 2, Center: 0.6 + 0.01*x*x, Static: -0.4},
		})
	}
	_, err := testPipeline(func(c *PipelineConfig) { c.Parallel = false }).Run(context.Background(), b)
	var fe *core.FitError
	require.True(t, errors.As(err, &fe), "%v", err)
	assert.Equal(t, "alpha", fe.Variable)
	assert.Equal(t, "odd_x_even_y", fe.Basis)
	assert.Contains(t, fe.Reason, "no support")
}

func TestPipelineHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testPipeline(nil).Run(ctx, testkit.NewProbeGenerator(testkit.DefaultProbeConfig()).Generate())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrainingSetKeepsOrder(t *testing.T) {
	folded := []probe.RatioSample{
		{Alpha: 1, Beta: 2, DpaOverDp0: 0.1, DpbOverDp0: 0.2, QOverDp0: 1.1, MinusSOverDp0: 0.4},
		{Alpha: 3, Beta: 4, DpaOverDp0: 0.3, DpbOverDp0: 0.4, QOverDp0: 1.2, MinusSOverDp0: 0.5},
	}
	set := TrainingSet(folded, calibration.MinusSOverDp0)
	require.Len(t, set, 2)
	assert.Equal(t, 0.3, set[1].X)
	assert.Equal(t, 0.4, set[1].Y)
	assert.Equal(t, 0.5, set[1].Z)
	assert.False(t, math.IsNaN(TrainingSet(folded, calibration.Beta)[0].Z))
}

func TestPipelineManifestRecordsRun(t *testing.T) {
	p := testPipeline(nil)
	res, err := p.Run(context.Background(), testkit.NewProbeGenerator(testkit.DefaultProbeConfig()).Generate())
	require.NoError(t, err)

	inputs := []run.Input{{Path: "synthetic.csv", Hash: core.NewHash([]byte("synthetic"))}}
	m := p.Manifest(res, inputs, "c", "test")
	require.NoError(t, m.Validate())
	assert.Equal(t, res.RunID, m.RunID)
	assert.Equal(t, res.Table.Fingerprint(), m.TableFingerprint)
	assert.Equal(t, res.Samples, m.Samples)
	assert.Equal(t, res.Restricted, m.Restricted)
	assert.Equal(t, p.Config().Grid, m.Settings.Grid)
	assert.Equal(t, "c", m.Settings.Format)

	again := testPipeline(nil).Manifest(res, inputs, "c", "test")
	assert.Equal(t, m.Fingerprint, again.Fingerprint)
}
