package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"probecal/domain/calibration"
	"probecal/domain/core"
	"probecal/domain/probe"
	"probecal/domain/run"
	"probecal/internal"
	"probecal/internal/config"
	"probecal/internal/errors"
	"probecal/internal/fit"
)

// Bases maps each response variable to the basis family that encodes its symmetry
var Bases = map[calibration.Variable]fit.Basis{
	calibration.Alpha:         fit.OddXEvenY,
	calibration.Beta:          fit.EvenXOddY,
	calibration.QOverDp0:      fit.EvenXEvenY,
	calibration.MinusSOverDp0: fit.EvenXEvenY,
}

// PipelineConfig is the immutable configuration of a calibration run
type PipelineConfig struct {
	Grid   calibration.GridSpec
	Prefix string
	// BetaLimit drops samples with |beta| above it; zero keeps everything.
	BetaLimit     float64
	Aggregate     bool
	NoiseFloor    float64
	MaxIterations int
	Tolerance     float64
	Parallel      bool
}

// DefaultPipelineConfig mirrors config.Default
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfigFrom(config.Default())
}

// PipelineConfigFrom extracts the run settings from the application config
func PipelineConfigFrom(cfg *config.Config) PipelineConfig {
	return PipelineConfig{
		Grid:          cfg.GridSpec(),
		Prefix:        cfg.Output.FilePrefix,
		BetaLimit:     cfg.Data.BetaLimit,
		Aggregate:     cfg.Data.Aggregate,
		NoiseFloor:    cfg.Data.NoiseFloor,
		MaxIterations: cfg.Fit.MaxIterations,
		Tolerance:     cfg.Fit.Tolerance,
		Parallel:      cfg.Fit.Parallel,
	}
}

// Settings returns the determinism-relevant settings recorded in a run
// manifest for a table written in format.
func (c PipelineConfig) Settings(format string) run.Settings {
	return run.Settings{
		Grid:          c.Grid,
		Prefix:        c.Prefix,
		Format:        format,
		BetaLimit:     c.BetaLimit,
		Aggregate:     c.Aggregate,
		NoiseFloor:    c.NoiseFloor,
		MaxIterations: c.MaxIterations,
		Tolerance:     c.Tolerance,
	}
}

// Manifest records the inputs and settings behind res.Table
func (p *Pipeline) Manifest(res *RunResult, inputs []run.Input, format, codeVersion string) *run.Manifest {
	m := run.NewManifest(res.RunID, inputs, p.config.Settings(format), codeVersion, res.Table.Fingerprint())
	m.Samples = res.Samples
	m.Restricted = res.Restricted
	m.Dropped = len(res.Dropped)
	return m
}

// RunResult is the output of one calibration run
type RunResult struct {
	RunID core.RunID
	Label string
	Table *calibration.Table
	Fits  map[calibration.Variable]*fit.Result
	// Samples counts the readings that reached the fitter.
	Samples int
	// Restricted counts readings removed by the beta limit.
	Restricted int
	// Dropped holds indices (into the working batch) of degenerate readings.
	Dropped   []int
	Sigma     *probe.Batch
	Asymmetry []probe.Asymmetry
	Folded    []probe.RatioSample
	RuntimeMs int64
}

// Pipeline turns a measurement batch into a calibration table. It holds no
// state across runs.
type Pipeline struct {
	config PipelineConfig
	logger *internal.Logger
}

// NewPipeline creates a pipeline
func NewPipeline(cfg PipelineConfig, logger *internal.Logger) *Pipeline {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Pipeline{config: cfg, logger: logger.With("pipeline")}
}

// Config returns the run settings
func (p *Pipeline) Config() PipelineConfig { return p.config }

// Run executes restrict, aggregate, derive, filter, fold, fit and sample.
// Any stage failure aborts the run; nothing is partially produced.
func (p *Pipeline) Run(ctx context.Context, batch probe.Batch) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: core.NewRunID(), Label: batch.Label}
	p.logger.Info("run %s: %d readings from %q", result.RunID, batch.Len(), batch.Label)

	working, err := p.prepare(batch, result)
	if err != nil {
		return nil, err
	}

	folded, err := p.normalize(working, result)
	if err != nil {
		return nil, err
	}
	result.Folded = folded

	fits, err := p.FitAll(ctx, folded)
	if err != nil {
		return nil, err
	}
	result.Fits = fits

	models := make(map[calibration.Variable]calibration.Evaluator, len(fits))
	for v, r := range fits {
		models[v] = r.Model
	}
	table, err := calibration.Sample(p.config.Grid, models, p.config.Prefix)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if err := table.Validate(); err != nil {
		return nil, errors.Wrap(err, "sampled table is not publishable")
	}
	result.Table = table

	result.RuntimeMs = time.Since(start).Milliseconds()
	p.logger.Info("run %s: table %s sampled on %dx%d grid in %dms",
		result.RunID, table.Fingerprint().Short(), table.Surfaces[0].X.Size, table.Surfaces[0].Y.Size, result.RuntimeMs)
	return result, nil
}

// prepare applies the beta restriction and optional aggregation. Readings with
// non-finite angles pass through to the degenerate filter unless aggregated.
func (p *Pipeline) prepare(batch probe.Batch, result *RunResult) (probe.Batch, error) {
	if batch.Len() == 0 {
		return probe.Batch{}, errors.WithCode(errors.CodeIngestion, core.NewSchemaError(batch.Label, "batch is empty"))
	}

	working := batch
	if p.config.BetaLimit > 0 {
		working = batch.Restrict(probe.BetaWithin(p.config.BetaLimit))
		result.Restricted = batch.Len() - working.Len()
		if result.Restricted > 0 {
			p.logger.Info("beta limit %g removed %d readings", p.config.BetaLimit, result.Restricted)
		}
	}

	if p.config.Aggregate {
		if skipped := working.Len() - working.Restrict(probe.FiniteAngles).Len(); skipped > 0 {
			p.logger.Warn("%d readings with non-finite commanded angles left out of aggregation", skipped)
		}
		mean, sigma, err := probe.Aggregate(working)
		if err != nil {
			return probe.Batch{}, errors.WithCode(errors.CodeIngestion, err)
		}
		p.logger.Debug("aggregated %d readings into %d commanded pairs", working.Len(), mean.Len())
		working = mean
		result.Sigma = &sigma
	}

	asym, err := probe.AsymmetryOf(working)
	if err != nil {
		return probe.Batch{}, errors.WithCode(errors.CodeIngestion, err)
	}
	result.Asymmetry = asym
	return working, nil
}

// normalize derives pressures, drops degenerate readings and folds the ratios.
func (p *Pipeline) normalize(working probe.Batch, result *RunResult) ([]probe.RatioSample, error) {
	pressures, dropped := probe.FilterDegenerate(probe.Derive(working), p.config.NoiseFloor)
	result.Dropped = dropped
	if len(dropped) > 0 {
		p.logger.Warn("dropped %d degenerate readings (|dp0| < %g)", len(dropped), p.config.NoiseFloor)
	}
	if len(pressures) == 0 {
		return nil, errors.WithCode(errors.CodeIngestion,
			fmt.Errorf("%w: all %d readings dropped", core.ErrDegenerateSample, working.Len()))
	}

	ratios, err := probe.Ratios(pressures)
	if err != nil {
		return nil, errors.WithCode(errors.CodeIngestion, err)
	}
	result.Samples = len(ratios)
	return probe.Fold(ratios), nil
}

// TrainingSet projects folded samples onto (dpa/dp0, dpb/dp0) -> v, in order.
func TrainingSet(folded []probe.RatioSample, v calibration.Variable) []fit.Triple {
	out := make([]fit.Triple, len(folded))
	for i, s := range folded {
		out[i] = fit.Triple{X: s.DpaOverDp0, Y: s.DpbOverDp0, Z: s.Response(v)}
	}
	return out
}

// FitAll fits the four response surfaces, concurrently when configured. The
// first failure cancels the rest and is returned.
func (p *Pipeline) FitAll(ctx context.Context, folded []probe.RatioSample) (map[calibration.Variable]*fit.Result, error) {
	results := make([]*fit.Result, len(calibration.Variables))

	fitOne := func(i int, v calibration.Variable) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		basis := Bases[v]
		res, err := fit.Fit(basis, TrainingSet(folded, v), fit.Options{
			Label:         v.String(),
			MaxIterations: p.config.MaxIterations,
			Tolerance:     p.config.Tolerance,
		})
		if err != nil {
			p.logger.Error("fit %s failed: %v", v, err)
			return errors.WithCode(errors.CodeFitInstability, err)
		}
		p.logger.Info("fit %s (%s): %d iterations, rms %.4g, max |r| %.4g",
			v, basis.Name(), res.Iterations, res.Diagnostics.RMS, res.Diagnostics.MaxAbs)
		results[i] = res
		return nil
	}

	if p.config.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, v := range calibration.Variables {
			i, v := i, v
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return fitOne(i, v)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, v := range calibration.Variables {
			if err := fitOne(i, v); err != nil {
				return nil, err
			}
		}
	}

	out := make(map[calibration.Variable]*fit.Result, len(results))
	for i, v := range calibration.Variables {
		if results[i] == nil {
			return nil, fmt.Errorf("fit %s produced no result", v)
		}
		out[v] = results[i]
	}
	return out, nil
}
