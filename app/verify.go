package app

import (
	"context"
	"fmt"

	"probecal/domain/calibration"
	"probecal/domain/probe"
	"probecal/internal"
	"probecal/internal/errors"
	"probecal/internal/fit"
	"probecal/ports"
)

// VerificationPoint pairs one reading with the consumer output and the
// reference it is judged against. Index is the reading's row in the batch.
type VerificationPoint struct {
	Index     int                 `json:"index"`
	Reading   calibration.Reading `json:"reading"`
	Reference calibration.AirData `json:"reference"`
	Got       calibration.AirData `json:"got"`
	Failed    bool                `json:"failed"`
}

// VerificationReport summarizes consumer error per output quantity. Residuals
// are consumer minus reference over the points that did not fail.
type VerificationReport struct {
	Label      string              `json:"label"`
	Samples    int                 `json:"samples"`
	Degenerate int                 `json:"degenerate"`
	Failures   int                 `json:"failures"`
	Alpha      fit.Diagnostics     `json:"alpha"`
	Beta       fit.Diagnostics     `json:"beta"`
	Q          fit.Diagnostics     `json:"q"`
	P          fit.Diagnostics     `json:"p"`
	Points     []VerificationPoint `json:"points,omitempty"`
}

// Verifier replays measurements through a reference consumer
type Verifier struct {
	noiseFloor float64
	keepPoints bool
	logger     *internal.Logger
}

// NewVerifier creates a verifier. Readings with |dp0| below noiseFloor are
// skipped; keepPoints retains every evaluated point in the report.
func NewVerifier(noiseFloor float64, keepPoints bool, logger *internal.Logger) *Verifier {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Verifier{noiseFloor: noiseFloor, keepPoints: keepPoints, logger: logger.With("verify")}
}

// Reference is what a perfect consumer returns for p at baro 0: the commanded
// angles, q = 1 because channels are coefficients of tunnel q, and p = -s.
func Reference(p probe.Pressures) calibration.AirData {
	return calibration.AirData{Alpha: p.Alpha, Beta: p.Beta, Q: 1, P: p.MinusS}
}

// keptRows maps positions after FilterDegenerate back to batch rows.
func keptRows(n int, dropped []int) []int {
	rows := make([]int, 0, n-len(dropped))
	d := 0
	for i := 0; i < n; i++ {
		if d < len(dropped) && dropped[d] == i {
			d++
			continue
		}
		rows = append(rows, i)
	}
	return rows
}

// Verify evaluates every non-degenerate reading. Consumer failures are
// counted, not fatal; cancellation of ctx aborts.
func (v *Verifier) Verify(ctx context.Context, batch probe.Batch, oracle ports.ReferenceOracle) (*VerificationReport, error) {
	report := &VerificationReport{Label: batch.Label}
	pressures, dropped := probe.FilterDegenerate(probe.Derive(batch), v.noiseFloor)
	report.Degenerate = len(dropped)
	rows := keptRows(batch.Len(), dropped)

	var ra, rb, rq, rp []float64
	for i, p := range pressures {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reading := p.Reading(0)
		ref := Reference(p)
		got, err := oracle.AirData(ctx, reading)
		point := VerificationPoint{Index: rows[i], Reading: reading, Reference: ref, Got: got}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			v.logger.Debug("reading %d (%+v): %v", rows[i], reading, err)
			report.Failures++
			point.Failed = true
		} else {
			ra = append(ra, got.Alpha-ref.Alpha)
			rb = append(rb, got.Beta-ref.Beta)
			rq = append(rq, got.Q-ref.Q)
			rp = append(rp, got.P-ref.P)
		}
		if v.keepPoints {
			report.Points = append(report.Points, point)
		}
	}
	report.Samples = len(pressures)

	if len(ra) == 0 {
		return report, errors.WithCode(errors.CodeVerification,
			fmt.Errorf("no reading of %d produced air data", report.Samples))
	}
	var err error
	for _, d := range []struct {
		dst       *fit.Diagnostics
		residuals []float64
	}{{&report.Alpha, ra}, {&report.Beta, rb}, {&report.Q, rq}, {&report.P, rp}} {
		if *d.dst, err = fit.Diagnose(d.residuals); err != nil {
			return nil, errors.WithCode(errors.CodeVerification, err)
		}
	}

	if report.Failures > 0 {
		v.logger.Warn("%d of %d readings failed in the consumer", report.Failures, report.Samples)
	}
	v.logger.Info("verified %d readings: alpha rms %.3g, beta rms %.3g, q rms %.3g, p rms %.3g",
		report.Samples, report.Alpha.RMS, report.Beta.RMS, report.Q.RMS, report.P.RMS)
	return report, nil
}
