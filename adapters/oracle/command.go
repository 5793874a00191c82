package oracle

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"probecal/domain/calibration"
	"probecal/domain/core"
	"probecal/ports"
)

const defaultCommandTimeout = 10 * time.Second

// CommandOracle runs a firmware test binary once per reading as
// `prog dp0 dpa dpb baro` and parses "alpha,beta,q,p" from its first output
// line. A non-zero exit is a consumer failure reported with the zero AirData.
type CommandOracle struct {
	program string
	args    []string
	timeout time.Duration
}

// NewCommandOracle parses command as a program followed by fixed leading arguments
func NewCommandOracle(command string) (*CommandOracle, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("oracle command is empty")
	}
	return &CommandOracle{program: fields[0], args: fields[1:], timeout: defaultCommandTimeout}, nil
}

// WithTimeout bounds each invocation
func (o *CommandOracle) WithTimeout(d time.Duration) *CommandOracle {
	c := *o
	c.timeout = d
	return &c
}

func formatArg(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (o *CommandOracle) AirData(ctx context.Context, r calibration.Reading) (calibration.AirData, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	args := append(append([]string{}, o.args...),
		formatArg(r.Dp0), formatArg(r.Dpa), formatArg(r.Dpb), formatArg(r.Baro))
	cmd := exec.CommandContext(ctx, o.program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return calibration.AirData{}, fmt.Errorf("%w: %s: %w", core.ErrConsumerFailure, o.program, ctxErr)
		}
		return calibration.AirData{}, fmt.Errorf("%w: %s: %v %s", core.ErrConsumerFailure, o.program, err, strings.TrimSpace(stderr.String()))
	}
	return ParseAirData(stdout.String())
}

// ParseAirData reads the first line of consumer output as alpha,beta,q,p
func ParseAirData(out string) (calibration.AirData, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 4 {
		return calibration.AirData{}, fmt.Errorf("%w: expected 4 fields, got %q", core.ErrConsumerFailure, line)
	}
	var v [4]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return calibration.AirData{}, fmt.Errorf("%w: field %d: %q", core.ErrConsumerFailure, i, f)
		}
		v[i] = x
	}
	return calibration.AirData{Alpha: v[0], Beta: v[1], Q: v[2], P: v[3]}, nil
}

var _ ports.ReferenceOracle = (*CommandOracle)(nil)
