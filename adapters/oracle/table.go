// Package oracle provides reference consumers of a calibration table: the
// in-process firmware lookup and a wrapper around an external test binary.
package oracle

import (
	"context"

	"probecal/domain/calibration"
	"probecal/ports"
)

// TableOracle evaluates readings against an in-memory table with the same
// bilinear lookup the firmware performs.
type TableOracle struct {
	table *calibration.Table
}

// NewTableOracle validates t and wraps it
func NewTableOracle(t *calibration.Table) (*TableOracle, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &TableOracle{table: t}, nil
}

// Table returns the wrapped table
func (o *TableOracle) Table() *calibration.Table { return o.table }

func (o *TableOracle) AirData(ctx context.Context, r calibration.Reading) (calibration.AirData, error) {
	if err := ctx.Err(); err != nil {
		return calibration.AirData{}, err
	}
	return calibration.PressuresToAirData(o.table, r)
}

var _ ports.ReferenceOracle = (*TableOracle)(nil)
