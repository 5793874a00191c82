package ports

import (
	"context"

	"probecal/domain/calibration"
)

// ReferenceOracle is the consumer under verification: it turns a raw probe
// reading into air data the way the flight firmware does. A failed lookup
// returns the zero AirData together with an error.
type ReferenceOracle interface {
	AirData(ctx context.Context, r calibration.Reading) (calibration.AirData, error)
}

// OracleFunc adapts a plain function to ReferenceOracle
type OracleFunc func(ctx context.Context, r calibration.Reading) (calibration.AirData, error)

func (f OracleFunc) AirData(ctx context.Context, r calibration.Reading) (calibration.AirData, error) {
	return f(ctx, r)
}
