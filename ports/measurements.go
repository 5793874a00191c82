package ports

import (
	"context"

	"probecal/domain/probe"
)

// MeasurementSource loads one labelled batch of tunnel measurements
type MeasurementSource interface {
	Load(ctx context.Context, path string) (probe.Batch, error)
}
