package calibration

import (
	"fmt"
	"math"

	"probecal/domain/core"
)

// Axis maps a grid index to a physical ratio: ZeroOffset + index*Step.
type Axis struct {
	Size       int     `json:"size"`
	Step       float64 `json:"step"`
	ZeroOffset float64 `json:"zero_offset"`
}

// Coordinate returns the ratio value of node i.
func (a Axis) Coordinate(i int) float64 {
	return a.ZeroOffset + float64(i)*a.Step
}

// Max returns the coordinate of the last node.
func (a Axis) Max() float64 {
	return a.Coordinate(a.Size - 1)
}

// GridSpec describes the uniform sampling grid over (dpa/dp0, dpb/dp0).
type GridSpec struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
	Step float64 `json:"step"`
}

// DefaultGridSpec is the operating envelope used for the flight probe.
func DefaultGridSpec() GridSpec {
	return GridSpec{XMin: 0, XMax: 3.0, YMin: 0, YMax: 2.5, Step: 0.1}
}

// Validate rejects empty or inverted ranges and non-positive steps.
func (g GridSpec) Validate() error {
	for _, v := range []float64{g.XMin, g.XMax, g.YMin, g.YMax, g.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bound", core.ErrInvalidGrid)
		}
	}
	if g.Step <= 0 {
		return fmt.Errorf("%w: step %g must be positive", core.ErrInvalidGrid, g.Step)
	}
	if g.XMax <= g.XMin {
		return fmt.Errorf("%w: x range [%g, %g] is empty", core.ErrInvalidGrid, g.XMin, g.XMax)
	}
	if g.YMax <= g.YMin {
		return fmt.Errorf("%w: y range [%g, %g] is empty", core.ErrInvalidGrid, g.YMin, g.YMax)
	}
	return nil
}

// Axes derives the x and y axis descriptors, n = round((max-min)/step)+1.
func (g GridSpec) Axes() (Axis, Axis, error) {
	if err := g.Validate(); err != nil {
		return Axis{}, Axis{}, err
	}
	x := Axis{
		Size:       int(math.Round((g.XMax-g.XMin)/g.Step)) + 1,
		Step:       g.Step,
		ZeroOffset: g.XMin,
	}
	y := Axis{
		Size:       int(math.Round((g.YMax-g.YMin)/g.Step)) + 1,
		Step:       g.Step,
		ZeroOffset: g.YMin,
	}
	return x, y, nil
}

// Evaluator is a continuous response surface over (dpa/dp0, dpb/dp0).
type Evaluator interface {
	Eval(x, y float64) float64
}

// EvaluatorFunc adapts a plain function to Evaluator.
type EvaluatorFunc func(x, y float64) float64

func (f EvaluatorFunc) Eval(x, y float64) float64 { return f(x, y) }

// Sample evaluates every model on every grid node. Data is x-major:
// node (i, j) lands at Data[i*ny+j]. Nodes outside the trained region are
// plain extrapolations and are not flagged.
func Sample(spec GridSpec, models map[Variable]Evaluator, prefix string) (*Table, error) {
	xAxis, yAxis, err := spec.Axes()
	if err != nil {
		return nil, err
	}
	for _, v := range Variables {
		if models[v] == nil {
			return nil, fmt.Errorf("%w: %s", core.ErrMissingVariable, v)
		}
	}

	table := &Table{Prefix: prefix}
	for _, v := range Variables {
		model := models[v]
		data := make([]float64, 0, xAxis.Size*yAxis.Size)
		for i := 0; i < xAxis.Size; i++ {
			x := xAxis.Coordinate(i)
			for j := 0; j < yAxis.Size; j++ {
				data = append(data, model.Eval(x, yAxis.Coordinate(j)))
			}
		}
		table.Surfaces = append(table.Surfaces, Surface{
			Variable: v,
			Comment:  v.Comment(),
			X:        xAxis,
			Y:        yAxis,
			Data:     data,
		})
	}
	return table, nil
}
