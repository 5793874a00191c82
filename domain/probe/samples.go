// Package probe holds the measurement records of a 5-hole probe with a static
// port, the derived pressures and ratios, and the symmetry folding applied
// before fitting.
package probe

import (
	"fmt"
	"sort"

	"probecal/domain/core"
)

// Channel names of the ingestion contract.
const (
	ChannelAlpha  = "alpha"
	ChannelBeta   = "beta"
	ChannelDown   = "d"
	ChannelUp     = "u"
	ChannelRight  = "r"
	ChannelLeft   = "l"
	ChannelCenter = "c"
	ChannelStatic = "s"
)

// ChannelNames is the exact column set a measurement batch must carry.
var ChannelNames = []string{
	ChannelAlpha, ChannelBeta,
	ChannelDown, ChannelUp, ChannelRight, ChannelLeft, ChannelCenter, ChannelStatic,
}

// Channels are pressure coefficients normalized to tunnel q.
type Channels struct {
	Down   float64 `json:"d"`
	Up     float64 `json:"u"`
	Right  float64 `json:"r"`
	Left   float64 `json:"l"`
	Center float64 `json:"c"`
	Static float64 `json:"s"`
}

func (c Channels) values() [6]float64 {
	return [6]float64{c.Down, c.Up, c.Right, c.Left, c.Center, c.Static}
}

func channelsFrom(v [6]float64) Channels {
	return Channels{Down: v[0], Up: v[1], Right: v[2], Left: v[3], Center: v[4], Static: v[5]}
}

// Sample is one reading (or one averaged commanded pair) in degrees.
type Sample struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Channels
}

// Batch is an ordered set of samples from one sweep or a combination of sweeps.
type Batch struct {
	Label   string
	Samples []Sample
}

// Len returns the number of samples.
func (b Batch) Len() int { return len(b.Samples) }

// Restrict keeps the samples whose commanded angles satisfy keep.
func (b Batch) Restrict(keep func(alpha, beta float64) bool) Batch {
	out := Batch{Label: b.Label + ".restrict"}
	for _, s := range b.Samples {
		if keep(s.Alpha, s.Beta) {
			out.Samples = append(out.Samples, s)
		}
	}
	return out
}

// FiniteAngles keeps samples whose commanded angles are both finite.
func FiniteAngles(alpha, beta float64) bool {
	return finite(alpha, beta)
}

// BetaWithin is the restriction used for the flight probe sweeps.
func BetaWithin(limit float64) func(alpha, beta float64) bool {
	return func(_, beta float64) bool {
		return beta <= limit && beta >= -limit
	}
}

// Columns is the ingestion boundary form: channel name to values, with
// index i across all channels describing one sample.
type Columns struct {
	Label string
	Data  map[string][]float64
}

// Validate requires exactly ChannelNames with equal lengths.
func (c Columns) Validate() error {
	for _, name := range ChannelNames {
		if _, ok := c.Data[name]; !ok {
			return core.NewSchemaError(c.Label, fmt.Sprintf("missing channel %q", name))
		}
	}
	if len(c.Data) != len(ChannelNames) {
		return core.NewSchemaError(c.Label, fmt.Sprintf("unexpected channels %v", c.extraChannels()))
	}
	n := len(c.Data[ChannelAlpha])
	for _, name := range ChannelNames {
		if got := len(c.Data[name]); got != n {
			return core.NewLengthError(name, got, n)
		}
	}
	return nil
}

func (c Columns) extraChannels() []string {
	known := make(map[string]bool, len(ChannelNames))
	for _, name := range ChannelNames {
		known[name] = true
	}
	var extra []string
	for name := range c.Data {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return extra
}

// Combine appends other after c. Both sides must satisfy the schema.
func (c Columns) Combine(other Columns) (Columns, error) {
	if err := c.Validate(); err != nil {
		return Columns{}, err
	}
	if err := other.Validate(); err != nil {
		return Columns{}, err
	}
	out := Columns{Label: c.Label + "+" + other.Label, Data: make(map[string][]float64, len(ChannelNames))}
	for _, name := range ChannelNames {
		merged := make([]float64, 0, len(c.Data[name])+len(other.Data[name]))
		merged = append(merged, c.Data[name]...)
		out.Data[name] = append(merged, other.Data[name]...)
	}
	return out, nil
}

// Batch converts validated columns into typed samples.
func (c Columns) Batch() (Batch, error) {
	if err := c.Validate(); err != nil {
		return Batch{}, err
	}
	n := len(c.Data[ChannelAlpha])
	b := Batch{Label: c.Label, Samples: make([]Sample, n)}
	for i := 0; i < n; i++ {
		b.Samples[i] = Sample{
			Alpha: c.Data[ChannelAlpha][i],
			Beta:  c.Data[ChannelBeta][i],
			Channels: Channels{
				Down:   c.Data[ChannelDown][i],
				Up:     c.Data[ChannelUp][i],
				Right:  c.Data[ChannelRight][i],
				Left:   c.Data[ChannelLeft][i],
				Center: c.Data[ChannelCenter][i],
				Static: c.Data[ChannelStatic][i],
			},
		}
	}
	return b, nil
}
