package artifact

import (
	"encoding/json"
	"fmt"
	"io"

	"probecal/domain/calibration"
	"probecal/domain/core"
)

type jsonSurface struct {
	Variable string           `json:"variable"`
	Comment  string           `json:"comment"`
	X        calibration.Axis `json:"x"`
	Y        calibration.Axis `json:"y"`
	Data     []float64        `json:"data"`
}

type jsonTable struct {
	Prefix      string        `json:"prefix"`
	Fingerprint core.Hash     `json:"fingerprint"`
	Surfaces    []jsonSurface `json:"surfaces"`
}

// JSONCodec writes the same content as the C header as an indented JSON
// document. encoding/json emits the shortest round-trip form of each float.
type JSONCodec struct{}

func (JSONCodec) Name() string      { return "json" }
func (JSONCodec) Extension() string { return ".json" }

func (JSONCodec) Encode(w io.Writer, t *calibration.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	doc := jsonTable{Prefix: t.Prefix, Fingerprint: t.Fingerprint()}
	for _, s := range t.Surfaces {
		doc.Surfaces = append(doc.Surfaces, jsonSurface{
			Variable: s.Variable.String(),
			Comment:  s.Comment,
			X:        s.X,
			Y:        s.Y,
			Data:     s.Data,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (JSONCodec) Decode(r io.Reader) (*calibration.Table, error) {
	var doc jsonTable
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidTable, err)
	}
	t := &calibration.Table{Prefix: doc.Prefix}
	for _, s := range doc.Surfaces {
		v, err := calibration.ParseVariable(s.Variable)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidTable, err)
		}
		t.Surfaces = append(t.Surfaces, calibration.Surface{
			Variable: v,
			Comment:  s.Comment,
			X:        s.X,
			Y:        s.Y,
			Data:     s.Data,
		})
	}
	return checkTable(t, doc.Fingerprint)
}
