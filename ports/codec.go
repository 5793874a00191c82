package ports

import (
	"io"

	"probecal/domain/calibration"
)

// TableCodec renders a calibration table to an artifact format and back.
// Codecs must not transform values: Decode(Encode(t)) reproduces t exactly.
type TableCodec interface {
	Name() string
	Extension() string
	Encode(w io.Writer, t *calibration.Table) error
	Decode(r io.Reader) (*calibration.Table, error)
}

// TableStore persists tables at a path
type TableStore interface {
	Write(path string, t *calibration.Table) error
	Read(path string) (*calibration.Table, error)
}
