package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"probecal/domain/calibration"
	"probecal/domain/core"
	"probecal/internal"
	"probecal/ports"
)

// ForFormat returns the codec registered under name ("c" or "json")
func ForFormat(name string) (ports.TableCodec, error) {
	switch strings.ToLower(name) {
	case "c", "h", "header":
		return CHeaderCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown artifact format %q", name)
	}
}

// ForPath picks the codec from a file extension, defaulting to the C header
func ForPath(path string) ports.TableCodec {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSONCodec{}
	}
	return CHeaderCodec{}
}

// FileStore writes tables atomically: the artifact is encoded into a temp
// file beside the destination, synced and renamed over the canonical path.
type FileStore struct {
	codec  ports.TableCodec
	logger *internal.Logger
}

// NewFileStore creates a store using codec for both directions
func NewFileStore(codec ports.TableCodec, logger *internal.Logger) *FileStore {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &FileStore{codec: codec, logger: logger.With("artifact")}
}

// Write publishes t at path. On any failure the temp file is removed and
// the canonical path is left untouched.
func (s *FileStore) Write(path string, t *calibration.Table) error {
	if err := writeAtomic(path, func(w io.Writer) error { return s.codec.Encode(w, t) }); err != nil {
		return err
	}
	s.logger.Info("wrote %s table %s (fingerprint %s)", s.codec.Name(), path, t.Fingerprint().Short())
	return nil
}

// writeAtomic encodes into a temp file in the destination directory and
// renames it over path once synced.
func writeAtomic(path string, encode func(io.Writer) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return core.NewSerializationError(path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = encode(tmp); err != nil {
		return core.NewSerializationError(path, err)
	}
	if err = tmp.Sync(); err != nil {
		return core.NewSerializationError(path, err)
	}
	if err = tmp.Close(); err != nil {
		return core.NewSerializationError(path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return core.NewSerializationError(path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return core.NewSerializationError(path, err)
	}
	return nil
}

// Read decodes the artifact at path, verifying its fingerprint
func (s *FileStore) Read(path string) (*calibration.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.NewSerializationError(path, err)
	}
	defer f.Close()

	t, err := s.codec.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.logger.Debug("read %s table %s (fingerprint %s)", s.codec.Name(), path, t.Fingerprint().Short())
	return t, nil
}

var _ ports.TableStore = (*FileStore)(nil)
