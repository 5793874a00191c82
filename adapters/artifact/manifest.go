package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"probecal/domain/core"
	"probecal/domain/run"
)

// ManifestPath is where the manifest of the table at path is kept
func ManifestPath(tablePath string) string {
	return tablePath + ".manifest.json"
}

// HashInputs fingerprints measurement files by content, in order
func HashInputs(paths []string) ([]run.Input, error) {
	out := make([]run.Input, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("hash input %s: %w", p, err)
		}
		h := sha256.New()
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("hash input %s: %w", p, err)
		}
		out = append(out, run.Input{Path: p, Hash: core.Hash(hex.EncodeToString(h.Sum(nil)))})
	}
	return out, nil
}

// WriteManifest validates m and publishes it atomically as indented JSON
func WriteManifest(path string, m *run.Manifest) error {
	if err := m.Validate(); err != nil {
		return core.NewSerializationError(path, err)
	}
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
}

// ReadManifest loads and validates a manifest
func ReadManifest(path string) (*run.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewSerializationError(path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m run.Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, core.NewSerializationError(path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, core.NewSerializationError(path, err)
	}
	return &m, nil
}
