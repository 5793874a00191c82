package run

import (
	"errors"
	"fmt"
	"time"

	"probecal/domain/core"
)

// ErrIncompleteManifest marks a manifest missing a required field
var ErrIncompleteManifest = errors.New("incomplete run manifest")

// Manifest is written beside every published table. Two manifests with the
// same Fingerprint must carry the same TableFingerprint.
type Manifest struct {
	RunID            core.RunID     `json:"run_id"`
	Inputs           []Input        `json:"inputs"`
	Settings         Settings       `json:"settings"`
	Fingerprint      RunFingerprint `json:"fingerprint"`
	TableFingerprint core.Hash      `json:"table_fingerprint"`
	Samples          int            `json:"samples"`
	Restricted       int            `json:"restricted"`
	Dropped          int            `json:"dropped"`
	CreatedAt        time.Time      `json:"created_at"`
}

// NewManifest creates a run manifest for a published table
func NewManifest(runID core.RunID, inputs []Input, settings Settings, codeVersion string, table core.Hash) *Manifest {
	return &Manifest{
		RunID:            runID,
		Inputs:           inputs,
		Settings:         settings,
		Fingerprint:      NewRunFingerprint(inputs, settings, codeVersion),
		TableFingerprint: table,
		CreatedAt:        time.Now().UTC(),
	}
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if _, err := core.ParseRunID(m.RunID.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteManifest, err)
	}
	if len(m.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrIncompleteManifest)
	}
	for i, in := range m.Inputs {
		if in.Hash.IsEmpty() {
			return fmt.Errorf("%w: input %d (%s) has no hash", ErrIncompleteManifest, i, in.Path)
		}
	}
	if m.TableFingerprint.IsEmpty() {
		return fmt.Errorf("%w: table_fingerprint is empty", ErrIncompleteManifest)
	}
	if m.Fingerprint.Fingerprint.IsEmpty() {
		return fmt.Errorf("%w: fingerprint not computed", ErrIncompleteManifest)
	}
	return nil
}
