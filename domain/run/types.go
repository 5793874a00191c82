// Package run records what went into a calibration run so a table can be
// traced back to its measurements and replayed.
package run

import (
	"fmt"
	"strings"

	"probecal/domain/calibration"
	"probecal/domain/core"
)

// Input identifies one measurement file by content
type Input struct {
	Path string    `json:"path"`
	Hash core.Hash `json:"sha256"`
}

// Settings is the part of the configuration that changes the fitted table
type Settings struct {
	Grid          calibration.GridSpec `json:"grid"`
	Prefix        string               `json:"prefix"`
	Format        string               `json:"format"`
	BetaLimit     float64              `json:"beta_limit"`
	Aggregate     bool                 `json:"aggregate"`
	NoiseFloor    float64              `json:"noise_floor"`
	MaxIterations int                  `json:"max_iterations"`
	Tolerance     float64              `json:"tolerance"`
}

func (s Settings) canonical() string {
	f := calibration.FormatFloat
	return fmt.Sprintf("grid:%s,%s,%s,%s,%s|prefix:%s|format:%s|beta:%s|agg:%t|floor:%s|iter:%d|tol:%s",
		f(s.Grid.XMin), f(s.Grid.XMax), f(s.Grid.YMin), f(s.Grid.YMax), f(s.Grid.Step),
		s.Prefix, s.Format, f(s.BetaLimit), s.Aggregate, f(s.NoiseFloor), s.MaxIterations, f(s.Tolerance))
}

// RunFingerprint ensures deterministic replay
type RunFingerprint struct {
	InputsHash   core.Hash `json:"inputs_hash"`
	SettingsHash core.Hash `json:"settings_hash"`
	CodeVersion  string    `json:"code_version"`
	Fingerprint  core.Hash `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint hashes input contents (in order, paths excluded), the
// settings and the code version.
func NewRunFingerprint(inputs []Input, settings Settings, codeVersion string) RunFingerprint {
	hashes := make([]string, len(inputs))
	for i, in := range inputs {
		hashes[i] = in.Hash.String()
	}
	inputsHash := core.NewHash([]byte(strings.Join(hashes, ",")))
	settingsHash := core.NewHash([]byte(settings.canonical()))

	data := fmt.Sprintf("inputs:%s|settings:%s|code:%s", inputsHash, settingsHash, codeVersion)
	return RunFingerprint{
		InputsHash:   inputsHash,
		SettingsHash: settingsHash,
		CodeVersion:  codeVersion,
		Fingerprint:  core.NewHash([]byte(data)),
	}
}
