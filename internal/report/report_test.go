package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probecal/app"
	"probecal/domain/calibration"
	"probecal/domain/core"
	apperrors "probecal/internal/errors"
	"probecal/internal/fit"
	"probecal/internal/testkit"
)

func testRun(t *testing.T) *app.RunResult {
	t.Helper()
	truth := testkit.DefaultProbeTruth()
	models := truth.Models()
	evaluators := make(map[calibration.Variable]calibration.Evaluator, len(models))
	fits := make(map[calibration.Variable]*fit.Result, len(models))
	for v, m := range models {
		evaluators[v] = m
		fits[v] = &fit.Result{
			Label:       v.String(),
			Model:       m,
			Iterations:  3,
			Diagnostics: fit.Diagnostics{Samples: 10, RMS: 0.01, MaxAbs: 0.03},
		}
	}
	table, err := calibration.Sample(calibration.DefaultGridSpec(), evaluators, "probe")
	require.NoError(t, err)

	return &app.RunResult{
		RunID:      core.NewRunID(),
		Label:      "sweep|a",
		Table:      table,
		Fits:       fits,
		Samples:    10,
		Restricted: 2,
		Dropped:    []int{4},
	}
}

func TestMarkdownListsEveryFit(t *testing.T) {
	run := testRun(t)
	md := string(Markdown(run, nil))

	assert.True(t, strings.HasPrefix(md, "# Calibration run "+run.RunID.String()))
	assert.Contains(t, md, `sweep\|a`)
	assert.Contains(t, md, "| Removed by beta limit | 2 |")
	assert.Contains(t, md, "| Degenerate readings dropped | 1 |")
	assert.Contains(t, md, "| Grid | 31 x 26, step 0.1 |")
	assert.Contains(t, md, run.Table.Fingerprint().String())
	for _, v := range calibration.Variables {
		assert.Contains(t, md, "### "+v.String())
	}
	assert.Contains(t, md, "Basis `odd_x_even_y`")
	assert.Contains(t, md, "| c0 | 12 | - |")
	assert.NotContains(t, md, "## Verification")
}

func TestMarkdownIncludesVerification(t *testing.T) {
	ver := &app.VerificationReport{
		Label:    "check",
		Samples:  40,
		Failures: 2,
		Alpha:    fit.Diagnostics{RMS: 0.25},
	}
	md := string(Markdown(testRun(t), ver))
	assert.Contains(t, md, "## Verification")
	assert.Contains(t, md, "40 readings from check, 0 degenerate skipped, 2 consumer failures.")
	assert.Contains(t, md, "| alpha | 0.25 |")
}

func TestHTMLIsCompletePage(t *testing.T) {
	page := string(HTML(Markdown(testRun(t), nil)))
	assert.Contains(t, page, "<title>Probe calibration report</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<h3")
}

func TestWriteChoosesFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	run := testRun(t)

	mdPath := filepath.Join(dir, "report.md")
	require.NoError(t, Write(mdPath, run, nil))
	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Calibration run"))

	htmlPath := filepath.Join(dir, "report.html")
	require.NoError(t, Write(htmlPath, run, nil))
	page, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(page), "<html")

	err = Write(filepath.Join(dir, "missing", "report.md"), run, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeSerialization, apperrors.GetCode(err))
}
