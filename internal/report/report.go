// Package report renders a calibration run as a markdown document, optionally
// converted to HTML for the bench wiki.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"probecal/app"
	"probecal/domain/calibration"
	"probecal/domain/probe"
	"probecal/internal/errors"
	"probecal/internal/fit"
)

// Markdown renders the run and, when present, the verification summary
func Markdown(run *app.RunResult, verification *app.VerificationReport) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Calibration run %s\n\n", run.RunID)

	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Measurements | %s |\n", escape(run.Label))
	fmt.Fprintf(&b, "| Samples fitted | %d |\n", run.Samples)
	fmt.Fprintf(&b, "| Removed by beta limit | %d |\n", run.Restricted)
	fmt.Fprintf(&b, "| Degenerate readings dropped | %d |\n", len(run.Dropped))
	if len(run.Asymmetry) > 0 {
		fmt.Fprintf(&b, "| Max mirror-pair spread | %s |\n", num(probe.MaxSpread(run.Asymmetry)))
	}
	if run.Table != nil {
		s := run.Table.Surfaces[0]
		fmt.Fprintf(&b, "| Table prefix | `%s` |\n", run.Table.Prefix)
		fmt.Fprintf(&b, "| Grid | %d x %d, step %s |\n", s.X.Size, s.Y.Size, num(s.X.Step))
		fmt.Fprintf(&b, "| Fingerprint | `%s` |\n", run.Table.Fingerprint())
	}
	fmt.Fprintf(&b, "| Runtime | %d ms |\n", run.RuntimeMs)

	b.WriteString("\n## Fits\n")
	for _, v := range calibration.Variables {
		res, ok := run.Fits[v]
		if !ok {
			continue
		}
		writeFit(&b, v, res)
	}

	if verification != nil {
		writeVerification(&b, verification)
	}
	return b.Bytes()
}

func writeFit(b *bytes.Buffer, v calibration.Variable, res *fit.Result) {
	fmt.Fprintf(b, "\n### %s\n\n", v)
	fmt.Fprintf(b, "Basis `%s`, %d iterations, residual norm %s.\n\n",
		res.Model.Basis().Name(), res.Iterations, num(res.ResidualNorm))

	b.WriteString("| Coefficient | Value | Std. error |\n|---|---|---|\n")
	coef := res.Model.Coefficients()
	var se []float64
	if res.Covariance != nil {
		se = res.StdErrors()
	}
	for k, c := range coef {
		stdErr := "-"
		if k < len(se) {
			stdErr = num(se[k])
		}
		fmt.Fprintf(b, "| c%d | %s | %s |\n", k, num(c), stdErr)
	}
	b.WriteString("\n")
	writeDiagnostics(b, res.Diagnostics)
}

func writeDiagnostics(b *bytes.Buffer, d fit.Diagnostics) {
	fmt.Fprintf(b, "RMS %s, max |r| %s, std. dev. %s, p95 |r| %s over %d samples.\n",
		num(d.RMS), num(d.MaxAbs), num(d.StdDev), num(d.P95Abs), d.Samples)
}

func writeVerification(b *bytes.Buffer, r *app.VerificationReport) {
	b.WriteString("\n## Verification\n\n")
	fmt.Fprintf(b, "%d readings from %s, %d degenerate skipped, %d consumer failures.\n\n",
		r.Samples, escape(r.Label), r.Degenerate, r.Failures)
	b.WriteString("| Output | RMS | Max abs | p95 abs |\n|---|---|---|---|\n")
	for _, row := range []struct {
		name string
		d    fit.Diagnostics
	}{{"alpha", r.Alpha}, {"beta", r.Beta}, {"q", r.Q}, {"p", r.P}} {
		fmt.Fprintf(b, "| %s | %s | %s | %s |\n", row.name, num(row.d.RMS), num(row.d.MaxAbs), num(row.d.P95Abs))
	}
}

func num(v float64) string {
	return fmt.Sprintf("%.6g", v)
}

func escape(s string) string {
	if s == "" {
		return "(unnamed)"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}

// HTML converts a markdown report into a standalone HTML page
func HTML(md []byte) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: "Probe calibration report",
	})
	return markdown.ToHTML(md, p, renderer)
}

// Write renders the report to path, as HTML when the extension is .html or
// .htm and as markdown otherwise.
func Write(path string, run *app.RunResult, verification *app.VerificationReport) error {
	out := Markdown(run, verification)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		out = HTML(out)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.WithCode(errors.CodeSerialization, fmt.Errorf("write report %s: %w", path, err))
	}
	return nil
}
