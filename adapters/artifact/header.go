// Package artifact renders calibration tables to firmware headers and JSON
// documents and persists them atomically.
package artifact

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"probecal/domain/calibration"
	"probecal/domain/core"
)

// valuesPerLine keeps generated arrays readable in a diff.
const valuesPerLine = 8

var headerTemplate = template.Must(template.New("header").Funcs(template.FuncMap{
	"num":   calibration.FormatFloat,
	"upper": strings.ToUpper,
	"rows":  valueRows,
}).Parse(`/* Generated probe calibration table. Do not edit.
 * prefix: {{.Prefix}}
 * fingerprint: {{.Fingerprint}}
 */
#ifndef {{upper .Prefix}}_CALIBRATION_H
#define {{upper .Prefix}}_CALIBRATION_H

#include "calibration_surface.h"
{{range .Surfaces}}
/* {{.Comment}} */
static const float {{$.Prefix}}_{{.Variable}}_data[] = {
{{- range rows .Data}}
  {{.}},
{{- end}}
};

static const calibration_surface {{$.Prefix}}_{{.Variable}} = {
  { {{.X.Size}}, {{num .X.Step}}, {{num .X.ZeroOffset}} },
  { {{.Y.Size}}, {{num .Y.Step}}, {{num .Y.ZeroOffset}} },
  {{$.Prefix}}_{{.Variable}}_data,
};
{{end}}
#endif
`))

func valueRows(data []float64) []string {
	var rows []string
	for start := 0; start < len(data); start += valuesPerLine {
		end := start + valuesPerLine
		if end > len(data) {
			end = len(data)
		}
		cells := make([]string, 0, end-start)
		for _, v := range data[start:end] {
			cells = append(cells, calibration.FormatFloat(v))
		}
		rows = append(rows, strings.Join(cells, ", "))
	}
	return rows
}

type headerView struct {
	Prefix      string
	Fingerprint core.Hash
	Surfaces    []calibration.Surface
}

// CHeaderCodec writes the table as a C header of static arrays and surface
// initializers, and parses such a header back.
type CHeaderCodec struct{}

func (CHeaderCodec) Name() string      { return "c" }
func (CHeaderCodec) Extension() string { return ".h" }

// Encode validates t and renders it.
func (CHeaderCodec) Encode(w io.Writer, t *calibration.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return headerTemplate.Execute(w, headerView{
		Prefix:      t.Prefix,
		Fingerprint: t.Fingerprint(),
		Surfaces:    t.Surfaces,
	})
}

var (
	prefixLine      = regexp.MustCompile(`^\* prefix: (\S+)$`)
	fingerprintLine = regexp.MustCompile(`^\* fingerprint: ([0-9a-f]+)$`)
	commentLine     = regexp.MustCompile(`^/\* (.*) \*/$`)
	dataOpenLine    = regexp.MustCompile(`^static const float (\w+)_data\[\] = \{$`)
	surfaceOpenLine = regexp.MustCompile(`^static const calibration_surface (\w+) = \{$`)
	axisLine        = regexp.MustCompile(`^\{ (\d+), (\S+), (\S+) \},$`)
)

// Decode parses a header produced by Encode, recomputes the fingerprint and
// rejects a table whose content no longer matches it.
func (CHeaderCodec) Decode(r io.Reader) (*calibration.Table, error) {
	p := headerParser{scanner: bufio.NewScanner(r)}
	p.scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	table, fingerprint, err := p.parse()
	if err != nil {
		return nil, err
	}
	return checkTable(table, fingerprint)
}

type headerParser struct {
	scanner *bufio.Scanner
	line    int
}

// next returns the next non-blank line, trimmed.
func (p *headerParser) next() (string, bool) {
	for p.scanner.Scan() {
		p.line++
		if l := strings.TrimSpace(p.scanner.Text()); l != "" {
			return l, true
		}
	}
	return "", false
}

func (p *headerParser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: line %d: %s", core.ErrInvalidTable, p.line, fmt.Sprintf(format, args...))
}

func (p *headerParser) parse() (*calibration.Table, core.Hash, error) {
	table := &calibration.Table{}
	var fingerprint core.Hash
	var comment string

	for {
		line, ok := p.next()
		if !ok {
			break
		}
		switch {
		case prefixLine.MatchString(line):
			table.Prefix = prefixLine.FindStringSubmatch(line)[1]
		case fingerprintLine.MatchString(line):
			fingerprint = core.Hash(fingerprintLine.FindStringSubmatch(line)[1])
		case commentLine.MatchString(line):
			comment = commentLine.FindStringSubmatch(line)[1]
		case dataOpenLine.MatchString(line):
			name := dataOpenLine.FindStringSubmatch(line)[1]
			s, err := p.parseSurface(table.Prefix, name, comment)
			if err != nil {
				return nil, "", err
			}
			table.Surfaces = append(table.Surfaces, s)
			comment = ""
		}
	}
	if err := p.scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", core.ErrInvalidTable, err)
	}
	if table.Prefix == "" {
		return nil, "", p.errorf("no prefix banner")
	}
	return table, fingerprint, nil
}

// parseSurface consumes the data array and the initializer that follows it.
func (p *headerParser) parseSurface(prefix, name, comment string) (calibration.Surface, error) {
	varName := strings.TrimPrefix(name, prefix+"_")
	v, err := calibration.ParseVariable(varName)
	if err != nil || varName == name {
		return calibration.Surface{}, p.errorf("unexpected array %s_data", name)
	}
	s := calibration.Surface{Variable: v, Comment: comment}

	for {
		line, ok := p.next()
		if !ok {
			return s, p.errorf("unterminated array for %s", name)
		}
		if line == "};" {
			break
		}
		for _, cell := range strings.Split(strings.TrimSuffix(line, ","), ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return s, p.errorf("bad value %q in %s", cell, name)
			}
			s.Data = append(s.Data, f)
		}
	}

	line, ok := p.next()
	if !ok || surfaceOpenLine.FindStringSubmatch(line) == nil || surfaceOpenLine.FindStringSubmatch(line)[1] != name {
		return s, p.errorf("missing initializer for %s", name)
	}
	for _, axis := range []*calibration.Axis{&s.X, &s.Y} {
		line, _ = p.next()
		m := axisLine.FindStringSubmatch(line)
		if m == nil {
			return s, p.errorf("bad axis descriptor %q for %s", line, name)
		}
		size, errSize := strconv.Atoi(m[1])
		step, errStep := strconv.ParseFloat(m[2], 64)
		offset, errOffset := strconv.ParseFloat(m[3], 64)
		if errSize != nil || errStep != nil || errOffset != nil {
			return s, p.errorf("bad axis descriptor %q for %s", line, name)
		}
		*axis = calibration.Axis{Size: size, Step: step, ZeroOffset: offset}
	}
	if line, _ = p.next(); line != name+"_data," {
		return s, p.errorf("initializer for %s does not reference its data", name)
	}
	if line, _ = p.next(); line != "};" {
		return s, p.errorf("unterminated initializer for %s", name)
	}
	return s, nil
}

// checkTable validates a decoded table against its recorded fingerprint.
func checkTable(t *calibration.Table, fingerprint core.Hash) (*calibration.Table, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if fingerprint.IsEmpty() {
		return nil, fmt.Errorf("%w: no fingerprint recorded", core.ErrHashMismatch)
	}
	if got := t.Fingerprint(); !got.Equals(fingerprint) {
		return nil, fmt.Errorf("%w: recorded %s, content %s", core.ErrHashMismatch, fingerprint.Short(), got.Short())
	}
	return t, nil
}
