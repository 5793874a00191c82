package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"probecal/domain/core"
	"probecal/domain/probe"
	"probecal/internal"
	"probecal/ports"
)

// DataReader reads tunnel measurement exports from XLSX or CSV files
type DataReader struct {
	config ReaderConfig
	logger *internal.Logger
}

// NewDataReader creates a reader that handles both Excel and CSV files
func NewDataReader(config ReaderConfig, logger *internal.Logger) *DataReader {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &DataReader{config: config, logger: logger.With("excel")}
}

// Load reads one file into a validated batch labelled with the file's base name
func (r *DataReader) Load(ctx context.Context, path string) (probe.Batch, error) {
	if err := ctx.Err(); err != nil {
		return probe.Batch{}, err
	}
	cols, err := r.ReadColumns(path)
	if err != nil {
		return probe.Batch{}, err
	}
	return cols.Batch()
}

// LoadAll reads every file and concatenates the columns in argument order.
// Every file must carry the same channel set.
func (r *DataReader) LoadAll(ctx context.Context, paths []string) (probe.Batch, error) {
	if len(paths) == 0 {
		return probe.Batch{}, core.NewSchemaError("", "no measurement files given")
	}
	var merged probe.Columns
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return probe.Batch{}, err
		}
		cols, err := r.ReadColumns(p)
		if err != nil {
			return probe.Batch{}, err
		}
		if i == 0 {
			merged = cols
			continue
		}
		if merged, err = merged.Combine(cols); err != nil {
			return probe.Batch{}, err
		}
	}
	return merged.Batch()
}

// ReadColumns parses a file into the column form of the ingestion contract
func (r *DataReader) ReadColumns(path string) (probe.Columns, error) {
	label := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	raw, err := r.ReadRaw(path)
	if err != nil {
		return probe.Columns{}, err
	}
	return r.toColumns(label, raw)
}

// ReadRaw reads the header and data rows without interpreting them
func (r *DataReader) ReadRaw(path string) (*RawRows, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("measurement file %s: %w", path, err)
	}

	start := time.Now()
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx", ".xlsm":
		rows, err = r.readXLSX(path)
	default:
		return nil, core.NewSchemaError(path, "unsupported file type "+filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug("read %s in %.2fms (%d rows)", path, float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	if len(rows) < 1 {
		return nil, core.NewSchemaError(path, "no header row")
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	out := &RawRows{Headers: headers}
	for _, row := range rows[1:] {
		if r.config.SkipBlankRows && blank(row) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func (r *DataReader) readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := r.config.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, core.NewSchemaError(path, "workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// toColumns picks the contract channels out of the header. Other columns are
// ignored; a channel appearing twice or a non-numeric cell is a contract violation.
func (r *DataReader) toColumns(label string, raw *RawRows) (probe.Columns, error) {
	wanted := make(map[string]bool, len(probe.ChannelNames))
	for _, name := range probe.ChannelNames {
		wanted[name] = true
	}

	index := make(map[string]int, len(probe.ChannelNames))
	for i, h := range raw.Headers {
		if !wanted[h] {
			if h != "" {
				r.logger.Debug("%s: ignoring column %q", label, h)
			}
			continue
		}
		if _, dup := index[h]; dup {
			return probe.Columns{}, core.NewSchemaError(label, fmt.Sprintf("duplicate column %q", h))
		}
		index[h] = i
	}
	for _, name := range probe.ChannelNames {
		if _, ok := index[name]; !ok {
			return probe.Columns{}, core.NewSchemaError(label, fmt.Sprintf("missing column %q", name))
		}
	}

	cols := probe.Columns{Label: label, Data: make(map[string][]float64, len(probe.ChannelNames))}
	for _, name := range probe.ChannelNames {
		cols.Data[name] = make([]float64, 0, len(raw.Rows))
	}
	for rowIdx, row := range raw.Rows {
		for _, name := range probe.ChannelNames {
			col := index[name]
			if col >= len(row) || strings.TrimSpace(row[col]) == "" {
				return probe.Columns{}, core.NewLengthError(name, len(cols.Data[name]), len(raw.Rows))
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
			if err != nil {
				return probe.Columns{}, core.NewSchemaError(label,
					fmt.Sprintf("row %d column %q: %q is not a number", rowIdx+2, name, row[col]))
			}
			cols.Data[name] = append(cols.Data[name], v)
		}
	}

	r.logger.Info("%s: %d samples", label, len(raw.Rows))
	return cols, cols.Validate()
}

var _ ports.MeasurementSource = (*DataReader)(nil)
