package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"probecal/domain/calibration"
	"probecal/domain/probe"
)

const defaultSheet = "Sheet1"

func sampleRow(s probe.Sample) []float64 {
	return []float64{s.Alpha, s.Beta, s.Down, s.Up, s.Right, s.Left, s.Center, s.Static}
}

// WriteBatch exports a batch in the ingestion layout, choosing XLSX or CSV by extension
func WriteBatch(path string, b probe.Batch) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return writeCSV(path, b)
	case ".xlsx":
		return writeXLSX(path, b)
	default:
		return fmt.Errorf("unsupported export type %q", filepath.Ext(path))
	}
}

func writeXLSX(path string, b probe.Batch) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, len(probe.ChannelNames))
	for i, name := range probe.ChannelNames {
		header[i] = name
	}
	if err := f.SetSheetRow(defaultSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, s := range b.Samples {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := sampleRow(s)
		row := make([]interface{}, len(values))
		for k, v := range values {
			row[k] = v
		}
		if err := f.SetSheetRow(defaultSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeCSV(path string, b probe.Batch) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(probe.ChannelNames); err != nil {
		return err
	}
	for _, s := range b.Samples {
		values := sampleRow(s)
		record := make([]string, len(values))
		for k, v := range values {
			record[k] = calibration.FormatFloat(v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}
