package excel

// ReaderConfig holds configuration for measurement files
type ReaderConfig struct {
	// Sheet is read from XLSX workbooks; the first sheet when empty.
	Sheet string `json:"sheet"`
	// SkipBlankRows drops rows whose cells are all empty.
	SkipBlankRows bool `json:"skip_blank_rows"`
}

// DefaultReaderConfig returns sensible defaults for tunnel exports
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		SkipBlankRows: true,
	}
}
