package excel

// RawRows is a header row plus string data rows as read from a sheet or CSV
type RawRows struct {
	Headers []string
	Rows    [][]string
}
