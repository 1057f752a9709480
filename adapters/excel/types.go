package excel

// RawRowData represents a row of raw table data as header/value pairs
type RawRowData map[string]string

// TableData represents a whole sheet or CSV file
type TableData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// HasColumn reports whether the header row contains name
func (d *TableData) HasColumn(name string) bool {
	for _, h := range d.Headers {
		if h == name {
			return true
		}
	}
	return false
}
