package exporter

import (
	"fmt"
	"io"
)

// RowEncoder defines a common interface for the result download formats
// (CSV, JSON lines, Excel, PDF). It keeps the streaming code agnostic of the
// underlying output format.
type RowEncoder interface {
	// WriteHeader writes the column headers to the output.
	// This should be called exactly once before any rows are written.
	WriteHeader(columns []string) error

	// WriteRow writes a single row of data.
	// The values slice length must match the headers length.
	WriteRow(values []interface{}) error

	// Flush ensures all buffered data is written to the underlying writer.
	Flush() error

	// Error returns the first error that occurred during encoding, if any.
	Error() error

	// Close flushes the encoder and releases any resources.
	// For Excel, this writes the workbook footer.
	io.Closer
}

// NewEncoder returns the encoder for a download format name.
func NewEncoder(format string, w io.Writer) (RowEncoder, error) {
	switch format {
	case "csv", "":
		return NewCSVEncoder(w), nil
	case "json":
		return NewJSONEncoder(w), nil
	case "xlsx":
		return NewExcelEncoder(w), nil
	case "pdf":
		return NewPDFEncoder(w), nil
	}
	return nil, fmt.Errorf("unsupported download format %q", format)
}
