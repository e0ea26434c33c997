package exporter

import (
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
)

// PDFEncoder implements RowEncoder for PDF downloads, rendering a simple
// grid. Slow and memory hungry compared to CSV; intended for small results.
type PDFEncoder struct {
	pdf     *fpdf.Fpdf
	w       io.Writer
	err     error
	flushed bool
}

// NewPDFEncoder creates a new PDF encoder (landscape A4).
func NewPDFEncoder(w io.Writer) *PDFEncoder {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 10)
	pdf.AddPage()
	return &PDFEncoder{
		pdf: pdf,
		w:   w,
	}
}

// WriteHeader writes the table headers.
func (e *PDFEncoder) WriteHeader(columns []string) error {
	if e.err != nil {
		return e.err
	}

	e.pdf.SetFont("Arial", "B", 10)
	colWidth := e.columnWidth(len(columns))
	for _, col := range columns {
		e.pdf.CellFormat(colWidth, 7, col, "1", 0, "C", false, 0, "")
	}
	e.pdf.Ln(-1)
	e.pdf.SetFont("Arial", "", 10)
	return nil
}

// WriteRow writes a single row of data.
func (e *PDFEncoder) WriteRow(values []interface{}) error {
	if e.err != nil {
		return e.err
	}

	colWidth := e.columnWidth(len(values))
	for _, v := range values {
		str := toString(v)
		// The CSV injection guard quote is noise in a PDF cell.
		str = strings.TrimPrefix(str, "'")
		e.pdf.CellFormat(colWidth, 7, str, "1", 0, "L", false, 0, "")
	}
	e.pdf.Ln(-1)
	return nil
}

// columnWidth distributes the usable page width evenly.
func (e *PDFEncoder) columnWidth(columns int) float64 {
	pageWidth, _ := e.pdf.GetPageSize()
	left, _, right, _ := e.pdf.GetMargins()
	if columns == 0 {
		return pageWidth - left - right
	}
	return (pageWidth - left - right) / float64(columns)
}

// Flush writes the PDF to the underlying writer. Output closes the document,
// so only the first call emits; Close may follow a Flush safely.
func (e *PDFEncoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	if e.flushed {
		return nil
	}
	e.flushed = true
	return e.pdf.Output(e.w)
}

// Error returns any stored error.
func (e *PDFEncoder) Error() error {
	return e.err
}

// Close flushes and satisfies io.Closer.
func (e *PDFEncoder) Close() error {
	return e.Flush()
}
