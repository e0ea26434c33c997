package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// excelMaxRows is the hard sheet limit imposed by the xlsx format.
const excelMaxRows = 1048576

// ExcelEncoder implements RowEncoder for Excel (.xlsx) downloads.
// It uses excelize.StreamWriter to keep memory flat on large results.
type ExcelEncoder struct {
	f         *excelize.File
	sw        *excelize.StreamWriter
	w         io.Writer
	sheetName string
	rowIdx    int
	err       error
}

// NewExcelEncoder creates a new Excel encoder writing a single-sheet workbook.
func NewExcelEncoder(w io.Writer) *ExcelEncoder {
	f := excelize.NewFile()
	sheetName := "Sheet1"
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return &ExcelEncoder{err: err}
	}

	return &ExcelEncoder{
		f:         f,
		sw:        sw,
		w:         w,
		sheetName: sheetName,
		rowIdx:    1,
	}
}

func (e *ExcelEncoder) WriteHeader(columns []string) error {
	if e.err != nil {
		return e.err
	}

	row := make([]interface{}, len(columns))
	for i, col := range columns {
		row[i] = col
	}
	return e.setRow(row)
}

func (e *ExcelEncoder) WriteRow(values []interface{}) error {
	if e.err != nil {
		return e.err
	}

	row := make([]interface{}, len(values))
	for i, v := range values {
		switch val := v.(type) {
		case nil:
			row[i] = "NULL"
		case string:
			row[i] = guardFormula(val)
		case []byte:
			row[i] = guardFormula(string(val))
		default:
			// Numbers and booleans are written natively.
			row[i] = v
		}
	}

	if err := e.setRow(row); err != nil {
		return err
	}
	if e.rowIdx > excelMaxRows {
		e.err = fmt.Errorf("excel row limit exceeded (%d rows)", excelMaxRows)
		return e.err
	}
	return nil
}

func (e *ExcelEncoder) setRow(row []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, e.rowIdx)
	if err != nil {
		e.err = err
		return err
	}
	if err := e.sw.SetRow(cell, row); err != nil {
		e.err = err
		return err
	}
	e.rowIdx++
	return nil
}

// guardFormula mitigates formula injection when the sheet is opened in a
// spreadsheet application.
func guardFormula(s string) string {
	if len(s) > 0 {
		first := s[0]
		if first == '=' || first == '+' || first == '-' || first == '@' {
			return "'" + s
		}
	}
	return s
}

func (e *ExcelEncoder) Flush() error {
	if e.err != nil {
		return e.err
	}

	if err := e.sw.Flush(); err != nil {
		e.err = err
		return err
	}
	return e.f.Write(e.w)
}

func (e *ExcelEncoder) Error() error {
	return e.err
}

// Close removes the stream writer's scratch file. Safe to call twice.
func (e *ExcelEncoder) Close() error {
	if e.f != nil {
		_ = e.f.Close()
		e.f = nil
	}
	return nil
}
