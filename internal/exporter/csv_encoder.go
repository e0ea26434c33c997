package exporter

import (
	"bufio"
	"encoding/csv"
	"io"
	"strconv"
)

// CSVEncoder wraps encoding/csv with type-aware, low-allocation logic.
// It uses a bufio.Writer to minimize IO syscalls.
type CSVEncoder struct {
	w       *csv.Writer
	buf     *bufio.Writer
	columns []string
}

// NewCSVEncoder creates a new CSV encoder that writes to the provided io.Writer.
func NewCSVEncoder(w io.Writer) *CSVEncoder {
	buf := bufio.NewWriterSize(w, 64*1024)
	cw := csv.NewWriter(buf)
	return &CSVEncoder{
		w:   cw,
		buf: buf,
	}
}

// WriteHeader writes the CSV header row.
func (e *CSVEncoder) WriteHeader(columns []string) error {
	e.columns = columns
	return e.w.Write(columns)
}

// WriteRow writes a single row of values. Result payload values are strings
// or nulls; numbers and booleans show up when rows come from parsed JSON.
func (e *CSVEncoder) WriteRow(values []interface{}) error {
	record := make([]string, len(values))

	for i, v := range values {
		record[i] = toString(v)
	}

	return e.w.Write(record)
}

// Flush ensures all data is written to the underlying writer.
func (e *CSVEncoder) Flush() error {
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return err
	}
	return e.buf.Flush()
}

// Error returns any error stored in the CSV writer.
func (e *CSVEncoder) Error() error {
	return e.w.Error()
}

// Close flushes and satisfies io.Closer.
func (e *CSVEncoder) Close() error {
	return e.Flush()
}

func toString(val interface{}) string {
	var s string
	if val == nil {
		s = "NULL"
	} else {
		switch v := val.(type) {
		case string:
			s = v
		case []byte:
			s = string(v)
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case int64:
			s = strconv.FormatInt(v, 10)
		case int:
			s = strconv.Itoa(v)
		case bool:
			s = strconv.FormatBool(v)
		default:
			s = ""
		}
	}

	// Formula Injection Mitigation (CSV Injection)
	// If the string starts with =, +, -, or @, prefix it with a single quote.
	if len(s) > 0 {
		first := s[0]
		if first == '=' || first == '+' || first == '-' || first == '@' {
			s = "'" + s
		}
	}
	return s
}
