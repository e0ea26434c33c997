package exporter

import (
	"fmt"
	"time"

	"athena-runner/internal/runner"
)

// ExportResult contains stats about an encoded download.
type ExportResult struct {
	RowsProcessed int64
	Duration      time.Duration
}

// EncodeResult streams a normalized query result through the encoder,
// preserving the payload's column ordering.
func EncodeResult(result runner.ResultData, encoder RowEncoder) (*ExportResult, error) {
	start := time.Now()
	// The Excel encoder buffers rows in a scratch file that only Close
	// removes, so the encoder must be closed on every exit path.
	defer encoder.Close()

	columns := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		columns[i] = c.Name
	}

	if err := encoder.WriteHeader(columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	values := make([]interface{}, len(columns))
	for _, row := range result.Rows {
		for i, name := range columns {
			values[i] = row.Values[name]
		}
		if err := encoder.WriteRow(values); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}

	if err := encoder.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	if err := encoder.Error(); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return &ExportResult{
		RowsProcessed: int64(len(result.Rows)),
		Duration:      time.Since(start),
	}, nil
}
