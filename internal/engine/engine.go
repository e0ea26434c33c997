package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
)

// API is the subset of the Athena client the engine layer uses.
// *athena.Client satisfies it; tests provide fakes.
type API interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
	athena.GetQueryResultsAPIClient
}

// Options configure a connection, mirroring what the host supplies per data source.
type Options struct {
	// StagingDir is the s3:// location Athena writes query results to.
	StagingDir string
	// Schema is the database queries run against when not qualified.
	Schema string
	// WorkGroup selects the Athena workgroup for billing and limits.
	WorkGroup string
	// EncryptionOption and KMSKey configure server-side encryption of results.
	EncryptionOption string
	KMSKey           string
	// PollInterval is the delay between execution-state polls. Defaults to 1s.
	PollInterval time.Duration
}

// ColumnDesc describes one result column as reported by the engine.
type ColumnDesc struct {
	Name string
	Type string
}

// Connection binds an Athena client to per-data-source options.
type Connection struct {
	client API
	opts   Options
}

// Connect builds a connection from resolved AWS credentials.
// The client retries at most twice with a short capped backoff; everything
// beyond that is the caller's problem, not ours.
func Connect(cfg aws.Config, opts Options) *Connection {
	client := athena.NewFromConfig(cfg, func(o *athena.Options) {
		o.Retryer = retry.NewStandard(func(so *retry.StandardOptions) {
			so.MaxAttempts = 2
			so.Backoff = retry.NewExponentialJitterBackoff(50 * time.Millisecond)
		})
	})
	return &Connection{client: client, opts: opts}
}

// NewConnection wraps an existing client. Used by tests.
func NewConnection(client API, opts Options) *Connection {
	return &Connection{client: client, opts: opts}
}

// Cursor returns a fresh cursor bound to this connection.
func (c *Connection) Cursor() *Cursor {
	return &Cursor{client: c.client, opts: c.opts}
}

// Cursor tracks a single remote query execution. It is single-use: once
// Execute has run, the cursor must not be reused for another statement.
type Cursor struct {
	client API
	opts   Options

	executed       bool
	queryID        string
	outputLocation string
	dataScanned    *int64
	description    []ColumnDesc
}

// Execute submits sql verbatim and blocks until the execution reaches a
// terminal state. No parameter substitution happens anywhere on this path;
// the host renders the full statement before calling us.
func (c *Cursor) Execute(ctx context.Context, sql string) error {
	if c.executed {
		return errors.New("cursor already used")
	}
	c.executed = true

	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(c.opts.Schema),
		},
	}
	if c.opts.WorkGroup != "" {
		input.WorkGroup = aws.String(c.opts.WorkGroup)
	}
	result := &types.ResultConfiguration{OutputLocation: aws.String(c.opts.StagingDir)}
	if c.opts.EncryptionOption != "" {
		result.EncryptionConfiguration = &types.EncryptionConfiguration{
			EncryptionOption: types.EncryptionOption(c.opts.EncryptionOption),
		}
		if c.opts.KMSKey != "" {
			result.EncryptionConfiguration.KmsKey = aws.String(c.opts.KMSKey)
		}
	}
	input.ResultConfiguration = result

	started, err := c.client.StartQueryExecution(ctx, input)
	if err != nil {
		return fmt.Errorf("start query execution: %w", err)
	}
	c.queryID = aws.ToString(started.QueryExecutionId)
	slog.Debug("Query submitted", "query_id", c.queryID)

	return c.waitForCompletion(ctx)
}

func (c *Cursor) waitForCompletion(ctx context.Context) error {
	interval := c.opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		out, err := c.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(c.queryID),
		})
		if err != nil {
			return fmt.Errorf("get query execution: %w", err)
		}

		execution := out.QueryExecution
		if execution == nil || execution.Status == nil {
			return errors.New("query execution status missing")
		}
		if execution.ResultConfiguration != nil {
			c.outputLocation = aws.ToString(execution.ResultConfiguration.OutputLocation)
		}
		if execution.Statistics != nil {
			c.dataScanned = execution.Statistics.DataScannedInBytes
		}

		switch execution.Status.State {
		case types.QueryExecutionStateSucceeded:
			return nil
		case types.QueryExecutionStateFailed:
			return fmt.Errorf("query failed: %s", aws.ToString(execution.Status.StateChangeReason))
		case types.QueryExecutionStateCancelled:
			return errors.New("query cancelled")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// QueryID returns the engine-side execution id, or "" when submission never
// got far enough to receive one.
func (c *Cursor) QueryID() string {
	return c.queryID
}

// OutputLocation returns the s3:// address the engine recorded for this
// execution's result object. Empty means the engine has not reported one.
func (c *Cursor) OutputLocation() string {
	return c.outputLocation
}

// DataScannedInBytes reports the scanned-byte count when the engine exposed
// it. Older engine versions omit the statistic.
func (c *Cursor) DataScannedInBytes() (int64, bool) {
	if c.dataScanned == nil {
		return 0, false
	}
	return *c.dataScanned, true
}

// Description fetches and caches the result column metadata.
func (c *Cursor) Description(ctx context.Context) ([]ColumnDesc, error) {
	if c.description != nil {
		return c.description, nil
	}
	out, err := c.client.GetQueryResults(ctx, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(c.queryID),
		MaxResults:       aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("get result metadata: %w", err)
	}
	if out.ResultSet == nil || out.ResultSet.ResultSetMetadata == nil {
		return nil, errors.New("result set metadata missing")
	}
	for _, info := range out.ResultSet.ResultSetMetadata.ColumnInfo {
		c.description = append(c.description, ColumnDesc{
			Name: aws.ToString(info.Name),
			Type: aws.ToString(info.Type),
		})
	}
	return c.description, nil
}

// FetchAll streams every result row into memory. The engine repeats the
// header as the first row of the first page; it is skipped here.
func (c *Cursor) FetchAll(ctx context.Context) ([][]any, error) {
	paginator := athena.NewGetQueryResultsPaginator(c.client, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(c.queryID),
	})

	var rows [][]any
	first := true
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get query results: %w", err)
		}
		if page.ResultSet == nil {
			continue
		}
		pageRows := page.ResultSet.Rows
		if first {
			if len(pageRows) > 0 {
				pageRows = pageRows[1:]
			}
			first = false
		}
		for _, row := range pageRows {
			values := make([]any, len(row.Data))
			for i, datum := range row.Data {
				if datum.VarCharValue != nil {
					values[i] = *datum.VarCharValue
				}
			}
			rows = append(rows, values)
		}
	}
	return rows, nil
}

// Cancel issues a best-effort stop for the remote execution.
func (c *Cursor) Cancel(ctx context.Context) error {
	if c.queryID == "" {
		return nil
	}
	_, err := c.client.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(c.queryID),
	})
	if err != nil {
		slog.Warn("Failed to cancel query", "query_id", c.queryID, "error", err)
	}
	return err
}
