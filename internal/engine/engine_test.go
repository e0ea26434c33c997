package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	states    []types.QueryExecutionState
	stateIdx  int
	stopCalls int
	startErr  error
	resultsFn func(*athena.GetQueryResultsInput) (*athena.GetQueryResultsOutput, error)
	lastInput *athena.StartQueryExecutionInput
	reason    string
	output    string
	scanned   *int64
}

func (f *fakeAPI) StartQueryExecution(_ context.Context, params *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.lastInput = params
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("qid-123")}, nil
}

func (f *fakeAPI) GetQueryExecution(_ context.Context, _ *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	state := f.states[f.stateIdx]
	if f.stateIdx < len(f.states)-1 {
		f.stateIdx++
	}
	return &athena.GetQueryExecutionOutput{
		QueryExecution: &types.QueryExecution{
			Status: &types.QueryExecutionStatus{
				State:             state,
				StateChangeReason: aws.String(f.reason),
			},
			ResultConfiguration: &types.ResultConfiguration{
				OutputLocation: aws.String(f.output),
			},
			Statistics: &types.QueryExecutionStatistics{
				DataScannedInBytes: f.scanned,
			},
		},
	}, nil
}

func (f *fakeAPI) StopQueryExecution(_ context.Context, _ *athena.StopQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	f.stopCalls++
	return &athena.StopQueryExecutionOutput{}, nil
}

func (f *fakeAPI) GetQueryResults(_ context.Context, params *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	if f.resultsFn != nil {
		return f.resultsFn(params)
	}
	return &athena.GetQueryResultsOutput{ResultSet: &types.ResultSet{}}, nil
}

func strRow(values ...string) types.Row {
	data := make([]types.Datum, len(values))
	for i, v := range values {
		data[i] = types.Datum{VarCharValue: aws.String(v)}
	}
	return types.Row{Data: data}
}

func TestExecuteSucceedsAfterPolling(t *testing.T) {
	api := &fakeAPI{
		states:  []types.QueryExecutionState{types.QueryExecutionStateRunning, types.QueryExecutionStateSucceeded},
		output:  "s3://results/path/qid-123.csv",
		scanned: aws.Int64(4096),
	}
	conn := NewConnection(api, Options{
		StagingDir:   "s3://results/path",
		Schema:       "default",
		WorkGroup:    "primary",
		PollInterval: time.Millisecond,
	})
	cursor := conn.Cursor()

	require.NoError(t, cursor.Execute(context.Background(), "SELECT 1"))

	assert.Equal(t, "qid-123", cursor.QueryID())
	assert.Equal(t, "s3://results/path/qid-123.csv", cursor.OutputLocation())
	scanned, ok := cursor.DataScannedInBytes()
	assert.True(t, ok)
	assert.Equal(t, int64(4096), scanned)
	assert.Equal(t, "SELECT 1", aws.ToString(api.lastInput.QueryString))
	assert.Equal(t, "primary", aws.ToString(api.lastInput.WorkGroup))
}

func TestExecutePassesSQLVerbatim(t *testing.T) {
	api := &fakeAPI{states: []types.QueryExecutionState{types.QueryExecutionStateSucceeded}}
	cursor := NewConnection(api, Options{PollInterval: time.Millisecond}).Cursor()

	sql := "SELECT * FROM t WHERE name = '%(weird)s ? {{ template }}'"
	require.NoError(t, cursor.Execute(context.Background(), sql))

	assert.Equal(t, sql, aws.ToString(api.lastInput.QueryString))
}

func TestExecuteFailedState(t *testing.T) {
	api := &fakeAPI{
		states: []types.QueryExecutionState{types.QueryExecutionStateFailed},
		reason: "SYNTAX_ERROR: line 1",
	}
	cursor := NewConnection(api, Options{PollInterval: time.Millisecond}).Cursor()

	err := cursor.Execute(context.Background(), "SELEC 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNTAX_ERROR")
}

func TestExecuteCursorNotReusable(t *testing.T) {
	api := &fakeAPI{states: []types.QueryExecutionState{types.QueryExecutionStateSucceeded}}
	cursor := NewConnection(api, Options{PollInterval: time.Millisecond}).Cursor()

	require.NoError(t, cursor.Execute(context.Background(), "SELECT 1"))
	assert.Error(t, cursor.Execute(context.Background(), "SELECT 2"))
}

func TestExecuteContextCancelledDuringPoll(t *testing.T) {
	api := &fakeAPI{states: []types.QueryExecutionState{types.QueryExecutionStateRunning}}
	cursor := NewConnection(api, Options{PollInterval: 10 * time.Millisecond}).Cursor()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := cursor.Execute(ctx, "SELECT 1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "qid-123", cursor.QueryID())
}

func TestExecuteStartError(t *testing.T) {
	api := &fakeAPI{startErr: errors.New("throttled")}
	cursor := NewConnection(api, Options{}).Cursor()

	err := cursor.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Empty(t, cursor.QueryID())
}

func TestDescription(t *testing.T) {
	api := &fakeAPI{states: []types.QueryExecutionState{types.QueryExecutionStateSucceeded}}
	api.resultsFn = func(_ *athena.GetQueryResultsInput) (*athena.GetQueryResultsOutput, error) {
		return &athena.GetQueryResultsOutput{
			ResultSet: &types.ResultSet{
				ResultSetMetadata: &types.ResultSetMetadata{
					ColumnInfo: []types.ColumnInfo{
						{Name: aws.String("id"), Type: aws.String("bigint")},
						{Name: aws.String("name"), Type: aws.String("varchar")},
					},
				},
			},
		}, nil
	}
	cursor := NewConnection(api, Options{PollInterval: time.Millisecond}).Cursor()
	require.NoError(t, cursor.Execute(context.Background(), "SELECT id, name FROM t"))

	desc, err := cursor.Description(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ColumnDesc{{Name: "id", Type: "bigint"}, {Name: "name", Type: "varchar"}}, desc)
}

func TestFetchAllSkipsHeaderRow(t *testing.T) {
	api := &fakeAPI{states: []types.QueryExecutionState{types.QueryExecutionStateSucceeded}}
	api.resultsFn = func(_ *athena.GetQueryResultsInput) (*athena.GetQueryResultsOutput, error) {
		return &athena.GetQueryResultsOutput{
			ResultSet: &types.ResultSet{
				Rows: []types.Row{
					strRow("id", "name"),
					strRow("1", "alpha"),
					{Data: []types.Datum{{VarCharValue: aws.String("2")}, {}}},
				},
			},
		}, nil
	}
	cursor := NewConnection(api, Options{PollInterval: time.Millisecond}).Cursor()
	require.NoError(t, cursor.Execute(context.Background(), "SELECT id, name FROM t"))

	rows, err := cursor.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"1", "alpha"}, rows[0])
	assert.Equal(t, []any{"2", nil}, rows[1])
}

func TestCancelWithoutQueryIDIsNoop(t *testing.T) {
	api := &fakeAPI{}
	cursor := NewConnection(api, Options{}).Cursor()

	require.NoError(t, cursor.Cancel(context.Background()))
	assert.Zero(t, api.stopCalls)
}

func TestCancelStopsExecution(t *testing.T) {
	api := &fakeAPI{states: []types.QueryExecutionState{types.QueryExecutionStateSucceeded}}
	cursor := NewConnection(api, Options{PollInterval: time.Millisecond}).Cursor()
	require.NoError(t, cursor.Execute(context.Background(), "SELECT 1"))

	require.NoError(t, cursor.Cancel(context.Background()))
	assert.Equal(t, 1, api.stopCalls)
}
