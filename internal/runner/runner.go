package runner

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"athena-runner/internal/catalog"
	"athena-runner/internal/credentials"
	"athena-runner/internal/engine"
	"athena-runner/internal/settings"
	"athena-runner/internal/storage"
)

// ErrCancelled reports that the acting user interrupted the run. The remote
// execution is stopped (best effort) before this is returned.
var ErrCancelled = errors.New("query cancelled by user")

// schemaQuery is the introspection fallback when the Glue catalog is off.
const schemaQuery = `SELECT table_schema, table_name, column_name
FROM information_schema.columns
WHERE table_schema NOT IN ('information_schema')`

// Settings is the resolved data source configuration supplied by the host.
// Immutable once the runner is constructed.
type Settings struct {
	Region           string
	AccessKey        string
	SecretKey        string
	IAMRole          string
	ExternalID       string
	S3StagingDir     string
	SchemaName       string
	WorkGroup        string
	EncryptionOption string
	KMSKey           string
	Glue             bool
	CostPerTB        float64
	PollInterval     time.Duration
}

func (s Settings) validate() error {
	if s.Region == "" {
		return errors.New("configuration error: region is required")
	}
	if s.S3StagingDir == "" {
		return errors.New("configuration error: s3_staging_dir is required")
	}
	return nil
}

// Cursor is what the runner needs from a remote query execution handle.
// *engine.Cursor satisfies it.
type Cursor interface {
	Execute(ctx context.Context, sql string) error
	QueryID() string
	OutputLocation() string
	DataScannedInBytes() (int64, bool)
	Description(ctx context.Context) ([]engine.ColumnDesc, error)
	FetchAll(ctx context.Context) ([][]any, error)
	Cancel(ctx context.Context) error
}

// Runner adapts Athena query execution to the host plugin contract. One
// instance per data source; safe for concurrent use since all per-run state
// is local to a call.
type Runner struct {
	settings Settings
	toggles  settings.Toggles
	resolver *credentials.Resolver
	tmpDir   string

	// Seams for tests; production wiring is set by New.
	openCursor func(cfg aws.Config) Cursor
	download   func(ctx context.Context, cfg aws.Config, bucket, key, path string) error
	discover   func(ctx context.Context, cfg aws.Config) ([]catalog.Table, error)
}

// New validates the data source settings and builds a runner.
func New(s Settings, toggles settings.Toggles) (*Runner, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.SchemaName == "" {
		s.SchemaName = "default"
	}
	if s.WorkGroup == "" {
		s.WorkGroup = "primary"
	}
	if s.CostPerTB == 0 {
		s.CostPerTB = 5
	}

	r := &Runner{
		settings: s,
		toggles:  toggles,
		resolver: credentials.NewResolver(toggles.AssumeRole),
		tmpDir:   os.TempDir(),
	}
	r.openCursor = func(cfg aws.Config) Cursor {
		return engine.Connect(cfg, engine.Options{
			StagingDir:       s.S3StagingDir,
			Schema:           s.SchemaName,
			WorkGroup:        s.WorkGroup,
			EncryptionOption: s.EncryptionOption,
			KMSKey:           s.KMSKey,
			PollInterval:     s.PollInterval,
		}).Cursor()
	}
	r.download = func(ctx context.Context, cfg aws.Config, bucket, key, path string) error {
		return storage.DownloadToFile(ctx, s3.NewFromConfig(cfg), bucket, key, path)
	}
	r.discover = func(ctx context.Context, cfg aws.Config) ([]catalog.Table, error) {
		return catalog.Discover(ctx, catalog.NewClient(cfg))
	}
	return r, nil
}

// AnnotateQuery applies the process-level annotation toggles to sql.
func (r *Runner) AnnotateQuery(sql string, metadata map[string]any) string {
	return AnnotateQuery(r.toggles, sql, metadata)
}

// ConfigurationSchema describes the settings this runner accepts.
func (r *Runner) ConfigurationSchema() ConfigSchema {
	return ConfigurationSchema(r.toggles)
}

// RunQuery submits sql and retrieves the result from the engine's S3 export.
//
// A nil payload with a nil error means the export is not available yet. An
// empty JSON object with a nil error means the engine reported success but
// no result object exists on storage.
func (r *Runner) RunQuery(ctx context.Context, sql string, user *User) ([]byte, error) {
	cfg, cursor, err := r.execute(ctx, sql, user)
	if err != nil {
		return nil, err
	}
	return r.resultFromFile(ctx, cfg, cursor)
}

// RunQueryStreamed submits sql and reads rows directly through the driver
// cursor instead of the exported file. Used for small internal statements
// such as schema introspection.
func (r *Runner) RunQueryStreamed(ctx context.Context, sql string, user *User) ([]byte, error) {
	_, cursor, err := r.execute(ctx, sql, user)
	if err != nil {
		return nil, err
	}
	return r.resultFromCursor(ctx, cursor)
}

func (r *Runner) execute(ctx context.Context, sql string, user *User) (aws.Config, Cursor, error) {
	cfg, err := r.resolver.Resolve(ctx, r.credentialSettings(), sessionName(user))
	if err != nil {
		return aws.Config{}, nil, err
	}

	cursor := r.openCursor(cfg)
	if err := cursor.Execute(ctx, sql); err != nil {
		if ctx.Err() != nil {
			cancelQuery(ctx, cursor)
			return aws.Config{}, nil, ErrCancelled
		}
		return aws.Config{}, nil, err
	}
	return cfg, cursor, nil
}

func (r *Runner) resultFromFile(ctx context.Context, cfg aws.Config, cursor Cursor) ([]byte, error) {
	queryID := cursor.QueryID()
	if queryID == "" {
		// Placeholder only names the local cache file; engine-side
		// identity is unaffected.
		queryID = "temp_" + uuid.NewString()
		slog.Debug("Engine did not report a query id", "placeholder", queryID)
	}

	location := cursor.OutputLocation()
	if location == "" {
		slog.Debug("Output location not available", "query_id", queryID)
		return nil, nil
	}

	bucket, key, err := storage.ParseOutputLocation(location)
	if err != nil {
		return r.failQuery(ctx, cursor, err)
	}

	path := filepath.Join(r.tmpDir, queryID)
	defer storage.Remove(path)

	if err := r.download(ctx, cfg, bucket, key, path); err != nil {
		if ctx.Err() != nil {
			cancelQuery(ctx, cursor)
			return nil, ErrCancelled
		}
		if storage.IsNotFound(err) {
			slog.Info("Result object not exported yet", "query_id", queryID)
			return []byte("{}"), nil
		}
		return r.failQuery(ctx, cursor, err)
	}

	columns, err := r.resultColumns(ctx, cursor)
	if err != nil {
		return r.failQuery(ctx, cursor, err)
	}

	rows, err := readResultFile(path)
	if err != nil {
		return r.failQuery(ctx, cursor, err)
	}

	metadata := Metadata{AthenaQueryID: queryID}
	if scanned, ok := cursor.DataScannedInBytes(); ok {
		metadata.DataScanned = &scanned
	} else {
		slog.Debug("Engine did not report scanned bytes", "query_id", queryID)
	}

	return marshalResult(ResultData{Columns: columns, Rows: rows, Metadata: metadata})
}

func (r *Runner) resultFromCursor(ctx context.Context, cursor Cursor) ([]byte, error) {
	columns, err := r.resultColumns(ctx, cursor)
	if err != nil {
		return r.failQuery(ctx, cursor, err)
	}

	raw, err := cursor.FetchAll(ctx)
	if err != nil {
		return r.failQuery(ctx, cursor, err)
	}

	names := columnNames(columns)
	rows := make([]Row, 0, len(raw))
	for _, values := range raw {
		m := make(map[string]any, len(names))
		for i, name := range names {
			if i < len(values) {
				m[name] = values[i]
			}
		}
		rows = append(rows, Row{Order: names, Values: m})
	}

	metadata := Metadata{AthenaQueryID: cursor.QueryID()}
	if scanned, ok := cursor.DataScannedInBytes(); ok {
		metadata.DataScanned = &scanned
		cost := r.settings.CostPerTB * float64(scanned) * 1e-12
		metadata.QueryCost = &cost
	} else {
		slog.Debug("Engine did not report scanned bytes", "query_id", cursor.QueryID())
	}

	return marshalResult(ResultData{Columns: columns, Rows: rows, Metadata: metadata})
}

// failQuery stops the remote execution (best effort) and maps a context
// interruption to the dedicated cancellation error.
func (r *Runner) failQuery(ctx context.Context, cursor Cursor, err error) ([]byte, error) {
	cancelQuery(ctx, cursor)
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}
	return nil, err
}

func cancelQuery(ctx context.Context, cursor Cursor) {
	if cursor.QueryID() == "" {
		return
	}
	_ = cursor.Cancel(context.WithoutCancel(ctx))
}

func (r *Runner) resultColumns(ctx context.Context, cursor Cursor) ([]Column, error) {
	desc, err := cursor.Description(ctx)
	if err != nil {
		return nil, err
	}
	columns := make([]Column, 0, len(desc))
	for _, d := range desc {
		columns = append(columns, Column{Name: d.Name, Type: MapType(d.Type)})
	}
	return columns, nil
}

// GetSchema reports the catalog: Glue when enabled, otherwise the
// introspection query. A failing introspection query is a hard failure.
func (r *Runner) GetSchema(ctx context.Context) ([]catalog.Table, error) {
	if r.settings.Glue {
		cfg, err := r.resolver.Resolve(ctx, r.credentialSettings(), "")
		if err != nil {
			return nil, err
		}
		return r.discover(ctx, cfg)
	}

	data, err := r.RunQueryStreamed(ctx, schemaQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed getting schema: %w", err)
	}
	if data == nil {
		return nil, errors.New("failed getting schema: empty result")
	}

	var parsed struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed getting schema: %w", err)
	}
	return groupSchemaRows(parsed.Rows), nil
}

func groupSchemaRows(rows []map[string]any) []catalog.Table {
	index := make(map[string]int)
	var tables []catalog.Table
	for _, row := range rows {
		schema, _ := row["table_schema"].(string)
		name, _ := row["table_name"].(string)
		column, _ := row["column_name"].(string)

		full := schema + "." + name
		i, ok := index[full]
		if !ok {
			i = len(tables)
			index[full] = i
			tables = append(tables, catalog.Table{Name: full})
		}
		tables[i].Columns = append(tables[i].Columns, column)
	}
	return tables
}

func (r *Runner) credentialSettings() credentials.Settings {
	return credentials.Settings{
		Region:     r.settings.Region,
		AccessKey:  r.settings.AccessKey,
		SecretKey:  r.settings.SecretKey,
		IAMRole:    r.settings.IAMRole,
		ExternalID: r.settings.ExternalID,
	}
}

func sessionName(user *User) string {
	if user == nil {
		return ""
	}
	return user.Email
}

// readResultFile parses the downloaded CSV export. The header row supplies
// the row keys and their order.
func readResultFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse result file: %w", err)
	}
	if len(records) == 0 {
		return []Row{}, nil
	}

	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		values := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(record) {
				values[name] = record[i]
			}
		}
		rows = append(rows, Row{Order: header, Values: values})
	}
	return rows, nil
}

func columnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}

func marshalResult(data ResultData) ([]byte, error) {
	if data.Columns == nil {
		data.Columns = []Column{}
	}
	if data.Rows == nil {
		data.Rows = []Row{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("serialize result: %w", err)
	}
	return payload, nil
}
