package runner

import (
	"bytes"
	"encoding/json"
	"math"
)

// Semantic types the host application understands.
const (
	TypeBoolean  = "boolean"
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeString   = "string"
	TypeDatetime = "datetime"
	TypeDate     = "date"
)

// typeMappings translates Athena column type names into host semantic types.
// Names missing from the table map to "" and serialize as null; an unknown
// type is never an error.
var typeMappings = map[string]string{
	"boolean":   TypeBoolean,
	"tinyint":   TypeInteger,
	"smallint":  TypeInteger,
	"integer":   TypeInteger,
	"bigint":    TypeInteger,
	"double":    TypeFloat,
	"decimal":   TypeFloat,
	"varchar":   TypeString,
	"varbinary": TypeString,
	"array":     TypeString,
	"map":       TypeString,
	"row":       TypeString,
	"timestamp": TypeDatetime,
	"date":      TypeDate,
}

// MapType returns the host semantic type for an engine type name, or ""
// when the engine type is not recognized.
func MapType(engineType string) string {
	return typeMappings[engineType]
}

// User identifies the person a query runs on behalf of.
type User struct {
	Email string
}

// Column is one result column descriptor.
type Column struct {
	Name string
	Type string
}

// MarshalJSON emits the type as null when no semantic type is known.
func (c Column) MarshalJSON() ([]byte, error) {
	var out struct {
		Name string  `json:"name"`
		Type *string `json:"type"`
	}
	out.Name = c.Name
	if c.Type != "" {
		out.Type = &c.Type
	}
	return json.Marshal(out)
}

// Row is one result row. Values are keyed by column name; order carries the
// column ordering so serialized objects list keys in descriptor order.
type Row struct {
	Order  []string
	Values map[string]any
}

// MarshalJSON writes the row as a JSON object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.Order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(sanitizeValue(r.Values[name]))
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores the row values. Key ordering is not recoverable
// from JSON; consumers re-order through the column descriptors.
func (r *Row) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.Values)
}

// sanitizeValue replaces non-finite numbers with null; the host's JSON
// parser rejects NaN and infinities.
func sanitizeValue(v any) any {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	}
	return v
}

// Metadata is the result side-channel: scanned bytes, the engine-side query
// identifier, and the computed scan cost when the byte count is known.
type Metadata struct {
	DataScanned   *int64   `json:"data_scanned"`
	AthenaQueryID string   `json:"athena_query_id"`
	QueryCost     *float64 `json:"query_cost,omitempty"`
}

// ResultData is the normalized tabular payload returned to the host.
type ResultData struct {
	Columns  []Column `json:"columns"`
	Rows     []Row    `json:"rows"`
	Metadata Metadata `json:"metadata"`
}

// ParseResult decodes a serialized result payload.
func ParseResult(data []byte) (ResultData, error) {
	var result ResultData
	if err := json.Unmarshal(data, &result); err != nil {
		return ResultData{}, err
	}
	return result, nil
}
