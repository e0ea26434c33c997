package runner

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapType(t *testing.T) {
	tests := []struct {
		engineType string
		want       string
	}{
		{"boolean", TypeBoolean},
		{"tinyint", TypeInteger},
		{"smallint", TypeInteger},
		{"integer", TypeInteger},
		{"bigint", TypeInteger},
		{"double", TypeFloat},
		{"decimal", TypeFloat},
		{"varchar", TypeString},
		{"varbinary", TypeString},
		{"array", TypeString},
		{"map", TypeString},
		{"row", TypeString},
		{"timestamp", TypeDatetime},
		{"date", TypeDate},
		{"geometry", ""},
		{"ipaddress", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.engineType, func(t *testing.T) {
			assert.Equal(t, tt.want, MapType(tt.engineType))
		})
	}
}

func TestColumnMarshalUnknownTypeIsNull(t *testing.T) {
	data, err := json.Marshal(Column{Name: "geo", Type: ""})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"geo","type":null}`, string(data))

	data, err = json.Marshal(Column{Name: "id", Type: TypeInteger})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"id","type":"integer"}`, string(data))
}

func TestRowMarshalKeepsColumnOrder(t *testing.T) {
	row := Row{
		Order:  []string{"z", "a", "m"},
		Values: map[string]any{"a": "1", "m": "2", "z": "3"},
	}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"3","a":"1","m":"2"}`, string(data))
}

func TestRowMarshalNonFiniteValuesBecomeNull(t *testing.T) {
	row := Row{
		Order: []string{"nan", "inf", "neg", "ok"},
		Values: map[string]any{
			"nan": math.NaN(),
			"inf": math.Inf(1),
			"neg": math.Inf(-1),
			"ok":  1.5,
		},
	}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"nan":null,"inf":null,"neg":null,"ok":1.5}`, string(data))
}

func TestResultDataRoundTrip(t *testing.T) {
	result := ResultData{
		Columns: []Column{{Name: "a", Type: TypeInteger}, {Name: "b", Type: TypeString}},
		Rows: []Row{
			{Order: []string{"a", "b"}, Values: map[string]any{"a": "1", "b": "x"}},
			{Order: []string{"a", "b"}, Values: map[string]any{"a": "2", "b": "y"}},
			{Order: []string{"a", "b"}, Values: map[string]any{"a": "3", "b": "z"}},
		},
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var parsed struct {
		Columns []struct {
			Name string `json:"name"`
		} `json:"columns"`
		Rows []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Len(t, parsed.Rows, 3)
	for _, row := range parsed.Rows {
		assert.Len(t, row, len(parsed.Columns))
	}
}
