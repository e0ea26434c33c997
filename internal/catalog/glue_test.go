package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGlue struct {
	databases map[string][]types.Database // keyed by page token, "" is the first page
	tables    map[string][]types.Table    // keyed by database name
	tablesErr error
}

func (f *fakeGlue) GetDatabases(_ context.Context, params *glue.GetDatabasesInput, _ ...func(*glue.Options)) (*glue.GetDatabasesOutput, error) {
	token := aws.ToString(params.NextToken)
	out := &glue.GetDatabasesOutput{DatabaseList: f.databases[token]}
	if token == "" && len(f.databases) > 1 {
		out.NextToken = aws.String("page2")
	}
	return out, nil
}

func (f *fakeGlue) GetTables(_ context.Context, params *glue.GetTablesInput, _ ...func(*glue.Options)) (*glue.GetTablesOutput, error) {
	if f.tablesErr != nil {
		return nil, f.tablesErr
	}
	return &glue.GetTablesOutput{TableList: f.tables[aws.ToString(params.DatabaseName)]}, nil
}

func glueTable(name string, columns []string, partitions []string) types.Table {
	t := types.Table{Name: aws.String(name), StorageDescriptor: &types.StorageDescriptor{}}
	for _, c := range columns {
		t.StorageDescriptor.Columns = append(t.StorageDescriptor.Columns, types.Column{Name: aws.String(c)})
	}
	for _, p := range partitions {
		t.PartitionKeys = append(t.PartitionKeys, types.Column{Name: aws.String(p)})
	}
	return t
}

func TestDiscover(t *testing.T) {
	client := &fakeGlue{
		databases: map[string][]types.Database{
			"":      {{Name: aws.String("sales")}},
			"page2": {{Name: aws.String("logs")}},
		},
		tables: map[string][]types.Table{
			"sales": {glueTable("orders", []string{"id", "amount"}, []string{"dt"})},
			"logs":  {glueTable("access", []string{"ip"}, nil)},
		},
	}

	tables, err := Discover(context.Background(), client)
	require.NoError(t, err)

	require.Len(t, tables, 2)
	assert.Equal(t, Table{Name: "sales.orders", Columns: []string{"id", "amount", "dt"}}, tables[0])
	assert.Equal(t, Table{Name: "logs.access", Columns: []string{"ip"}}, tables[1])
}

func TestDiscoverFirstOccurrenceWins(t *testing.T) {
	client := &fakeGlue{
		databases: map[string][]types.Database{
			"": {{Name: aws.String("sales")}},
		},
		tables: map[string][]types.Table{
			"sales": {
				glueTable("orders", []string{"id"}, nil),
				glueTable("orders", []string{"other"}, nil),
			},
		},
	}

	tables, err := Discover(context.Background(), client)
	require.NoError(t, err)

	require.Len(t, tables, 1)
	assert.Equal(t, []string{"id"}, tables[0].Columns)
}

func TestDiscoverPropagatesErrors(t *testing.T) {
	client := &fakeGlue{
		databases: map[string][]types.Database{
			"": {{Name: aws.String("sales")}},
		},
		tablesErr: errors.New("access denied"),
	}

	_, err := Discover(context.Background(), client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sales")
}
