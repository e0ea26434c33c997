package catalog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
)

// Table is one discovered table: fully-qualified name plus column names in
// catalog order, partition keys last.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// API is the Glue subset used for discovery; satisfied by *glue.Client.
type API interface {
	glue.GetDatabasesAPIClient
	glue.GetTablesAPIClient
}

// NewClient builds a Glue client from resolved credentials.
func NewClient(cfg aws.Config) *glue.Client {
	return glue.NewFromConfig(cfg)
}

// Discover walks every database and table in the Glue Data Catalog.
// Duplicate fully-qualified names keep their first occurrence.
func Discover(ctx context.Context, client API) ([]Table, error) {
	seen := make(map[string]bool)
	var tables []Table

	databases := glue.NewGetDatabasesPaginator(client, &glue.GetDatabasesInput{})
	for databases.HasMorePages() {
		dbPage, err := databases.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list databases: %w", err)
		}
		for _, db := range dbPage.DatabaseList {
			dbName := aws.ToString(db.Name)

			pager := glue.NewGetTablesPaginator(client, &glue.GetTablesInput{
				DatabaseName: aws.String(dbName),
			})
			for pager.HasMorePages() {
				page, err := pager.NextPage(ctx)
				if err != nil {
					return nil, fmt.Errorf("list tables in %s: %w", dbName, err)
				}
				for _, table := range page.TableList {
					fullName := fmt.Sprintf("%s.%s", dbName, aws.ToString(table.Name))
					if seen[fullName] {
						continue
					}
					seen[fullName] = true

					var columns []string
					if table.StorageDescriptor != nil {
						for _, col := range table.StorageDescriptor.Columns {
							columns = append(columns, aws.ToString(col.Name))
						}
					}
					for _, partition := range table.PartitionKeys {
						columns = append(columns, aws.ToString(partition.Name))
					}
					tables = append(tables, Table{Name: fullName, Columns: columns})
				}
			}
		}
	}
	return tables, nil
}
