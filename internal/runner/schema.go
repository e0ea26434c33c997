package runner

import "athena-runner/internal/settings"

// Property describes one configuration field.
type Property struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Default any    `json:"default,omitempty"`
}

// ConfigSchema is the JSON-schema-like description of accepted settings the
// host renders its connection form from.
type ConfigSchema struct {
	Type         string              `json:"type"`
	Properties   map[string]Property `json:"properties"`
	Required     []string            `json:"required"`
	ExtraOptions []string            `json:"extra_options"`
	Order        []string            `json:"order"`
	Secret       []string            `json:"secret"`
}

// ConfigurationSchema assembles the schema for the given toggles. The result
// is built fresh on every call; toggles never mutate shared state.
func ConfigurationSchema(toggles settings.Toggles) ConfigSchema {
	schema := ConfigSchema{
		Type: "object",
		Properties: map[string]Property{
			"region":         {Type: "string", Title: "AWS Region"},
			"s3_staging_dir": {Type: "string", Title: "S3 Staging (Query Results) Bucket Path"},
			"schema":         {Type: "string", Title: "Schema Name", Default: "default"},
			"glue":           {Type: "boolean", Title: "Use Glue Data Catalog"},
			"work_group":     {Type: "string", Title: "Athena Work Group", Default: "primary"},
			"cost_per_tb":    {Type: "number", Title: "Athena cost per Tb scanned (USD)", Default: 5},
		},
		Required:     []string{"region", "s3_staging_dir"},
		ExtraOptions: []string{"glue", "cost_per_tb"},
		Order:        []string{"region", "s3_staging_dir", "schema", "work_group", "cost_per_tb"},
		Secret:       []string{},
	}

	if toggles.ShowExtraSettings {
		schema.Properties["encryption_option"] = Property{Type: "string", Title: "Encryption Option"}
		schema.Properties["kms_key"] = Property{Type: "string", Title: "KMS Key"}
		schema.ExtraOptions = append(schema.ExtraOptions, "encryption_option", "kms_key")
	}

	if toggles.AssumeRole {
		schema.Properties["iam_role"] = Property{Type: "string", Title: "IAM role to assume"}
		schema.Properties["external_id"] = Property{Type: "string", Title: "External ID to be used while STS assume role"}
		schema.Order = insertAt(schema.Order, 1, "iam_role", "external_id")
	} else {
		schema.Properties["aws_access_key"] = Property{Type: "string", Title: "AWS Access Key"}
		schema.Properties["aws_secret_key"] = Property{Type: "string", Title: "AWS Secret Key"}
		schema.Order = insertAt(schema.Order, 1, "aws_access_key", "aws_secret_key")
		schema.Secret = []string{"aws_secret_key"}

		if !toggles.OptionalCredentials {
			schema.Required = append(schema.Required, "aws_access_key", "aws_secret_key")
		}
	}

	return schema
}

func insertAt(list []string, index int, items ...string) []string {
	out := make([]string, 0, len(list)+len(items))
	out = append(out, list[:index]...)
	out = append(out, items...)
	out = append(out, list[index:]...)
	return out
}
