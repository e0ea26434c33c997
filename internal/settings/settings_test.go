package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadTogglesDefaults(t *testing.T) {
	toggles := LoadToggles()

	assert.True(t, toggles.AnnotateQuery)
	assert.True(t, toggles.AnnotateQueryForDML)
	assert.True(t, toggles.ShowExtraSettings)
	assert.False(t, toggles.AssumeRole)
	assert.True(t, toggles.OptionalCredentials)
}

func TestLoadTogglesOverrides(t *testing.T) {
	t.Setenv("ATHENA_ANNOTATE_QUERY", "false")
	t.Setenv("ATHENA_ASSUME_ROLE", "true")
	t.Setenv("ATHENA_OPTIONAL_CREDENTIALS", "false")

	toggles := LoadToggles()

	assert.False(t, toggles.AnnotateQuery)
	assert.True(t, toggles.AssumeRole)
	assert.False(t, toggles.OptionalCredentials)
}

func TestLoadTogglesIgnoresGarbage(t *testing.T) {
	t.Setenv("ATHENA_SHOW_EXTRA_SETTINGS", "not-a-bool")

	assert.True(t, LoadToggles().ShowExtraSettings)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("RUN_TIMEOUT", "5m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 5*time.Minute, cfg.RunTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadDataSource(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("ATHENA_S3_STAGING_DIR", "s3://staging/results/")
	t.Setenv("ATHENA_GLUE", "true")
	t.Setenv("ATHENA_COST_PER_TB", "6.5")

	ds := LoadDataSource()

	assert.Equal(t, "eu-west-1", ds.Region)
	assert.Equal(t, "s3://staging/results/", ds.S3StagingDir)
	assert.Equal(t, "default", ds.SchemaName)
	assert.Equal(t, "primary", ds.WorkGroup)
	assert.True(t, ds.Glue)
	assert.Equal(t, 6.5, ds.CostPerTB)
}
