package settings

import (
	"os"
	"strconv"
	"time"
)

// Toggles are process-level switches controlling adapter behavior.
// They are read once at startup and passed into the runner constructor;
// nothing reads the environment after Load returns.
type Toggles struct {
	// AnnotateQuery enables prefixing submitted SQL with host metadata.
	AnnotateQuery bool
	// AnnotateQueryForDML uses a single-line comment instead of a block
	// comment, which Athena requires for data-modification statements.
	AnnotateQueryForDML bool
	// ShowExtraSettings exposes encryption fields in the configuration schema.
	ShowExtraSettings bool
	// AssumeRole switches credential resolution from static keys to STS.
	AssumeRole bool
	// OptionalCredentials makes static keys non-mandatory when AssumeRole is off.
	OptionalCredentials bool
}

// DataSource is the Athena connection configuration for this deployment.
// The field set mirrors the configuration schema served to hosts.
type DataSource struct {
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
}

// Config holds the service configuration loaded from environment variables.
type Config struct {
	// AppEnv is the running environment (development/production).
	AppEnv string
	// ServerPort is the HTTP port to listen on.
	ServerPort string
	// MySQLDSN is the connection string for the run-history database.
	MySQLDSN string
	// APISecret is the shared secret for HMAC-SHA256 request signing.
	APISecret string
	// JWTSecret verifies bearer tokens carrying the acting user's identity.
	JWTSecret string
	// AllowedOrigins is a list of CORS allowed domains.
	AllowedOrigins []string
	// WorkerCount is the number of concurrent run workers.
	WorkerCount int
	// MaxEngineConcurrency caps in-flight Athena queries across all workers.
	MaxEngineConcurrency int64
	// RunTimeout is the maximum duration for a single query run.
	RunTimeout time.Duration
	// PollInterval is the delay between query-state polls against the engine.
	PollInterval time.Duration

	DataSource DataSource
	Toggles    Toggles
}

// Load builds the configuration from the environment.
func Load() *Config {
	return &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		ServerPort:           getEnv("SERVER_PORT", "8080"),
		MySQLDSN:             getEnv("MYSQL_DSN", ""),
		APISecret:            getEnv("API_SECRET", ""),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		AllowedOrigins:       getEnvSlice("ALLOWED_ORIGINS", []string{"*"}),
		WorkerCount:          getEnvInt("WORKER_COUNT", 5),
		MaxEngineConcurrency: int64(getEnvInt("MAX_ENGINE_CONCURRENCY", 3)),
		RunTimeout:           getEnvDuration("RUN_TIMEOUT", 30*time.Minute),
		PollInterval:         getEnvDuration("POLL_INTERVAL", time.Second),
		DataSource:           LoadDataSource(),
		Toggles:              LoadToggles(),
	}
}

// LoadDataSource reads the Athena connection settings.
func LoadDataSource() DataSource {
	return DataSource{
		Region:           getEnv("AWS_REGION", ""),
		AccessKey:        getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey:        getEnv("AWS_SECRET_ACCESS_KEY", ""),
		IAMRole:          getEnv("ATHENA_IAM_ROLE", ""),
		ExternalID:       getEnv("ATHENA_EXTERNAL_ID", ""),
		S3StagingDir:     getEnv("ATHENA_S3_STAGING_DIR", ""),
		SchemaName:       getEnv("ATHENA_SCHEMA", "default"),
		WorkGroup:        getEnv("ATHENA_WORK_GROUP", "primary"),
		EncryptionOption: getEnv("ATHENA_ENCRYPTION_OPTION", ""),
		KMSKey:           getEnv("ATHENA_KMS_KEY", ""),
		Glue:             getEnvBool("ATHENA_GLUE", false),
		CostPerTB:        getEnvFloat("ATHENA_COST_PER_TB", 5),
	}
}

// LoadToggles reads the ATHENA_* switches with their historical defaults.
func LoadToggles() Toggles {
	return Toggles{
		AnnotateQuery:       getEnvBool("ATHENA_ANNOTATE_QUERY", true),
		AnnotateQueryForDML: getEnvBool("ATHENA_ANNOTATE_QUERY_FOR_DML", true),
		ShowExtraSettings:   getEnvBool("ATHENA_SHOW_EXTRA_SETTINGS", true),
		AssumeRole:          getEnvBool("ATHENA_ASSUME_ROLE", false),
		OptionalCredentials: getEnvBool("ATHENA_OPTIONAL_CREDENTIALS", true),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		var result []string
		start := 0
		for i := 0; i < len(value); i++ {
			if value[i] == ',' {
				result = append(result, value[start:i])
				start = i + 1
			}
		}
		result = append(result, value[start:])
		return result
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
