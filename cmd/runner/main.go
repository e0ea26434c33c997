package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"athena-runner/internal/runner"
	"athena-runner/internal/service"
	"athena-runner/internal/settings"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 0. Load Config
	cfg := settings.Load()

	slog.Info("Starting Athena Runner", "env", cfg.AppEnv)

	// 1. Build the query runner from the data source settings
	ds := cfg.DataSource
	r, err := runner.New(runner.Settings{
		Region:           ds.Region,
		AccessKey:        ds.AccessKey,
		SecretKey:        ds.SecretKey,
		IAMRole:          ds.IAMRole,
		ExternalID:       ds.ExternalID,
		S3StagingDir:     ds.S3StagingDir,
		SchemaName:       ds.SchemaName,
		WorkGroup:        ds.WorkGroup,
		EncryptionOption: ds.EncryptionOption,
		KMSKey:           ds.KMSKey,
		Glue:             ds.Glue,
		CostPerTB:        ds.CostPerTB,
		PollInterval:     cfg.PollInterval,
	}, cfg.Toggles)
	if err != nil {
		slog.Error("Invalid data source configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Store (Database)
	if cfg.MySQLDSN == "" {
		slog.Error("MYSQL_DSN not set")
		os.Exit(1)
	}

	st, err := service.NewStore(cfg.MySQLDSN)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}

	// 3. Run Migration
	if err := st.InitSchema(); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database Connected & Schema Initialized")

	// 4. Initialize Hub (WebSocket Manager) and Worker Pool
	hub := service.NewHub()
	pool := service.NewPool(cfg.WorkerCount, cfg.MaxEngineConcurrency, r, st, hub)
	pool.Start()
	defer pool.Stop()

	// 5. Initialize Handlers
	handler := service.NewHandler(r, st, pool, hub, cfg.APISecret, cfg.JWTSecret, cfg.RunTimeout)

	// 6. Setup Routes & Middleware
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", handler.HandleSubmitQuery)
	mux.HandleFunc("GET /query/{id}", handler.HandleGetRun)
	mux.HandleFunc("POST /query/{id}/cancel", handler.HandleCancelRun)
	mux.HandleFunc("GET /query/{id}/download", handler.HandleDownload)
	mux.HandleFunc("GET /schema", handler.HandleSchema)
	mux.HandleFunc("GET /configuration-schema", handler.HandleConfigurationSchema)
	mux.HandleFunc("/dashboard/stream", handler.HandleDashboard)

	// Wrap with Middleware
	finalHandler := service.CORS(cfg.AllowedOrigins, cfg.AppEnv)(mux)

	slog.Info("Runner listening", "port", cfg.ServerPort)
	if err := http.ListenAndServe(":"+cfg.ServerPort, finalHandler); err != nil {
		slog.Error("Server failed", "error", err)
	}
}
