package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"athena-runner/internal/catalog"
	"athena-runner/internal/exporter"
	"athena-runner/internal/runner"
	"athena-runner/internal/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now
	},
}

type runnerService interface {
	AnnotateQuery(sql string, metadata map[string]any) string
	ConfigurationSchema() runner.ConfigSchema
	GetSchema(ctx context.Context) ([]catalog.Table, error)
}

type historyStore interface {
	CreateRun(run *Run) error
	GetRun(id string) (*Run, error)
}

type jobQueue interface {
	Submit(job *QueryJob) bool
	CancelRun(id string) bool
}

type Handler struct {
	Runner     runnerService
	Store      historyStore
	Pool       jobQueue
	Hub        *Hub
	APISecret  string
	JWTSecret  string
	RunTimeout time.Duration
}

func NewHandler(r runnerService, s historyStore, p jobQueue, h *Hub, apiSecret, jwtSecret string, runTimeout time.Duration) *Handler {
	return &Handler{
		Runner:     r,
		Store:      s,
		Pool:       p,
		Hub:        h,
		APISecret:  apiSecret,
		JWTSecret:  jwtSecret,
		RunTimeout: runTimeout,
	}
}

type SubmitRequest struct {
	Query string `json:"query"`
}

// HandleSubmitQuery accepts a signed query submission, records the run and
// queues it for execution. Responds 202 with the run id.
func (h *Handler) HandleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if err := security.VerifyHMAC(
		h.APISecret,
		r.Method,
		r.URL.Path,
		string(body),
		r.Header.Get("X-Timestamp"),
		r.Header.Get("X-Signature"),
	); err != nil {
		slog.Warn("Rejected query submission", "error", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Query == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	var user *runner.User
	email, err := security.UserEmailFromAuthHeader(h.JWTSecret, r.Header.Get("Authorization"))
	switch {
	case err == nil:
		user = &runner.User{Email: email}
	case errors.Is(err, security.ErrNoToken):
		// Anonymous submission; the assume-role session falls back to a
		// generic name.
	default:
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	job := NewQueryJob(req.Query, user, h.RunTimeout)
	job.Query = h.Runner.AnnotateQuery(req.Query, map[string]any{
		"query_id": job.ID,
		"username": email,
	})

	run := &Run{
		ID:          job.ID,
		Query:       job.Query,
		UserEmail:   email,
		Status:      StatusPending,
		SubmittedAt: job.Submitted,
	}
	if err := h.Store.CreateRun(run); err != nil {
		slog.Error("Failed to record run", "error", err)
		http.Error(w, "Failed to record run", http.StatusInternalServerError)
		return
	}

	if !h.Pool.Submit(job) {
		job.cancel()
		http.Error(w, "Queue full", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": job.ID, "status": string(StatusPending)})
}

func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.GetRun(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to load run", "error", err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(run)
}

func (h *Handler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.Pool.CancelRun(id) {
		http.Error(w, "Run is not in flight", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "cancelling"})
}

// HandleDownload re-encodes a completed run's result payload in the requested
// format (csv, json, xlsx or pdf).
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	run, err := h.Store.GetRun(id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to load run", "error", err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}
	if run.Status != StatusCompleted || len(run.Payload) == 0 {
		http.Error(w, "Run has no result to download", http.StatusConflict)
		return
	}

	result, err := runner.ParseResult(run.Payload)
	if err != nil {
		slog.Error("Stored payload is not parseable", "run_id", id, "error", err)
		http.Error(w, "Stored result is corrupt", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "result_"+id+"."+format))

	encoder, err := exporter.NewEncoder(format, w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	export, err := exporter.EncodeResult(result, encoder)
	if err != nil {
		slog.Error("Result encoding failed", "run_id", id, "format", format, "error", err)
		return
	}
	slog.Info("Result downloaded", "run_id", id, "format", format, "rows", export.RowsProcessed)
}

func contentTypeFor(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		return "application/pdf"
	default:
		return "text/csv"
	}
}

// HandleSchema returns the source's tables and columns, either from the Glue
// Data Catalog or by querying information_schema.
func (h *Handler) HandleSchema(w http.ResponseWriter, r *http.Request) {
	tables, err := h.Runner.GetSchema(r.Context())
	if err != nil {
		slog.Error("Schema discovery failed", "error", err)
		http.Error(w, "Schema discovery failed", http.StatusBadGateway)
		return
	}

	json.NewEncoder(w).Encode(map[string][]catalog.Table{"schema": tables})
}

func (h *Handler) HandleConfigurationSchema(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.Runner.ConfigurationSchema())
}

// HandleDashboard upgrades the connection and streams run events until the
// client goes away.
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Dashboard upgrade failed", "error", err)
		return
	}

	h.Hub.Register(conn)

	for {
		if _, _, err := conn.NextReader(); err != nil {
			h.Hub.Unregister(conn)
			break
		}
	}
}
