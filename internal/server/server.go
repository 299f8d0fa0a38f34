// Package server exposes the import pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/mapping"
	"github.com/raphaelgruber/kbstudio/internal/metrics"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/raphaelgruber/kbstudio/internal/service"
	"github.com/raphaelgruber/kbstudio/internal/spreadsheet"
	"github.com/rs/cors"
)

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 32 << 20

// eventInterval is how often progress snapshots are pushed over websockets.
const eventInterval = 250 * time.Millisecond

// Deps are the collaborators the HTTP API needs.
type Deps struct {
	Jobs      importer.JobStore
	Stager    *importer.Stager
	Manager   *service.JobManager
	Collector *metrics.Collector // Optional; backs /api/stats
	Metrics   http.Handler       // Optional; mounted at /metrics
	Logger    *slog.Logger

	MaxUploadBytes int64
}

// Server routes HTTP requests to the import pipeline.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a server over deps.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		deps:   deps,
		logger: deps.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is permissive for every route
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the routed handler wrapped with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /functions/v1/process-knowledge-import", s.handleProcessImport)
	mux.HandleFunc("OPTIONS /functions/v1/process-knowledge-import", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/imports", s.handleUpload)
	mux.HandleFunc("GET /api/imports", s.handleListImports)
	mux.HandleFunc("GET /api/imports/{id}", s.handleGetImport)
	mux.HandleFunc("GET /api/imports/{id}/rows", s.handleListRows)
	mux.HandleFunc("POST /api/imports/{id}/run", s.handleRun)
	mux.HandleFunc("POST /api/imports/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/imports/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /api/imports/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"*"},
		OptionsSuccessStatus: http.StatusOK,
	})
	return LoggingMiddleware(s.logger, c.Handler(mux))
}

// processRequest is the edge-function request body.
type processRequest struct {
	ImportID string `json:"importId"`
}

// ProcessResponse is the edge-function response body.
type ProcessResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Details *ProcessDetails `json:"details,omitempty"`
}

// ProcessDetails carries the batch counters.
type ProcessDetails struct {
	ProcessedCount int      `json:"processedCount"`
	ErrorCount     int      `json:"errorCount"`
	Errors         []string `json:"errors"`
}

func (s *Server) handleProcessImport(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ProcessResponse{Message: "invalid request body: " + err.Error()})
		return
	}
	if req.ImportID == "" {
		writeJSON(w, http.StatusBadRequest, ProcessResponse{Message: "importId is required"})
		return
	}

	summary, err := s.deps.Manager.RunSync(r.Context(), req.ImportID)
	if err != nil {
		status, msg := classify(err)
		resp := ProcessResponse{Message: msg}
		if summary != nil {
			resp.Details = details(summary)
		}
		writeJSON(w, status, resp)
		return
	}

	msg := fmt.Sprintf("Processed %d rows with %d errors", summary.ProcessedCount, summary.ErrorCount)
	if summary.Skipped {
		msg = "No pending rows to process"
	}
	writeJSON(w, http.StatusOK, ProcessResponse{Success: true, Message: msg, Details: details(summary)})
}

func details(s *importer.Summary) *ProcessDetails {
	errs := s.Errors
	if errs == nil {
		errs = []string{}
	}
	return &ProcessDetails{ProcessedCount: s.ProcessedCount, ErrorCount: s.ErrorCount, Errors: errs}
}

// classify maps pipeline errors to HTTP status codes.
func classify(err error) (int, string) {
	var cfgErr *importer.ConfigError
	var missing *mapping.MissingHeadersError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrAlreadyRunning):
		return http.StatusConflict, err.Error()
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &missing),
		errors.Is(err, spreadsheet.ErrUnsupportedFormat),
		errors.Is(err, spreadsheet.ErrNoData):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, importer.ErrInterrupted):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// errorResponse is the REST error body.
type errorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, msg := classify(err)
	resp := errorResponse{Error: msg}
	var missing *mapping.MissingHeadersError
	if errors.As(err, &missing) {
		resp.Missing = missing.Missing
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", "error", err)
	}
	writeJSON(w, status, resp)
}

// uploadResponse is returned by POST /api/imports.
type uploadResponse struct {
	Job *models.ImportJob `json:"job"`
	Run *service.Run      `json:"run,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.deps.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form: " + err.Error()})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file is required"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read upload: " + err.Error()})
		return
	}

	job, err := s.deps.Stager.Stage(r.Context(), importer.UploadInput{
		Filename:     header.Filename,
		TargetEntity: r.FormValue("target_entity"),
		SheetName:    r.FormValue("sheet"),
		Content:      content,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := uploadResponse{Job: job}
	if process, _ := strconv.ParseBool(r.FormValue("process")); process {
		run, err := s.deps.Manager.Start(r.Context(), job.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Run = &run
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	jobs, err := s.deps.Jobs.ListImportJobs(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.ImportJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// importResponse is a job with its latest tracked run.
type importResponse struct {
	Job *models.ImportJob `json:"job"`
	Run *service.Run      `json:"run,omitempty"`
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	resp, err := s.importState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) importState(ctx context.Context, id string) (*importResponse, error) {
	job, err := s.deps.Jobs.GetImportJob(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("get import %s: %w", id, importer.ErrJobNotFound)
		}
		return nil, err
	}
	resp := &importResponse{Job: job}
	if run, ok := s.deps.Manager.Get(id); ok {
		resp.Run = &run
	}
	return resp, nil
}

func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status := models.RowStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.RowStatusPending, models.RowStatusProcessed, models.RowStatusFailed:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown row status %q", status)})
		return
	}

	if _, err := s.deps.Jobs.GetImportJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := s.deps.Jobs.ListStagingRows(r.Context(), id, status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []models.StagingRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Jobs.GetImportJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	run, err := s.deps.Manager.Start(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// handleCancel stops an active run. Rows already attempted keep their state;
// the rest stay pending for the next run.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Jobs.GetImportJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	if !s.deps.Manager.Cancel(id) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no active run for import " + id})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"importId": id, "status": "cancelling"})
}

// ProgressEvent is one progress snapshot for an import.
type ProgressEvent struct {
	ImportID  string           `json:"importId"`
	JobStatus models.JobStatus `json:"jobStatus"`
	Run       *service.Run     `json:"run,omitempty"`
	Done      bool             `json:"done"`
}

func (s *Server) progress(ctx context.Context, id string) (*ProgressEvent, error) {
	state, err := s.importState(ctx, id)
	if err != nil {
		return nil, err
	}
	ev := &ProgressEvent{ImportID: id, JobStatus: state.Job.Status, Run: state.Run}
	if state.Run != nil {
		ev.Done = state.Run.Terminal()
	} else {
		ev.Done = state.Job.Status != models.JobStatusProcessing
	}
	return ev, nil
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	ev, err := s.progress(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleEvents streams progress snapshots over a websocket until the run finishes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// Resolve the import before upgrading so unknown IDs get a plain 404.
	if _, err := s.progress(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "import_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so close messages are noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventInterval)
	defer ticker.Stop()

	var last []byte
	for {
		ev, err := s.progress(ctx, id)
		if err != nil {
			s.logger.Warn("progress lookup failed", "import_id", id, "error", err)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "progress unavailable"))
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if string(payload) != string(last) {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			last = payload
		}
		if ev.Done {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Collector == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Collector.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
