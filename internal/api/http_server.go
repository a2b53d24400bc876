package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ridesched/internal/config"
	"ridesched/internal/export"
	"ridesched/internal/metrics"
	"ridesched/internal/models"
	"ridesched/internal/queue"
	"ridesched/internal/scheduler"
	"ridesched/internal/trigger"
	"ridesched/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const exportDeadLetterLimit = 500

// QueueService is the queue surface exposed over HTTP.
type QueueService interface {
	Enqueue(ctx context.Context, op models.Operation) (models.QueueItem, error)
	ProcessDue(ctx context.Context) (worker.RunResult, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Snapshot(ctx context.Context) (worker.Snapshot, error)
	DeadLetters(ctx context.Context, limit int) ([]models.QueueItem, error)
}

// TriggerInstaller installs host triggers on behalf of a user.
type TriggerInstaller interface {
	Install(ctx context.Context, userEmail string, types ...trigger.Type) (trigger.InstallationSummary, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HTTPServer exposes the operator API for the retry queue.
type HTTPServer struct {
	cfg      config.APIConfig
	queue    QueueService
	triggers TriggerInstaller
	checks   map[string]HealthCheck
	server   *http.Server
	auth     *HTTPAuth
	now      func() time.Time
	logger   zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc QueueService, triggers TriggerInstaller, checks map[string]HealthCheck, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		queue:    svc,
		triggers: triggers,
		checks:   checks,
		auth:     NewHTTPAuth(cfg),
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}
	if !cfg.Auth.Enabled && triggers != nil {
		srv.logger.Warn().Msg("api auth is disabled: trigger installation trusts the userEmail in the request body")
	}

	mux := http.NewServeMux()
	srv.handle(mux, "GET /api/v1/queue", srv.handleListQueue)
	srv.handle(mux, "POST /api/v1/queue", srv.handleEnqueue)
	srv.handle(mux, "DELETE /api/v1/queue/{id}", srv.handleCancel)
	srv.handle(mux, "GET /api/v1/queue/stats", srv.handleStats)
	srv.handle(mux, "GET /api/v1/queue/export", srv.handleExport)
	srv.handle(mux, "GET /api/v1/queue/dead-letters", srv.handleDeadLetters)
	srv.handle(mux, "POST /api/v1/queue/run", srv.handleRun)
	srv.handle(mux, "POST /api/v1/triggers/install", srv.handleInstallTriggers)
	srv.handle(mux, "GET /healthz", srv.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		fn(w, r)
	})
}

func (s *HTTPServer) handleListQueue(w http.ResponseWriter, r *http.Request) {
	snap, err := s.queue.Snapshot(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.queue.Snapshot(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Statistics)
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var op models.Operation
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&op); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if op.UserEmail == "" {
		if client, ok := clientFromContext(r.Context()); ok {
			op.UserEmail = client.Email
		}
	}

	item, err := s.queue.Enqueue(r.Context(), op)
	if err != nil {
		s.queueError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	removed, err := s.queue.Cancel(r.Context(), id)
	if err != nil {
		s.queueError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
}

func (s *HTTPServer) handleRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.queue.ProcessDue(r.Context())
	if err != nil {
		s.queueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := s.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.queue.Snapshot(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	dead, err := s.queue.DeadLetters(r.Context(), exportDeadLetterLimit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("export without dead letters")
		dead = nil
	}

	now := s.now()
	var buf bytes.Buffer
	report := export.Report{GeneratedAt: now, Items: snap.Items, Statistics: snap.Statistics, DeadLetters: dead}
	if err := export.WriteQueue(&buf, report); err != nil {
		s.internalError(w, err)
		return
	}

	filename := fmt.Sprintf("retry_queue_%s.xlsx", now.UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleInstallTriggers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Types     []trigger.Type `json:"types"`
		UserEmail string         `json:"userEmail"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	email := body.UserEmail
	if client, ok := clientFromContext(r.Context()); ok {
		email = client.Email
	}

	summary, err := s.triggers.Install(r.Context(), email, body.Types...)
	if err != nil {
		if errors.Is(err, scheduler.ErrNotOwner) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	statusCode := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			statusCode = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ok"
	if statusCode != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, statusCode, map[string]any{"status": state, "checks": results})
}

func (s *HTTPServer) queueError(w http.ResponseWriter, err error) {
	var verr *queue.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, worker.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.internalError(w, err)
	}
}

func (s *HTTPServer) internalError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
