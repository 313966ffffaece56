// Package api exposes the run service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/deixis/conveyor/internal/events"
	"github.com/deixis/conveyor/internal/registry"
	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/service"
)

// Handler serves the REST API and the progress streams.
type Handler struct {
	svc    *service.Service
	broker *events.Broker
	log    *slog.Logger
	router *mux.Router
}

// Options configures a Handler.
type Options struct {
	Service        *service.Service
	Broker         *events.Broker
	AllowedOrigins []string // CORS and WebSocket origins; empty allows any origin for CORS
	Logger         *slog.Logger
}

// New builds the router.
func New(opts Options) http.Handler {
	h := &Handler{
		svc:    opts.Service,
		broker: opts.Broker,
		log:    opts.Logger,
		router: mux.NewRouter(),
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.broker == nil {
		h.broker = events.NewBroker(h.log)
	}

	r := h.router
	r.HandleFunc("/ci/run", h.runSuite).Methods(http.MethodPost)
	r.HandleFunc("/ci/run-single", h.runSingle).Methods(http.MethodPost)
	r.HandleFunc("/ci/cancel/{runId}", h.cancelSuite).Methods(http.MethodPost)
	r.HandleFunc("/ci/status/{runId}", h.status).Methods(http.MethodGet)
	r.HandleFunc("/ci/history", h.history).Methods(http.MethodGet)
	r.HandleFunc("/ci/active", h.active).Methods(http.MethodGet)

	r.HandleFunc("/workflow/run", h.runWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/workflow/run/{runId}", h.status).Methods(http.MethodGet)
	r.HandleFunc("/workflow/run/{runId}/cancel", h.cancelWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/workflow/list", h.listWorkflows).Methods(http.MethodGet)

	r.Handle("/ws", h.broker.WebSocketHandler(opts.AllowedOrigins))
	r.HandleFunc("/events", h.broker.ServeSSE).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Use(h.logRequests)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

type suiteRequest struct {
	Project string   `json:"project"`
	Tests   []string `json:"tests"`
}

type singleRequest struct {
	Project string `json:"project"`
	Test    string `json:"test"`
}

type workflowRequest struct {
	Project       string            `json:"project"`
	WorkflowFile  string            `json:"workflowFile"`
	SelectedSteps []string          `json:"selectedSteps"`
	Env           map[string]string `json:"env"`
}

type startedResponse struct {
	RunID     string        `json:"runId"`
	Status    report.Status `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Tests     []string      `json:"tests,omitempty"`
	Test      string        `json:"test,omitempty"`
}

type errorResponse struct {
	Error  string        `json:"error"`
	RunID  string        `json:"runId,omitempty"`
	Status report.Status `json:"status,omitempty"`
}

func (h *Handler) runSuite(w http.ResponseWriter, r *http.Request) {
	var req suiteRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, err := h.svc.StartSuite(service.SuiteRequest{Project: req.Project, Tests: req.Tests})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startedResponse{
		RunID:     run.ID,
		Status:    run.Status,
		StartedAt: run.StartedAt,
		Tests:     run.RequestedSteps,
	})
}

func (h *Handler) runSingle(w http.ResponseWriter, r *http.Request) {
	var req singleRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, err := h.svc.StartSingle(req.Project, req.Test)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startedResponse{
		RunID:     run.ID,
		Status:    run.Status,
		StartedAt: run.StartedAt,
		Test:      req.Test,
	})
}

func (h *Handler) cancelSuite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["runId"]
	run, err := h.svc.Cancel(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"runId":   run.ID,
		"status":  run.Status,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Get(mux.Vars(r)["runId"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := service.HistoryQuery{Project: q.Get("project")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		query.Limit = n
	}
	if v := q.Get("kind"); v != "" {
		kind, err := report.ParseKind(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		query.Kind = kind
	}

	runs, err := h.svc.ListHistory(query)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

func (h *Handler) active(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.svc.ListActive()))
}

func (h *Handler) runWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, err := h.svc.StartWorkflow(service.WorkflowRequest{
		Project:  req.Project,
		File:     req.WorkflowFile,
		Selected: req.SelectedSteps,
		Env:      req.Env,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": run.ID, "status": "started"})
}

func (h *Handler) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Cancel(mux.Vars(r)["runId"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "run": run})
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	infos, err := h.svc.ListWorkflows(r.URL.Query().Get("project"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if infos == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// fail maps service and registry errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var conflict *registry.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), RunID: conflict.RunID})
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, registry.ErrNotActive):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.log.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(runs []*report.Run) []*report.Run {
	if runs == nil {
		return []*report.Run{}
	}
	return runs
}
