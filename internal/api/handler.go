// Package api provides the HTTP handlers and routing for the aurora REST service.
package api

import (
	"aurorarest/internal/apperrors"
	"aurorarest/internal/executor"
	"aurorarest/internal/health"
	"aurorarest/internal/job"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxRequestBodySize limits job specs to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20

// Version is reported by the version endpoint.
const Version = "0.1"

// Handler contains HTTP handlers for the jobs API.
type Handler struct {
	exec   executor.Executor
	health *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(exec executor.Executor, healthChecker *health.Checker) *Handler {
	return &Handler{exec: exec, health: healthChecker}
}

// listResponse is the body of the list endpoint. Jobs are numbered from 1.
type listResponse struct {
	Status string            `json:"status"`
	Key    string            `json:"key"`
	Count  int               `json:"count"`
	Jobs   map[string]string `json:"jobs"`
	Errors []string          `json:"errors,omitempty"`
}

// jobResponse is the body of every single-job endpoint. Job is the affected
// job key on success and an empty list on failure.
type jobResponse struct {
	Status string   `json:"status"`
	Key    string   `json:"key"`
	Count  int      `json:"count"`
	Job    any      `json:"job"`
	Errors []string `json:"errors,omitempty"`
}

// Version handles GET /{prefix}/version
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"version": Version,
	})
}

// ListJobs handles GET /{prefix}/jobs/{cluster}/{role}
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	res, ok := h.await(r, h.exec.List(r.Context(), chi.URLParam(r, "cluster"), chi.URLParam(r, "role")))
	if !ok {
		return
	}

	if res.Failed() {
		h.writeFailure(w, r, job.OpList, res, listResponse{
			Status: "failure",
			Key:    res.Key,
			Jobs:   map[string]string{},
			Errors: res.Errors,
		})
		return
	}

	jobs := make(map[string]string, len(res.Jobs))
	for i, j := range res.Jobs {
		jobs[strconv.Itoa(i+1)] = j
	}

	// No matching jobs is not an error.
	status := http.StatusOK
	if len(res.Jobs) == 0 {
		status = http.StatusNotFound
	}
	h.writeJSON(w, status, listResponse{
		Status: "success",
		Key:    res.Key,
		Count:  len(res.Jobs),
		Jobs:   jobs,
	})
}

// CreateJob handles PUT /{prefix}/jobs/{cluster}/{role}/{environment}/{name}
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.readSpec(w, r)
	if !ok {
		return
	}

	c, role, env, name := jobPath(r)
	res, ok := h.await(r, h.exec.Create(r.Context(), c, role, env, name, spec))
	if !ok {
		return
	}
	h.writeResult(w, r, job.OpCreate, http.StatusCreated, res)
}

// DeleteJob handles DELETE /{prefix}/jobs/{cluster}/{role}/{environment}/{name}
// The optional shards query parameters select instances.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.readSpec(w, r)
	if !ok {
		return
	}

	c, role, env, name := jobPath(r)
	res, ok := h.await(r, h.exec.Delete(r.Context(), c, role, env, name, spec, shards(r)))
	if !ok {
		return
	}
	if res.Failed() {
		h.writeResult(w, r, job.OpDelete, http.StatusOK, res)
		return
	}

	// No jobs were found to kill, not an error.
	status := http.StatusOK
	var killed string
	if len(res.Jobs) == 0 {
		status = http.StatusNotFound
	} else {
		killed = res.Jobs[0]
	}
	h.writeJSON(w, status, jobResponse{
		Status: "success",
		Key:    res.Key,
		Count:  len(res.Jobs),
		Job:    killed,
	})
}

// UpdateJob handles PUT /{prefix}/jobs/{cluster}/{role}/{environment}/{name}/update
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.readSpec(w, r)
	if !ok {
		return
	}

	c, role, env, name := jobPath(r)
	res, ok := h.await(r, h.exec.Update(r.Context(), c, role, env, name, spec, shards(r)))
	if !ok {
		return
	}
	h.writeResult(w, r, job.OpUpdate, http.StatusAccepted, res)
}

// CancelUpdate handles DELETE /{prefix}/jobs/{cluster}/{role}/{environment}/{name}/update
func (h *Handler) CancelUpdate(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.readSpec(w, r)
	if !ok {
		return
	}

	c, role, env, name := jobPath(r)
	res, ok := h.await(r, h.exec.CancelUpdate(r.Context(), c, role, env, name, spec))
	if !ok {
		return
	}
	h.writeResult(w, r, job.OpCancelUpdate, http.StatusAccepted, res)
}

// RestartJob handles PUT /{prefix}/jobs/{cluster}/{role}/{environment}/{name}/restart
func (h *Handler) RestartJob(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.readSpec(w, r)
	if !ok {
		return
	}

	c, role, env, name := jobPath(r)
	res, ok := h.await(r, h.exec.Restart(r.Context(), c, role, env, name, spec, shards(r)))
	if !ok {
		return
	}
	h.writeResult(w, r, job.OpRestart, http.StatusAccepted, res)
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 while the executor cannot take calls.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

// NotFound answers requests that match no route.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.handleError(w, r, apperrors.NotFound("route", r.URL.Path))
}

// await waits for the operation behind handle. When the client goes away
// first it reports false; the operation itself keeps running.
func (h *Handler) await(r *http.Request, handle *executor.Handle) (job.Result, bool) {
	res, err := handle.Wait(r.Context())
	if err != nil {
		slog.WarnContext(r.Context(), "Client went away before the operation finished",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		return job.Result{}, false
	}
	return res, true
}

// readSpec reads the optional job spec from the request body.
// An empty body yields nil, meaning no spec was provided.
func (h *Handler) readSpec(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	spec, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "job spec exceeds 1MB")
			return nil, false
		}
		h.handleError(w, r, apperrors.Validation("body", err.Error()))
		return nil, false
	}
	if len(spec) == 0 {
		return nil, true
	}
	return spec, true
}

// writeResult writes the response of a single-job operation.
func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, op job.Op, success int, res job.Result) {
	if res.Failed() {
		h.writeFailure(w, r, op, res, jobResponse{
			Status: "failure",
			Key:    res.Key,
			Job:    []string{},
			Errors: res.Errors,
		})
		return
	}
	h.writeJSON(w, success, jobResponse{
		Status: "success",
		Key:    res.Key,
		Count:  1,
		Job:    res.Key,
	})
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, op job.Op, res job.Result, body any) {
	slog.ErrorContext(r.Context(), "Job operation failed",
		"op", op,
		"key", res.Key,
		"errors", res.Errors,
		"request_id", middleware.GetReqID(r.Context()),
	)
	h.writeJSON(w, http.StatusInternalServerError, body)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"status": "failure", "error": message})
}

// handleError maps request-level errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}

func jobPath(r *http.Request) (cluster, role, environment, name string) {
	return chi.URLParam(r, "cluster"), chi.URLParam(r, "role"), chi.URLParam(r, "environment"), chi.URLParam(r, "name")
}

// shards returns the instance selectors from repeated shards query
// parameters, or nil when there are none.
func shards(r *http.Request) []string {
	values := r.URL.Query()["shards"]
	if len(values) == 0 {
		return nil
	}
	return values
}
