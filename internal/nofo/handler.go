package nofo

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"grantwell/internal/common/auth"
	stderrors "grantwell/internal/common/errors"
	"grantwell/internal/common/logger"
	"grantwell/internal/common/metrics"
	"grantwell/internal/common/validation"
	"grantwell/internal/jobs"
	"grantwell/internal/models"
)

// CatalogSearcher is the free-text search surface; nil disables it and the
// listing falls back to the metadata store.
type CatalogSearcher interface {
	Search(ctx context.Context, query SearchQuery) ([]models.NOFOMetadata, error)
	Remove(ctx context.Context, name string) error
}

// MetadataManager is the row-level surface of the catalog.
type MetadataManager interface {
	List(ctx context.Context) ([]models.NOFOMetadata, error)
	UpdateStatus(ctx context.Context, name string, status models.NOFOStatus) error
	SetPinned(ctx context.Context, name string, pinned bool) error
	Rename(ctx context.Context, oldName, newName string) error
	Delete(ctx context.Context, name string) error
}

// Runner is one full ingestion pipeline run.
type Runner interface {
	Run(ctx context.Context) *RunResult
}

// RunTracker is the poll store for async pipeline runs.
type RunTracker interface {
	Start(ctx context.Context) (*jobs.RunRecord, error)
	Finish(ctx context.Context, jobID string, state jobs.RunState, processed, ingested, backfilled, skipped int, runErrors []string) error
	Get(ctx context.Context, jobID string) (*jobs.RunRecord, error)
}

var updateSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"action": {"enum": ["archive", "activate", "pin", "unpin", "rename"]},
		"newName": {"type": "string"}
	},
	"required": ["name", "action"]
}`)

// Handler is the catalog REST surface plus the async pipeline trigger.
type Handler struct {
	metadata MetadataManager
	catalog  CatalogSearcher
	pipeline Runner
	runs     RunTracker
	logger   logger.Logger
}

func NewHTTPHandler(metadata MetadataManager, catalog CatalogSearcher, pipeline Runner, runs RunTracker, log logger.Logger) *Handler {
	return &Handler{
		metadata: metadata,
		catalog:  catalog,
		pipeline: pipeline,
		runs:     runs,
		logger:   log,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/nofos", h.list)
	r.Patch("/nofos", h.update)
	r.Delete("/nofos", h.delete)
	r.Post("/pipeline/runs", h.startRun)
	r.Get("/pipeline/runs/{jobID}", h.runStatus)
}

// list serves the catalog. With a q parameter (and a search index wired) it
// goes through Elasticsearch; otherwise it reads the metadata store and
// filters in place.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.NOFOStatus(q.Get("status"))
	var pinned *bool
	if raw := q.Get("pinned"); raw != "" {
		value := raw == "true"
		pinned = &value
	}

	if text := q.Get("q"); text != "" && h.catalog != nil {
		rows, err := h.catalog.Search(r.Context(), SearchQuery{
			Text:   text,
			Status: status,
			Pinned: pinned,
		})
		if err != nil {
			h.logger.WithError(err).Error("catalog search failed", nil)
			h.respond(w, http.StatusInternalServerError, map[string]string{"message": "search failed"})
			return
		}
		h.respond(w, http.StatusOK, rows)
		return
	}

	rows, err := h.metadata.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("catalog listing failed", nil)
		h.respond(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeMetadataWriteFailed),
		})
		return
	}

	filtered := rows[:0]
	for _, row := range rows {
		if status != "" && row.Status != status {
			continue
		}
		if pinned != nil && row.IsPinned != *pinned {
			continue
		}
		filtered = append(filtered, row)
	}
	h.respond(w, http.StatusOK, filtered)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}
	if result := updateSchema.ValidateBytes(body); !result.Valid {
		h.respond(w, http.StatusBadRequest, map[string]string{"message": result.ErrorString()})
		return
	}

	var req struct {
		Name    string `json:"name"`
		Action  string `json:"action"`
		NewName string `json:"newName"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}

	var err error
	switch req.Action {
	case "archive":
		err = h.metadata.UpdateStatus(r.Context(), req.Name, models.NOFOStatusArchived)
	case "activate":
		err = h.metadata.UpdateStatus(r.Context(), req.Name, models.NOFOStatusActive)
	case "pin":
		err = h.metadata.SetPinned(r.Context(), req.Name, true)
	case "unpin":
		err = h.metadata.SetPinned(r.Context(), req.Name, false)
	case "rename":
		if req.NewName == "" {
			h.respond(w, http.StatusBadRequest, map[string]string{"message": "newName is required"})
			return
		}
		err = h.metadata.Rename(r.Context(), req.Name, req.NewName)
		if err == nil && h.catalog != nil {
			if rmErr := h.catalog.Remove(r.Context(), req.Name); rmErr != nil {
				h.logger.WithError(rmErr).Warn("stale catalog entry not removed", map[string]interface{}{"name": req.Name})
			}
		}
	}
	if err != nil {
		h.logger.WithError(err).Error("catalog update failed", map[string]interface{}{
			"name":   req.Name,
			"action": req.Action,
		})
		h.respond(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeMetadataWriteFailed),
		})
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		h.respond(w, http.StatusBadRequest, map[string]string{"message": "name is required"})
		return
	}

	if err := h.metadata.Delete(r.Context(), name); err != nil {
		h.logger.WithError(err).Error("catalog delete failed", map[string]interface{}{"name": name})
		h.respond(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeMetadataWriteFailed),
		})
		return
	}
	if h.catalog != nil {
		if err := h.catalog.Remove(r.Context(), name); err != nil {
			h.logger.WithError(err).Warn("stale catalog entry not removed", map[string]interface{}{"name": name})
		}
	}
	h.respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// startRun kicks off an async pipeline run and returns the job id to poll.
func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	record, err := h.runs.Start(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("run registration failed", nil)
		h.respond(w, http.StatusInternalServerError, map[string]string{"message": "could not start run"})
		return
	}

	// The run outlives the request; it gets its own context.
	go func(jobID string) {
		ctx := context.Background()
		result := h.pipeline.Run(ctx)

		state := jobs.RunStateSucceeded
		if result.Aborted {
			state = jobs.RunStateFailed
		}
		if err := h.runs.Finish(ctx, jobID, state, result.Processed, result.Ingested, result.Backfilled, result.Skipped, result.Errors); err != nil {
			h.logger.WithError(err).Error("run completion write failed", map[string]interface{}{"jobId": jobID})
		}
	}(record.JobID)

	h.respond(w, http.StatusAccepted, record)
}

func (h *Handler) runStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	record, err := h.runs.Get(r.Context(), jobID)
	if err != nil {
		h.logger.WithError(err).Error("run status read failed", map[string]interface{}{"jobId": jobID})
		h.respond(w, http.StatusInternalServerError, map[string]string{"message": "status read failed"})
		return
	}
	if record == nil {
		h.respond(w, http.StatusNotFound, map[string]string{"message": "unknown or expired job"})
		return
	}
	h.respond(w, http.StatusOK, record)
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if auth.IsAdmin(r) {
		return true
	}
	h.respond(w, http.StatusForbidden, stderrors.NewUnauthorizedError("admin role required"))
	return false
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload interface{}) {
	metrics.HandlerRequests.WithLabelValues("nofo", strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
