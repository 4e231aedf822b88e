// Package knowledge controls the knowledge base ingestion lifecycle: kicking
// off sync jobs, reporting sync state, and removing documents.
package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	stderrors "grantwell/internal/common/errors"
	"grantwell/internal/common/logger"
	"grantwell/internal/common/metrics"
)

const (
	statusStillSyncing = "STILL SYNCING"
	statusDoneSyncing  = "DONE SYNCING"
)

// SyncController is the ingestion job surface of the knowledge base.
type SyncController interface {
	SyncRunning(ctx context.Context) (bool, error)
	StartSync(ctx context.Context) error
	LastSyncTime(ctx context.Context) (time.Time, error)
}

// ObjectRemover deletes source documents ahead of a re-sync.
type ObjectRemover interface {
	DeleteObject(ctx context.Context, bucket, key string) error
}

type Config struct {
	DocumentBucket string
}

type Handler struct {
	config  *Config
	agent   SyncController
	objects ObjectRemover
	logger  logger.Logger
}

func NewHandler(config *Config, agent SyncController, objects ObjectRemover, log logger.Logger) *Handler {
	return &Handler{config: config, agent: agent, objects: objects, logger: log}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/knowledge/sync", h.sync)
	r.Get("/knowledge/sync", h.status)
	r.Get("/knowledge/last-sync", h.lastSync)
	r.Delete("/knowledge/document", h.deleteDocument)
}

// sync starts an ingestion job unless one is already running.
func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	running, err := h.agent.SyncRunning(r.Context())
	if err != nil {
		h.syncFailure(w, err)
		return
	}
	if running {
		h.respond(w, http.StatusOK, map[string]string{"status": statusStillSyncing})
		return
	}

	if err := h.agent.StartSync(r.Context()); err != nil {
		h.syncFailure(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"status": "SYNC STARTED"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	running, err := h.agent.SyncRunning(r.Context())
	if err != nil {
		h.syncFailure(w, err)
		return
	}
	status := statusDoneSyncing
	if running {
		status = statusStillSyncing
	}
	h.respond(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) lastSync(w http.ResponseWriter, r *http.Request) {
	last, err := h.agent.LastSyncTime(r.Context())
	if err != nil {
		h.syncFailure(w, err)
		return
	}
	if last.IsZero() {
		h.respond(w, http.StatusOK, map[string]string{"lastSync": "never"})
		return
	}
	h.respond(w, http.StatusOK, map[string]string{
		"lastSync": last.UTC().Format("January 2, 2006 at 3:04 PM MST"),
	})
}

// deleteDocument removes an object and triggers a sync so the vector index
// forgets it.
func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.respond(w, http.StatusBadRequest, map[string]string{"message": "key is required"})
		return
	}

	if err := h.objects.DeleteObject(r.Context(), h.config.DocumentBucket, key); err != nil {
		h.logger.WithError(err).Error("document delete failed", map[string]interface{}{"key": key})
		h.respond(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeObjectStoreFailed),
		})
		return
	}

	if err := h.agent.StartSync(r.Context()); err != nil {
		// The object is gone; the next scheduled sync will pick it up.
		h.logger.WithError(err).Warn("post-delete sync trigger failed", map[string]interface{}{"key": key})
	}
	h.respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) syncFailure(w http.ResponseWriter, err error) {
	h.logger.WithError(err).Error("knowledge base sync operation failed", nil)
	h.respond(w, http.StatusInternalServerError, map[string]string{
		"code": string(stderrors.ErrCodeKBSyncFailed),
	})
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload interface{}) {
	metrics.HandlerRequests.WithLabelValues("knowledge", strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
