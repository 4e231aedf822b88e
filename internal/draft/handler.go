package draft

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	stderrors "grantwell/internal/common/errors"
	"grantwell/internal/common/logger"
	"grantwell/internal/common/metrics"
	"grantwell/internal/common/validation"
	"grantwell/internal/models"
)

// DraftStore is the persistence surface the handler dispatches to.
type DraftStore interface {
	Get(ctx context.Context, userID, sessionID string) (*models.Draft, error)
	Put(ctx context.Context, draft *models.Draft) error
	Delete(ctx context.Context, userID, sessionID string) error
	ListByUser(ctx context.Context, userID string) ([]models.Draft, error)
}

var requestSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"operation": {"type": "string", "minLength": 1},
		"user_id": {"type": "string", "minLength": 1}
	},
	"required": ["operation", "user_id"]
}`)

type request struct {
	Operation string        `json:"operation"`
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id,omitempty"`
	Draft     *models.Draft `json:"draft,omitempty"`
}

// Handler exposes draft CRUD as a single operation-dispatch endpoint, the
// same envelope shape the session handler uses.
type Handler struct {
	store  DraftStore
	logger logger.Logger
}

func NewHandler(store DraftStore, log logger.Logger) *Handler {
	return &Handler{store: store, logger: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respond(w, http.StatusMethodNotAllowed, map[string]string{"message": "POST only"})
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}
	if result := requestSchema.ValidateBytes(body); !result.Valid {
		h.respond(w, http.StatusBadRequest, map[string]string{"message": result.ErrorString()})
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}

	status, payload := h.dispatch(r.Context(), &req)
	h.respond(w, status, payload)
}

func (h *Handler) dispatch(ctx context.Context, req *request) (int, interface{}) {
	switch req.Operation {
	case "add_draft", "update_draft":
		if req.Draft == nil {
			return http.StatusBadRequest, map[string]string{"message": "draft is required"}
		}
		req.Draft.UserID = req.UserID
		if req.Draft.SessionID == "" {
			req.Draft.SessionID = req.SessionID
		}
		if req.Draft.Status == "" {
			req.Draft.Status = models.DraftStatusProjectBasics
		}
		if err := h.store.Put(ctx, req.Draft); err != nil {
			return h.storeFailure(req, err)
		}
		return http.StatusOK, req.Draft

	case "get_draft":
		draft, err := h.store.Get(ctx, req.UserID, req.SessionID)
		if err != nil {
			return h.storeFailure(req, err)
		}
		if draft == nil {
			return http.StatusNotFound, map[string]string{"message": "draft not found"}
		}
		return http.StatusOK, draft

	case "list_drafts":
		drafts, err := h.store.ListByUser(ctx, req.UserID)
		if err != nil {
			return h.storeFailure(req, err)
		}
		return http.StatusOK, drafts

	case "delete_draft":
		if err := h.store.Delete(ctx, req.UserID, req.SessionID); err != nil {
			return h.storeFailure(req, err)
		}
		return http.StatusOK, map[string]string{"status": "deleted"}

	default:
		return http.StatusBadRequest, map[string]string{"message": "unknown operation: " + req.Operation}
	}
}

func (h *Handler) storeFailure(req *request, err error) (int, interface{}) {
	h.logger.WithError(err).Error("draft store operation failed", map[string]interface{}{
		"operation": req.Operation,
		"userId":    req.UserID,
	})
	return http.StatusInternalServerError, map[string]string{
		"code": string(stderrors.ErrCodeDraftStoreFailed),
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload interface{}) {
	metrics.HandlerRequests.WithLabelValues("draft", strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
