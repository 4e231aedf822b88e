package session

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

// SessionStore is the persistence surface the handler dispatches to.
type SessionStore interface {
	Get(ctx context.Context, userID, sessionID string) (*models.Session, error)
	Put(ctx context.Context, session *models.Session) error
	AppendTurn(ctx context.Context, userID, sessionID string, turn models.ChatTurn) error
	Delete(ctx context.Context, userID, sessionID string) error
	DeleteAllForUser(ctx context.Context, userID string) error
	List(ctx context.Context, userID, documentIdentifier string) ([]models.SessionSummary, error)
}

var requestSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"operation": {"type": "string", "minLength": 1},
		"user_id": {"type": "string", "minLength": 1}
	},
	"required": ["operation", "user_id"]
}`)

// request is the operation envelope; every call names an operation and the
// user it acts for.
type request struct {
	Operation          string           `json:"operation"`
	UserID             string           `json:"user_id"`
	SessionID          string           `json:"session_id,omitempty"`
	Title              string           `json:"title,omitempty"`
	DocumentIdentifier string           `json:"document_identifier,omitempty"`
	ChatHistory        []models.ChatTurn `json:"chat_history,omitempty"`
	NewChatEntry       *models.ChatTurn `json:"new_chat_entry,omitempty"`
}

// Handler exposes the session store as a single operation-dispatch endpoint.
type Handler struct {
	store  SessionStore
	logger logger.Logger
}

func NewHandler(store SessionStore, log logger.Logger) *Handler {
	return &Handler{store: store, logger: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if result := requestSchema.ValidateBytes(body); !result.Valid {
		h.respondError(w, http.StatusBadRequest, result.ErrorString())
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed body")
		return
	}

	status, payload := h.dispatch(r.Context(), &req)
	metrics.HandlerRequests.WithLabelValues("session", strconv.Itoa(status)).Inc()
	h.respond(w, status, payload)
}

func (h *Handler) dispatch(ctx context.Context, req *request) (int, interface{}) {
	switch req.Operation {
	case "add_session":
		session := &models.Session{
			UserID:             req.UserID,
			SessionID:          req.SessionID,
			Title:              req.Title,
			DocumentIdentifier: req.DocumentIdentifier,
			ChatHistory:        req.ChatHistory,
		}
		if err := h.store.Put(ctx, session); err != nil {
			return h.storeFailure(req, err)
		}
		return http.StatusOK, session

	case "get_session":
		session, err := h.store.Get(ctx, req.UserID, req.SessionID)
		if err != nil {
			return h.storeFailure(req, err)
		}
		if session == nil {
			return http.StatusNotFound, stderrors.NewSessionNotFoundError(req.SessionID)
		}
		return http.StatusOK, session

	case "update_session":
		if req.NewChatEntry == nil {
			return http.StatusBadRequest, map[string]string{"message": "new_chat_entry is required"}
		}
		if err := h.store.AppendTurn(ctx, req.UserID, req.SessionID, *req.NewChatEntry); err != nil {
			return h.storeFailure(req, err)
		}
		return http.StatusOK, map[string]string{"status": "updated"}

	case "list_sessions_by_user_id":
		summaries, err := h.store.List(ctx, req.UserID, req.DocumentIdentifier)
		if err != nil {
			return h.storeFailure(req, err)
		}
		return http.StatusOK, summaries

	case "delete_session":
		if err := h.store.Delete(ctx, req.UserID, req.SessionID); err != nil {
			return h.storeFailure(req, err)
		}
		return http.StatusOK, map[string]string{"status": "deleted"}

	case "delete_user_sessions":
		if err := h.store.DeleteAllForUser(ctx, req.UserID); err != nil {
			return h.storeFailure(req, err)
		}
		return http.StatusOK, map[string]string{"status": "deleted"}

	default:
		return http.StatusBadRequest, map[string]string{"message": "unknown operation: " + req.Operation}
	}
}

func (h *Handler) storeFailure(req *request, err error) (int, interface{}) {
	h.logger.WithError(err).Error("session store operation failed", map[string]interface{}{
		"operation": req.Operation,
		"userId":    req.UserID,
	})
	return http.StatusInternalServerError, map[string]string{
		"code":    string(stderrors.ErrCodeSessionStoreFailed),
		"message": "session operation failed",
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	metrics.HandlerRequests.WithLabelValues("session", strconv.Itoa(status)).Inc()
	h.respond(w, status, map[string]string{"message": message})
}
