package feedback

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"grantwell/internal/common/auth"
	stderrors "grantwell/internal/common/errors"
	"grantwell/internal/common/logger"
	"grantwell/internal/common/metrics"
	"grantwell/internal/common/validation"
	"grantwell/internal/models"
)

// FeedbackStore is the persistence surface behind the handler.
type FeedbackStore interface {
	Create(ctx context.Context, submission *models.FeedbackSubmission) (*models.Feedback, error)
	Query(ctx context.Context, topic, start, end string, limit int32, token string) (*Page, error)
	QueryAll(ctx context.Context, topic, start, end string) ([]models.Feedback, error)
	Delete(ctx context.Context, topic, createdAt string) error
}

// Exporter uploads the CSV export and hands back a time-limited URL.
type Exporter interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error
	PresignGetObject(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}

var submissionSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"sessionId": {"type": "string", "minLength": 1},
		"prompt": {"type": "string"},
		"completion": {"type": "string"},
		"feedback": {"type": "integer", "minimum": 0, "maximum": 1}
	},
	"required": ["sessionId", "feedback"]
}`)

type Config struct {
	ExportBucket  string
	PresignExpiry time.Duration
}

type Handler struct {
	config   *Config
	store    FeedbackStore
	exporter Exporter
	logger   logger.Logger
}

func NewHandler(config *Config, store FeedbackStore, exporter Exporter, log logger.Logger) *Handler {
	if config.PresignExpiry <= 0 {
		config.PresignExpiry = time.Hour
	}
	return &Handler{config: config, store: store, exporter: exporter, logger: log}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/feedback", h.post)
	r.Get("/feedback", h.get)
	r.Get("/feedback/export", h.export)
	r.Delete("/feedback", h.delete)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondStatus(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}
	if result := submissionSchema.ValidateBytes(body); !result.Valid {
		h.respondStatus(w, http.StatusBadRequest, stderrors.NewValidationFailedError(result.ErrorString()))
		return
	}

	var submission models.FeedbackSubmission
	if err := json.Unmarshal(body, &submission); err != nil {
		h.respondStatus(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}

	record, err := h.store.Create(r.Context(), &submission)
	if err != nil {
		h.logger.WithError(err).Error("feedback write failed", nil)
		h.respondStatus(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeFeedbackStoreFailed),
		})
		return
	}
	h.respondStatus(w, http.StatusOK, map[string]string{"FeedbackID": record.FeedbackID})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	topic, start, end := rangeParams(r)
	limit := int32(0)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = int32(n)
		}
	}

	page, err := h.store.Query(r.Context(), topic, start, end, limit, r.URL.Query().Get("nextToken"))
	if err != nil {
		h.logger.WithError(err).Error("feedback query failed", nil)
		h.respondStatus(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeFeedbackStoreFailed),
		})
		return
	}
	h.respondStatus(w, http.StatusOK, page)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	topic, start, end := rangeParams(r)
	records, err := h.store.QueryAll(r.Context(), topic, start, end)
	if err != nil {
		h.logger.WithError(err).Error("feedback export query failed", nil)
		h.respondStatus(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeFeedbackStoreFailed),
		})
		return
	}

	body, err := renderCSV(records)
	if err != nil {
		h.respondStatus(w, http.StatusInternalServerError, map[string]string{"message": "csv render failed"})
		return
	}

	key := fmt.Sprintf("exports/feedback-%s.csv", time.Now().UTC().Format("20060102-150405"))
	if err := h.exporter.PutObject(r.Context(), h.config.ExportBucket, key, body, "text/csv"); err != nil {
		h.logger.WithError(err).Error("feedback export upload failed", map[string]interface{}{"key": key})
		h.respondStatus(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeObjectStoreFailed),
		})
		return
	}

	url, err := h.exporter.PresignGetObject(r.Context(), h.config.ExportBucket, key, h.config.PresignExpiry)
	if err != nil {
		h.logger.WithError(err).Error("feedback export presign failed", map[string]interface{}{"key": key})
		h.respondStatus(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeObjectStoreFailed),
		})
		return
	}
	h.respondStatus(w, http.StatusOK, map[string]string{"download_url": url})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	topic := r.URL.Query().Get("topic")
	createdAt := r.URL.Query().Get("createdAt")
	if topic == "" || createdAt == "" {
		h.respondStatus(w, http.StatusBadRequest, map[string]string{"message": "topic and createdAt are required"})
		return
	}

	if err := h.store.Delete(r.Context(), topic, createdAt); err != nil {
		h.logger.WithError(err).Error("feedback delete failed", nil)
		h.respondStatus(w, http.StatusInternalServerError, map[string]string{
			"code": string(stderrors.ErrCodeFeedbackStoreFailed),
		})
		return
	}
	h.respondStatus(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if auth.IsAdmin(r) {
		return true
	}
	h.respondStatus(w, http.StatusForbidden, stderrors.NewUnauthorizedError("admin role required"))
	return false
}

// rangeParams defaults to the trailing 30 days when the caller gives no
// bounds.
func rangeParams(r *http.Request) (topic, start, end string) {
	q := r.URL.Query()
	topic = q.Get("topic")
	start = q.Get("startTime")
	end = q.Get("endTime")
	if start == "" {
		start = time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339)
	}
	if end == "" {
		end = time.Now().UTC().Format(time.RFC3339)
	}
	return topic, start, end
}

func renderCSV(records []models.Feedback) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"FeedbackID", "SessionID", "Topic", "Problem", "Feedback", "UserPrompt", "ChatbotMessage", "FeedbackComments", "Sources", "CreatedAt"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := []string{
			rec.FeedbackID,
			rec.SessionID,
			rec.Topic,
			rec.Problem,
			strconv.Itoa(rec.Feedback),
			rec.UserPrompt,
			rec.ChatbotMessage,
			rec.FeedbackComments,
			strings.Join(rec.Sources, "; "),
			rec.CreatedAt,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}

func (h *Handler) respondStatus(w http.ResponseWriter, status int, payload interface{}) {
	metrics.HandlerRequests.WithLabelValues("feedback", strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
