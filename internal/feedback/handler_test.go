package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantwell/internal/common/auth"
	"grantwell/internal/common/logger"
	"grantwell/internal/models"
)

type fakeFeedbackStore struct {
	created []*models.FeedbackSubmission
	records []models.Feedback
	deleted [][2]string
}

func (f *fakeFeedbackStore) Create(ctx context.Context, submission *models.FeedbackSubmission) (*models.Feedback, error) {
	f.created = append(f.created, submission)
	topic := submission.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &models.Feedback{FeedbackID: "fb-1", Topic: topic}, nil
}

func (f *fakeFeedbackStore) Query(ctx context.Context, topic, start, end string, limit int32, token string) (*Page, error) {
	return &Page{Items: f.records}, nil
}

func (f *fakeFeedbackStore) QueryAll(ctx context.Context, topic, start, end string) ([]models.Feedback, error) {
	return f.records, nil
}

func (f *fakeFeedbackStore) Delete(ctx context.Context, topic, createdAt string) error {
	f.deleted = append(f.deleted, [2]string{topic, createdAt})
	return nil
}

type fakeExporter struct {
	puts map[string][]byte
}

func (f *fakeExporter) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = body
	return nil
}

func (f *fakeExporter) PresignGetObject(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func newTestRouter(store FeedbackStore, exporter Exporter) chi.Router {
	h := NewHandler(&Config{ExportBucket: "feedback-bucket"}, store, exporter, logger.NewNoOpLogger())
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func TestPostFeedback(t *testing.T) {
	store := &fakeFeedbackStore{}
	router := newTestRouter(store, &fakeExporter{})

	body, _ := json.Marshal(map[string]interface{}{
		"sessionId":  "sess-1",
		"prompt":     "what is the match?",
		"completion": "20 percent",
		"feedback":   1,
	})
	req := httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fb-1")
	require.Len(t, store.created, 1)
}

func TestPostFeedbackValidation(t *testing.T) {
	router := newTestRouter(&fakeFeedbackStore{}, &fakeExporter{})

	req := httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewReader([]byte(`{"prompt":"x"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFeedbackRequiresAdmin(t *testing.T) {
	router := newTestRouter(&fakeFeedbackStore{}, &fakeExporter{})

	req := httptest.NewRequest(http.MethodGet, "/feedback", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/feedback", nil)
	req.Header.Set(auth.RolesHeader, "editor, Admin")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExportFeedbackCSV(t *testing.T) {
	store := &fakeFeedbackStore{records: []models.Feedback{
		{FeedbackID: "fb-1", SessionID: "s-1", Topic: DefaultTopic, Feedback: 1, CreatedAt: "2026-08-01T00:00:00Z"},
	}}
	exporter := &fakeExporter{}
	router := newTestRouter(store, exporter)

	req := httptest.NewRequest(http.MethodGet, "/feedback/export", nil)
	req.Header.Set(auth.RolesHeader, "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://signed.example/exports/")

	require.Len(t, exporter.puts, 1)
	for _, csvBody := range exporter.puts {
		assert.Contains(t, string(csvBody), "FeedbackID,SessionID,Topic")
		assert.Contains(t, string(csvBody), "fb-1")
	}
}

func TestDeleteFeedback(t *testing.T) {
	store := &fakeFeedbackStore{}
	router := newTestRouter(store, &fakeExporter{})

	req := httptest.NewRequest(http.MethodDelete, "/feedback?topic=Accuracy&createdAt=2026-08-01T00:00:00Z", nil)
	req.Header.Set(auth.RolesHeader, "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.deleted, 1)
	assert.Equal(t, [2]string{"Accuracy", "2026-08-01T00:00:00Z"}, store.deleted[0])
}

func TestDeleteFeedbackMissingParams(t *testing.T) {
	router := newTestRouter(&fakeFeedbackStore{}, &fakeExporter{})

	req := httptest.NewRequest(http.MethodDelete, "/feedback?topic=Accuracy", nil)
	req.Header.Set(auth.RolesHeader, "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
