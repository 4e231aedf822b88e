package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantwell/internal/common/logger"
	"grantwell/internal/models"
)

type fakeStore struct {
	sessions map[string]*models.Session
	appends  []models.ChatTurn
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]*models.Session{}}
}

func (f *fakeStore) Get(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return f.sessions[userID+"/"+sessionID], f.err
}

func (f *fakeStore) Put(ctx context.Context, session *models.Session) error {
	if f.err != nil {
		return f.err
	}
	f.sessions[session.UserID+"/"+session.SessionID] = session
	return nil
}

func (f *fakeStore) AppendTurn(ctx context.Context, userID, sessionID string, turn models.ChatTurn) error {
	f.appends = append(f.appends, turn)
	return f.err
}

func (f *fakeStore) Delete(ctx context.Context, userID, sessionID string) error {
	delete(f.sessions, userID+"/"+sessionID)
	return f.err
}

func (f *fakeStore) DeleteAllForUser(ctx context.Context, userID string) error {
	return f.err
}

func (f *fakeStore) List(ctx context.Context, userID, documentIdentifier string) ([]models.SessionSummary, error) {
	return []models.SessionSummary{{SessionID: "sess-1", Title: "First"}}, f.err
}

func postOperation(t *testing.T, h *Handler, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAddAndGet(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, logger.NewNoOpLogger())

	rec := postOperation(t, h, map[string]interface{}{
		"operation": "add_session",
		"user_id":   "user-1",
		"session_id": "sess-1",
		"title":      "Match questions",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.sessions["user-1/sess-1"])

	rec = postOperation(t, h, map[string]interface{}{
		"operation":  "get_session",
		"user_id":    "user-1",
		"session_id": "sess-1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "Match questions", session.Title)
}

func TestHandlerGetMissingIs404(t *testing.T) {
	h := NewHandler(newFakeStore(), logger.NewNoOpLogger())

	rec := postOperation(t, h, map[string]interface{}{
		"operation":  "get_session",
		"user_id":    "user-1",
		"session_id": "nope",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_NOT_FOUND")
}

func TestHandlerUpdateRequiresEntry(t *testing.T) {
	h := NewHandler(newFakeStore(), logger.NewNoOpLogger())

	rec := postOperation(t, h, map[string]interface{}{
		"operation":  "update_session",
		"user_id":    "user-1",
		"session_id": "sess-1",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerUpdateAppends(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, logger.NewNoOpLogger())

	rec := postOperation(t, h, map[string]interface{}{
		"operation":  "update_session",
		"user_id":    "user-1",
		"session_id": "sess-1",
		"new_chat_entry": map[string]interface{}{
			"user":    "what now?",
			"chatbot": "apply",
		},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.appends, 1)
	assert.Equal(t, "apply", store.appends[0].Reply)
}

func TestHandlerValidation(t *testing.T) {
	h := NewHandler(newFakeStore(), logger.NewNoOpLogger())

	rec := postOperation(t, h, map[string]interface{}{"operation": "get_session"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "user_id is required")

	rec = postOperation(t, h, map[string]interface{}{
		"operation": "time_travel",
		"user_id":   "user-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown operation")
}

func TestHandlerStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("throttled")
	h := NewHandler(store, logger.NewNoOpLogger())

	rec := postOperation(t, h, map[string]interface{}{
		"operation": "list_sessions_by_user_id",
		"user_id":   "user-1",
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_STORE_FAILED")
}
