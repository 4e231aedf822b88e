package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantwell/internal/common/logger"
	"grantwell/internal/models"
)

type fakeDraftStore struct {
	drafts map[string]*models.Draft
}

func newFakeDraftStore() *fakeDraftStore {
	return &fakeDraftStore{drafts: map[string]*models.Draft{}}
}

func (f *fakeDraftStore) Get(ctx context.Context, userID, sessionID string) (*models.Draft, error) {
	return f.drafts[userID+"/"+sessionID], nil
}

func (f *fakeDraftStore) Put(ctx context.Context, draft *models.Draft) error {
	f.drafts[draft.UserID+"/"+draft.SessionID] = draft
	return nil
}

func (f *fakeDraftStore) Delete(ctx context.Context, userID, sessionID string) error {
	delete(f.drafts, userID+"/"+sessionID)
	return nil
}

func (f *fakeDraftStore) ListByUser(ctx context.Context, userID string) ([]models.Draft, error) {
	var out []models.Draft
	for _, d := range f.drafts {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func post(t *testing.T, h *Handler, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/drafts", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDraftAddGetDelete(t *testing.T) {
	store := newFakeDraftStore()
	h := NewHandler(store, logger.NewNoOpLogger())

	rec := post(t, h, map[string]interface{}{
		"operation": "add_draft",
		"user_id":   "user-1",
		"draft": map[string]interface{}{
			"session_id": "sess-1",
			"title":      "Rural Health Application",
			"sections":   map[string]interface{}{"narrative": "draft text"},
		},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.drafts["user-1/sess-1"])
	assert.Equal(t, models.DraftStatusProjectBasics, store.drafts["user-1/sess-1"].Status)

	rec = post(t, h, map[string]interface{}{
		"operation":  "get_draft",
		"user_id":    "user-1",
		"session_id": "sess-1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rural Health Application")

	rec = post(t, h, map[string]interface{}{
		"operation":  "delete_draft",
		"user_id":    "user-1",
		"session_id": "sess-1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.drafts)
}

func TestDraftGetMissing(t *testing.T) {
	h := NewHandler(newFakeDraftStore(), logger.NewNoOpLogger())

	rec := post(t, h, map[string]interface{}{
		"operation":  "get_draft",
		"user_id":    "user-1",
		"session_id": "nope",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDraftAddRequiresBody(t *testing.T) {
	h := NewHandler(newFakeDraftStore(), logger.NewNoOpLogger())

	rec := post(t, h, map[string]interface{}{
		"operation": "add_draft",
		"user_id":   "user-1",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
