package knowledge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantwell/internal/common/logger"
)

type fakeAgent struct {
	running    bool
	started    int
	lastSync   time.Time
}

func (f *fakeAgent) SyncRunning(ctx context.Context) (bool, error) { return f.running, nil }
func (f *fakeAgent) StartSync(ctx context.Context) error           { f.started++; return nil }
func (f *fakeAgent) LastSyncTime(ctx context.Context) (time.Time, error) {
	return f.lastSync, nil
}

type fakeRemover struct {
	deleted []string
}

func (f *fakeRemover) DeleteObject(ctx context.Context, bucket, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func newRouter(agent *fakeAgent, remover *fakeRemover) chi.Router {
	h := NewHandler(&Config{DocumentBucket: "nofo-bucket"}, agent, remover, logger.NewNoOpLogger())
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func TestSyncStartsWhenIdle(t *testing.T) {
	agent := &fakeAgent{}
	router := newRouter(agent, &fakeRemover{})

	req := httptest.NewRequest(http.MethodPost, "/knowledge/sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SYNC STARTED")
	assert.Equal(t, 1, agent.started)
}

func TestSyncSkippedWhileRunning(t *testing.T) {
	agent := &fakeAgent{running: true}
	router := newRouter(agent, &fakeRemover{})

	req := httptest.NewRequest(http.MethodPost, "/knowledge/sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "STILL SYNCING")
	assert.Equal(t, 0, agent.started, "no second job while one is in flight")
}

func TestStatusReporting(t *testing.T) {
	agent := &fakeAgent{running: true}
	router := newRouter(agent, &fakeRemover{})

	req := httptest.NewRequest(http.MethodGet, "/knowledge/sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "STILL SYNCING")

	agent.running = false
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/knowledge/sync", nil))
	assert.Contains(t, rec.Body.String(), "DONE SYNCING")
}

func TestLastSync(t *testing.T) {
	router := newRouter(&fakeAgent{}, &fakeRemover{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/knowledge/last-sync", nil))
	assert.Contains(t, rec.Body.String(), "never")

	agent := &fakeAgent{lastSync: time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)}
	router = newRouter(agent, &fakeRemover{})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/knowledge/last-sync", nil))
	assert.Contains(t, rec.Body.String(), "August 20, 2026")
}

func TestDeleteDocumentTriggersSync(t *testing.T) {
	agent := &fakeAgent{}
	remover := &fakeRemover{}
	router := newRouter(agent, remover)

	req := httptest.NewRequest(http.MethodDelete, "/knowledge/document?key=Rural+Health+Outreach%2FNOFO-File-PDF", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, remover.deleted, 1)
	assert.Equal(t, "Rural Health Outreach/NOFO-File-PDF", remover.deleted[0])
	assert.Equal(t, 1, agent.started)
}

func TestDeleteDocumentRequiresKey(t *testing.T) {
	router := newRouter(&fakeAgent{}, &fakeRemover{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/knowledge/document", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
