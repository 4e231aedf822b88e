package nofo

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantwell/internal/common/auth"
	"grantwell/internal/common/logger"
	"grantwell/internal/jobs"
	"grantwell/internal/models"
)

type fakeManager struct {
	rows    []models.NOFOMetadata
	updates []string
	deletes []string
}

func (f *fakeManager) List(ctx context.Context) ([]models.NOFOMetadata, error) { return f.rows, nil }
func (f *fakeManager) UpdateStatus(ctx context.Context, name string, status models.NOFOStatus) error {
	f.updates = append(f.updates, name+":"+string(status))
	return nil
}
func (f *fakeManager) SetPinned(ctx context.Context, name string, pinned bool) error {
	f.updates = append(f.updates, name+":pinned")
	return nil
}
func (f *fakeManager) Rename(ctx context.Context, oldName, newName string) error {
	f.updates = append(f.updates, oldName+"->"+newName)
	return nil
}
func (f *fakeManager) Delete(ctx context.Context, name string) error {
	f.deletes = append(f.deletes, name)
	return nil
}

type fakeRunner struct {
	result *RunResult
}

func (f *fakeRunner) Run(ctx context.Context) *RunResult {
	return f.result
}

type fakeTracker struct {
	mu      sync.Mutex
	records map[string]*jobs.RunRecord
	done    chan struct{}
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{records: map[string]*jobs.RunRecord{}, done: make(chan struct{})}
}

func (f *fakeTracker) Start(ctx context.Context) (*jobs.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := &jobs.RunRecord{JobID: "job-1", State: jobs.RunStateRunning}
	f.records[record.JobID] = record
	return record, nil
}

func (f *fakeTracker) Finish(ctx context.Context, jobID string, state jobs.RunState, processed, ingested, backfilled, skipped int, runErrors []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.records[jobID]
	record.State = state
	record.Ingested = ingested
	close(f.done)
	return nil
}

func (f *fakeTracker) Get(ctx context.Context, jobID string) (*jobs.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[jobID], nil
}

func newCatalogRouter(manager *fakeManager, runner *fakeRunner, tracker *fakeTracker) chi.Router {
	h := NewHTTPHandler(manager, nil, runner, tracker, logger.NewNoOpLogger())
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func TestListFiltersStatusAndPinned(t *testing.T) {
	manager := &fakeManager{rows: []models.NOFOMetadata{
		{Name: "A", Status: models.NOFOStatusActive, IsPinned: true},
		{Name: "B", Status: models.NOFOStatusActive},
		{Name: "C", Status: models.NOFOStatusArchived},
	}}
	router := newCatalogRouter(manager, &fakeRunner{}, newFakeTracker())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nofos?status=active&pinned=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []models.NOFOMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0].Name)
}

func TestUpdateRequiresAdmin(t *testing.T) {
	router := newCatalogRouter(&fakeManager{}, &fakeRunner{}, newFakeTracker())

	body := bytes.NewReader([]byte(`{"name":"A","action":"archive"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/nofos", body))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateArchive(t *testing.T) {
	manager := &fakeManager{}
	router := newCatalogRouter(manager, &fakeRunner{}, newFakeTracker())

	req := httptest.NewRequest(http.MethodPatch, "/nofos", bytes.NewReader([]byte(`{"name":"A","action":"archive"}`)))
	req.Header.Set(auth.RolesHeader, "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A:archived"}, manager.updates)
}

func TestUpdateRejectsUnknownAction(t *testing.T) {
	router := newCatalogRouter(&fakeManager{}, &fakeRunner{}, newFakeTracker())

	req := httptest.NewRequest(http.MethodPatch, "/nofos", bytes.NewReader([]byte(`{"name":"A","action":"explode"}`)))
	req.Header.Set(auth.RolesHeader, "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRunAndPoll(t *testing.T) {
	runner := &fakeRunner{result: &RunResult{Processed: 3, Ingested: 2, Skipped: 1}}
	tracker := newFakeTracker()
	router := newCatalogRouter(&fakeManager{}, runner, tracker)

	req := httptest.NewRequest(http.MethodPost, "/pipeline/runs", nil)
	req.Header.Set(auth.RolesHeader, "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	<-tracker.done

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline/runs/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var record jobs.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, jobs.RunStateSucceeded, record.State)
	assert.Equal(t, 2, record.Ingested)
}

func TestRunStatusUnknownJob(t *testing.T) {
	router := newCatalogRouter(&fakeManager{}, &fakeRunner{}, newFakeTracker())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline/runs/ghost", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
