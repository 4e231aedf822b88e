package grants

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	return NewClient(&Config{
		BaseURL:  serverURL,
		APIKey:   "test-key",
		PageSize: 2,
		Timeout:  5 * time.Second,
	})
}

func TestSearchPage(t *testing.T) {
	var gotKey string
	var gotBody searchRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"oppHits": []map[string]interface{}{
					{"id": "357442", "title": "Rural Health Outreach", "agencyName": "HRSA", "closeDate": "2025-01-15"},
					{"id": "357441", "title": "Clean Water Grants", "agencyName": "EPA", "closeDate": "2025-03-01"},
				},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	opps, err := client.SearchPage(context.Background(), 3)

	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "posted", gotBody.OppStatuses)
	assert.Equal(t, "opportunityId:desc", gotBody.SortBy)
	assert.Equal(t, 6, gotBody.StartRecordNum, "page 3 with page size 2")
	require.Len(t, opps, 2)
	assert.Equal(t, "Rural Health Outreach", opps[0].Title)
	assert.Equal(t, "HRSA", opps[0].Agency)
}

func TestSearchPageEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"oppHits": []interface{}{}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	opps, err := client.SearchPage(context.Background(), 0)

	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestSearchPageUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.SearchPage(context.Background(), 0)

	assert.ErrorIs(t, err, ErrSearchFailed)
}

func TestFetchDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "357442", body["opportunityId"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"id":                        "357442",
				"opportunityTitle":          "Rural Health Outreach",
				"agencyName":                "HRSA",
				"fundingActivityCategories": []string{"health"},
				"closeDate":                 "2025-01-15",
				"attachments": []map[string]interface{}{
					{"downloadPath": "/files/1.pdf", "description": "NOFO", "fileName": "nofo.pdf"},
				},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	opp, err := client.FetchDetail(context.Background(), "357442")

	require.NoError(t, err)
	assert.Equal(t, []string{"health"}, opp.Categories)
	require.Len(t, opp.Attachments, 1)
	assert.Equal(t, "/files/1.pdf", opp.Attachments[0].DownloadPath)
}

func TestDownloadAttachmentRelativePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/1.pdf", r.URL.Path)
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	data, err := client.DownloadAttachment(context.Background(), "/files/1.pdf")

	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)
}
