// Package grants implements the client for the external grants listing API:
// a paged search endpoint and a per-id detail endpoint, both behind an API
// key header.
package grants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"grantwell/internal/models"
)

var (
	ErrSearchFailed   = errors.New("GRANTS_SEARCH_FAILED")
	ErrDetailFailed   = errors.New("GRANTS_DETAIL_FAILED")
	ErrDownloadFailed = errors.New("ATTACHMENT_DOWNLOAD_FAILED")
)

type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Timeout  time.Duration
}

type Client struct {
	config *Config
	client *http.Client
}

func NewClient(config *Config) *Client {
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type searchRequest struct {
	OppStatuses        string `json:"oppStatuses"`
	FundingInstruments string `json:"fundingInstruments"`
	SortBy             string `json:"sortBy"`
	Rows               int    `json:"rows"`
	StartRecordNum     int    `json:"startRecordNum"`
}

type searchResponse struct {
	Data struct {
		OppHits []struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			AgencyName string `json:"agencyName"`
			CloseDate  string `json:"closeDate"`
		} `json:"oppHits"`
	} `json:"data"`
}

// SearchPage fetches one page of posted grant opportunities, newest first.
// Page numbering starts at zero; an empty slice means the listing is
// exhausted.
func (c *Client) SearchPage(ctx context.Context, page int) ([]models.Opportunity, error) {
	reqBody := searchRequest{
		OppStatuses:        "posted",
		FundingInstruments: "G",
		SortBy:             "opportunityId:desc",
		Rows:               c.config.PageSize,
		StartRecordNum:     page * c.config.PageSize,
	}

	var resp searchResponse
	if err := c.post(ctx, "/v1/api/search2", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrSearchFailed, page, err)
	}

	opps := make([]models.Opportunity, 0, len(resp.Data.OppHits))
	for _, hit := range resp.Data.OppHits {
		opps = append(opps, models.Opportunity{
			ID:        hit.ID,
			Title:     hit.Title,
			Agency:    hit.AgencyName,
			CloseDate: hit.CloseDate,
		})
	}
	return opps, nil
}

type detailResponse struct {
	Data struct {
		ID             string   `json:"id"`
		Title          string   `json:"opportunityTitle"`
		AgencyName     string   `json:"agencyName"`
		CategoryTags   []string `json:"fundingActivityCategories"`
		PostedDate     string   `json:"postedDate"`
		CloseDate      string   `json:"closeDate"`
		AdditionalInfo string   `json:"additionalInfoUrl"`
		GrantType      string   `json:"fundingInstrumentDescription"`
		Attachments    []struct {
			DownloadPath string `json:"downloadPath"`
			Description  string `json:"description"`
			FileName     string `json:"fileName"`
		} `json:"attachments"`
	} `json:"data"`
}

// FetchDetail retrieves the full opportunity record by id.
func (c *Client) FetchDetail(ctx context.Context, opportunityID string) (*models.Opportunity, error) {
	reqBody := map[string]string{"opportunityId": opportunityID}

	var resp detailResponse
	if err := c.post(ctx, "/v1/api/fetchOpportunity", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: id %s: %v", ErrDetailFailed, opportunityID, err)
	}

	opp := &models.Opportunity{
		ID:             resp.Data.ID,
		Title:          resp.Data.Title,
		Agency:         resp.Data.AgencyName,
		Categories:     resp.Data.CategoryTags,
		PostedDate:     resp.Data.PostedDate,
		CloseDate:      resp.Data.CloseDate,
		AdditionalInfo: resp.Data.AdditionalInfo,
		GrantType:      resp.Data.GrantType,
	}
	for _, a := range resp.Data.Attachments {
		opp.Attachments = append(opp.Attachments, models.Attachment{
			DownloadPath: a.DownloadPath,
			Description:  a.Description,
			FileName:     a.FileName,
		})
	}
	return opp, nil
}

// DownloadAttachment fetches the document bytes behind a download path. The
// path may be absolute (additional-info URLs) or relative to the API host.
func (c *Client) DownloadAttachment(ctx context.Context, path string) ([]byte, error) {
	url := path
	if len(path) > 0 && path[0] == '/' {
		url = c.config.BaseURL + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("X-Api-Key", c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, path string, reqBody, out interface{}) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
