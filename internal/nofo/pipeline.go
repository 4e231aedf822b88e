// Package nofo implements the NOFO ingestion pipeline: it walks the external
// grants listing, picks the funding-notice attachment for each opportunity,
// classifies agency/category/dates, and persists the document blob plus a
// metadata row. Re-runs are idempotent by opportunity title.
package nofo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stderrors "grantwell/internal/common/errors"
	"grantwell/internal/common/logger"
	"grantwell/internal/common/metrics"
	"grantwell/internal/models"
)

const (
	pdfObjectName  = "NOFO-File-PDF"
	htmlObjectName = "NOFO-File-HTML.html"

	pendingConversionPrefix = "pending-conversion/"
)

// Source is the external opportunity listing: paged search, per-id detail,
// and attachment download.
type Source interface {
	SearchPage(ctx context.Context, page int) ([]models.Opportunity, error)
	FetchDetail(ctx context.Context, opportunityID string) (*models.Opportunity, error)
	DownloadAttachment(ctx context.Context, path string) ([]byte, error)
}

// ObjectStore is the blob side of persistence.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error
	PrefixExists(ctx context.Context, bucket, prefix string) (bool, error)
}

// MetadataWriter is the key-value side of persistence.
type MetadataWriter interface {
	Get(ctx context.Context, name string) (*models.NOFOMetadata, error)
	Put(ctx context.Context, meta *models.NOFOMetadata) error
	Backfill(ctx context.Context, name string, fields map[string]string) error
}

// AttachmentPicker resolves multi-attachment listings. A nil Selection means
// skip the opportunity.
type AttachmentPicker interface {
	Pick(ctx context.Context, title string, attachments []models.Attachment) (*Selection, error)
}

// Indexer mirrors metadata rows into the search catalog. Best effort.
type Indexer interface {
	Index(ctx context.Context, meta *models.NOFOMetadata) error
}

// Notifier announces run completion.
type Notifier interface {
	Publish(ctx context.Context, topicARN, subject, message string) error
}

type PipelineConfig struct {
	Bucket   string
	MaxPages int

	OpportunityDelay time.Duration
	PageDelay        time.Duration

	TopicARN string
}

// Pipeline is one ingestion run's worth of wiring. Strictly sequential with
// fixed sleeps between opportunities and pages.
type Pipeline struct {
	config   *PipelineConfig
	source   Source
	objects  ObjectStore
	metadata MetadataWriter
	picker   AttachmentPicker
	indexer  Indexer
	notifier Notifier
	logger   logger.Logger

	sleep func(time.Duration)
}

func NewPipeline(config *PipelineConfig, source Source, objects ObjectStore, metadata MetadataWriter, picker AttachmentPicker, log logger.Logger) *Pipeline {
	return &Pipeline{
		config:   config,
		source:   source,
		objects:  objects,
		metadata: metadata,
		picker:   picker,
		logger:   log,
		sleep:    time.Sleep,
	}
}

// WithIndexer mirrors ingested metadata into the search catalog.
func (p *Pipeline) WithIndexer(indexer Indexer) *Pipeline {
	p.indexer = indexer
	return p
}

// WithNotifier publishes a completion summary after each run.
func (p *Pipeline) WithNotifier(notifier Notifier) *Pipeline {
	p.notifier = notifier
	return p
}

// RunResult is the accumulated outcome of one pipeline run. Errors holds
// per-opportunity failures that did not stop the run.
type RunResult struct {
	Processed  int      `json:"processed"`
	Ingested   int      `json:"ingested"`
	Backfilled int      `json:"backfilled"`
	Skipped    int      `json:"skipped"`
	Aborted    bool     `json:"aborted"`
	Errors     []string `json:"errors,omitempty"`
}

// Run walks pages until an empty page, the page cap, or a page-fetch failure.
// A page-fetch failure aborts the run but still returns the partial result
// with the error recorded; per-opportunity failures never stop the run.
func (p *Pipeline) Run(ctx context.Context) *RunResult {
	start := time.Now()
	defer func() {
		metrics.PipelineRunDuration.Observe(time.Since(start).Seconds())
	}()

	result := &RunResult{}
	for page := 0; p.config.MaxPages <= 0 || page < p.config.MaxPages; page++ {
		opportunities, err := p.source.SearchPage(ctx, page)
		if err != nil {
			pageErr := stderrors.NewGrantsSearchFailedError(page, err)
			p.logger.WithError(err).Error("search page fetch failed, aborting run", map[string]interface{}{
				"page": page,
			})
			result.Errors = append(result.Errors, pageErr.Error())
			result.Aborted = true
			break
		}
		if len(opportunities) == 0 {
			break
		}

		for _, opp := range opportunities {
			p.processOpportunity(ctx, opp, result)
			p.sleep(p.config.OpportunityDelay)
		}
		p.sleep(p.config.PageDelay)
	}

	p.logger.Info("pipeline run finished", map[string]interface{}{
		"processed":  result.Processed,
		"ingested":   result.Ingested,
		"backfilled": result.Backfilled,
		"skipped":    result.Skipped,
		"errors":     len(result.Errors),
		"aborted":    result.Aborted,
		"duration":   time.Since(start).String(),
	})
	p.notify(ctx, result)
	return result
}

func (p *Pipeline) notify(ctx context.Context, result *RunResult) {
	if p.notifier == nil || p.config.TopicARN == "" {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.notifier.Publish(ctx, p.config.TopicARN, "NOFO ingestion run finished", string(body)); err != nil {
		p.logger.WithError(err).Warn("run notification publish failed", nil)
	}
}

func (p *Pipeline) processOpportunity(ctx context.Context, opp models.Opportunity, result *RunResult) {
	result.Processed++
	title := SanitizeTitle(opp.Title)
	if title == "" {
		result.Skipped++
		return
	}
	log := p.logger.With(map[string]interface{}{"title": title, "opportunityId": opp.ID})

	exists, err := p.documentExists(ctx, title)
	if err != nil {
		storeErr := stderrors.NewObjectStoreError(title, err)
		log.WithError(err).Error("existence check failed", nil)
		result.Errors = append(result.Errors, storeErr.Error())
		metrics.OpportunitiesProcessed.WithLabelValues("error").Inc()
		return
	}
	if exists {
		p.backfillExisting(ctx, title, opp.ID, result, log)
		return
	}

	detail, err := p.source.FetchDetail(ctx, opp.ID)
	if err != nil {
		detailErr := stderrors.NewGrantsDetailFailedError(opp.ID, err)
		log.WithError(err).Error("detail fetch failed", nil)
		result.Errors = append(result.Errors, detailErr.Error())
		metrics.OpportunitiesProcessed.WithLabelValues("error").Inc()
		return
	}

	// Category mapping is mandatory. An unmapped category is a silent skip,
	// not an error.
	category, ok := MapCategory(detail.Categories)
	if !ok {
		log.Debug("no mappable category, skipping", map[string]interface{}{
			"tags": detail.Categories,
		})
		result.Skipped++
		metrics.OpportunitiesProcessed.WithLabelValues("skipped_category").Inc()
		return
	}

	choice, err := p.selectAttachment(ctx, title, detail)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		metrics.OpportunitiesProcessed.WithLabelValues("error").Inc()
		return
	}
	if choice == nil {
		result.Skipped++
		metrics.OpportunitiesProcessed.WithLabelValues("skipped_attachment").Inc()
		return
	}

	data, err := p.source.DownloadAttachment(ctx, choice.path)
	if err != nil {
		dlErr := stderrors.NewAttachmentDownloadError(title, err)
		log.WithError(err).Error("attachment download failed", nil)
		result.Errors = append(result.Errors, dlErr.Error())
		metrics.OpportunitiesProcessed.WithLabelValues("error").Inc()
		return
	}

	if err := p.persist(ctx, title, category, choice, data, detail, result, log); err != nil {
		result.Errors = append(result.Errors, err.Error())
		metrics.OpportunitiesProcessed.WithLabelValues("error").Inc()
		return
	}

	result.Ingested++
	metrics.OpportunitiesProcessed.WithLabelValues("ingested").Inc()
	log.Info("opportunity ingested", map[string]interface{}{
		"fileType": choice.fileType,
		"category": category,
	})
}

// existencePrefixes returns both naming conventions for a title: the raw
// slash-delimited form and the dash-rewritten form the HTML-to-PDF conversion
// step produces. Both must be checked or converted entries get re-ingested.
func existencePrefixes(title string) []string {
	dashed := strings.ReplaceAll(title, "/", "-")
	if dashed == title {
		return []string{title + "/"}
	}
	return []string{title + "/", dashed + "/"}
}

func (p *Pipeline) documentExists(ctx context.Context, title string) (bool, error) {
	for _, prefix := range existencePrefixes(title) {
		found, err := p.objects.PrefixExists(ctx, p.config.Bucket, prefix)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// backfillExisting re-fetches detail for an already-ingested opportunity and
// fills in metadata fields missing from the first write. The document itself
// is never re-downloaded. Write failures here are logged and swallowed; the
// object store copy is the source of truth.
func (p *Pipeline) backfillExisting(ctx context.Context, title, opportunityID string, result *RunResult, log logger.Logger) {
	existing, err := p.metadata.Get(ctx, title)
	if err != nil {
		log.WithError(err).Warn("metadata read failed during backfill", nil)
		result.Skipped++
		metrics.OpportunitiesProcessed.WithLabelValues("exists").Inc()
		return
	}
	if existing != nil && existing.Agency != "" && existing.Category != "" &&
		existing.GrantType != "" && existing.ExpirationDate != "" {
		result.Skipped++
		metrics.OpportunitiesProcessed.WithLabelValues("exists").Inc()
		return
	}

	detail, err := p.source.FetchDetail(ctx, opportunityID)
	if err != nil {
		log.WithError(err).Warn("detail fetch failed during backfill", nil)
		result.Skipped++
		metrics.OpportunitiesProcessed.WithLabelValues("exists").Inc()
		return
	}

	fields := map[string]string{}
	if (existing == nil || existing.Agency == "") && detail.Agency != "" {
		fields["agency"] = detail.Agency
	}
	if existing == nil || existing.Category == "" {
		if category, ok := MapCategory(detail.Categories); ok {
			fields["category"] = category
		}
	}
	if (existing == nil || existing.GrantType == "") && detail.GrantType != "" {
		fields["grantType"] = detail.GrantType
	}
	if existing == nil || existing.ExpirationDate == "" {
		if date := NormalizeDate(detail.CloseDate); date != "" {
			fields["expirationDate"] = date
		}
	}

	if len(fields) == 0 {
		result.Skipped++
		metrics.OpportunitiesProcessed.WithLabelValues("exists").Inc()
		return
	}
	if err := p.metadata.Backfill(ctx, title, fields); err != nil {
		log.WithError(err).Warn("metadata backfill write failed", map[string]interface{}{
			"fields": len(fields),
		})
		result.Skipped++
		metrics.OpportunitiesProcessed.WithLabelValues("exists").Inc()
		return
	}

	result.Backfilled++
	metrics.OpportunitiesProcessed.WithLabelValues("backfilled").Inc()
	log.Info("metadata backfilled", map[string]interface{}{"fields": len(fields)})
}

type attachmentChoice struct {
	path     string
	fileType string
}

// selectAttachment applies the attachment policy: zero attachments fall back
// to the additional-info URL treated as HTML, one attachment is used
// directly, several go through the disambiguator. Returns (nil, nil) when
// the opportunity should be skipped.
func (p *Pipeline) selectAttachment(ctx context.Context, title string, detail *models.Opportunity) (*attachmentChoice, error) {
	var picked models.Attachment

	switch len(detail.Attachments) {
	case 0:
		if detail.AdditionalInfo == "" {
			return nil, nil
		}
		return &attachmentChoice{path: detail.AdditionalInfo, fileType: "html"}, nil
	case 1:
		picked = detail.Attachments[0]
	default:
		selection, err := p.picker.Pick(ctx, title, detail.Attachments)
		if err != nil {
			return nil, fmt.Errorf("%s: %s", stderrors.ErrCodeClassificationAmbiguous, err.Error())
		}
		if selection == nil {
			return nil, nil
		}
		picked = detail.Attachments[selection.Index]
	}

	fileType := FileType(picked.FileName)
	if fileType == "" {
		fileType = FileType(picked.DownloadPath)
	}
	if fileType == "" {
		return nil, nil
	}
	return &attachmentChoice{path: picked.DownloadPath, fileType: fileType}, nil
}

func (p *Pipeline) persist(ctx context.Context, title, category string, choice *attachmentChoice, data []byte, detail *models.Opportunity, result *RunResult, log logger.Logger) error {
	now := time.Now().UTC().Format(time.RFC3339)

	if choice.fileType == "html" {
		// HTML waits on a downstream conversion step which writes the
		// remaining metadata fields, so only agency and category go in now.
		key := pendingConversionPrefix + title + "/" + htmlObjectName
		if err := p.objects.PutObject(ctx, p.config.Bucket, key, data, "text/html"); err != nil {
			log.WithError(err).Error("html upload failed", nil)
			return stderrors.NewObjectStoreError(key, err)
		}

		fields := map[string]string{"category": category}
		if detail.Agency != "" {
			fields["agency"] = detail.Agency
		}
		if err := p.metadata.Backfill(ctx, title, fields); err != nil {
			log.WithError(err).Warn("partial metadata write failed", nil)
		}
		return nil
	}

	key := title + "/" + pdfObjectName
	if err := p.objects.PutObject(ctx, p.config.Bucket, key, data, "application/pdf"); err != nil {
		log.WithError(err).Error("pdf upload failed", nil)
		return stderrors.NewObjectStoreError(key, err)
	}

	meta := &models.NOFOMetadata{
		Name:           title,
		Status:         models.NOFOStatusActive,
		IsPinned:       false,
		Agency:         detail.Agency,
		Category:       category,
		GrantType:      detail.GrantType,
		ExpirationDate: NormalizeDate(detail.CloseDate),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.metadata.Put(ctx, meta); err != nil {
		log.WithError(err).Error("metadata write failed", nil)
		return stderrors.NewMetadataWriteError(title, err)
	}

	if p.indexer != nil {
		if err := p.indexer.Index(ctx, meta); err != nil {
			log.WithError(err).Warn("catalog index write failed", nil)
		}
	}
	return nil
}
