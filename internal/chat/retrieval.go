package chat

import (
	"context"
	"sync"

	commonaws "grantwell/internal/common/aws"
	"grantwell/internal/common/logger"
	"grantwell/internal/common/metrics"
)

// Retriever is the vector search surface: query text plus ANDed equality
// filters on document metadata.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filters map[string]string, count int32) ([]commonaws.RetrievedChunk, error)
}

// DualRetriever fans one tool query out to the two partitioned corpora: the
// program-notice corpus and the requesting user's uploaded documents. The
// two queries run concurrently and are joined before the merge.
type DualRetriever struct {
	kb             Retriever
	scoreThreshold float64
	resultCount    int32
	logger         logger.Logger
}

func NewDualRetriever(kb Retriever, scoreThreshold float64, resultCount int32, log logger.Logger) *DualRetriever {
	return &DualRetriever{
		kb:             kb,
		scoreThreshold: scoreThreshold,
		resultCount:    resultCount,
		logger:         log,
	}
}

// Search runs both corpus queries for one tool call. On failure of both
// scoped queries it falls back to a single unfiltered query; only when that
// also fails does it return an error, which the caller turns into a stock
// "no knowledge" tool result.
func (r *DualRetriever) Search(ctx context.Context, query, documentIdentifier, userID string) ([]commonaws.RetrievedChunk, error) {
	var (
		wg                    sync.WaitGroup
		program, user         []commonaws.RetrievedChunk
		programErr, userErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		program, programErr = r.kb.Retrieve(ctx, query, map[string]string{
			"nofo_name": documentIdentifier,
		}, r.resultCount)
		if programErr != nil {
			metrics.RetrievalQueries.WithLabelValues("program", "error").Inc()
			return
		}
		program = filterByScore(program, r.scoreThreshold)
		metrics.RetrievalQueries.WithLabelValues("program", "ok").Inc()
	}()
	go func() {
		defer wg.Done()
		user, userErr = r.kb.Retrieve(ctx, query, map[string]string{
			"user_id":   userID,
			"nofo_name": documentIdentifier,
		}, r.resultCount)
		if userErr != nil {
			metrics.RetrievalQueries.WithLabelValues("user", "error").Inc()
			return
		}
		metrics.RetrievalQueries.WithLabelValues("user", "ok").Inc()
	}()
	wg.Wait()

	if programErr != nil {
		r.logger.WithError(programErr).Warn("program corpus retrieval failed", nil)
	}
	if userErr != nil {
		r.logger.WithError(userErr).Warn("user corpus retrieval failed", nil)
	}

	merged := MergeByURI(program, user)
	if len(merged) > 0 || (programErr == nil && userErr == nil) {
		return merged, nil
	}

	// Both scoped queries came back empty with at least one failure; try
	// once without filters before giving up.
	fallback, err := r.kb.Retrieve(ctx, query, nil, r.resultCount)
	if err != nil {
		metrics.RetrievalQueries.WithLabelValues("fallback", "error").Inc()
		return nil, err
	}
	metrics.RetrievalQueries.WithLabelValues("fallback", "ok").Inc()
	return MergeByURI(fallback), nil
}

// filterByScore keeps chunks strictly above the confidence threshold.
func filterByScore(chunks []commonaws.RetrievedChunk, threshold float64) []commonaws.RetrievedChunk {
	kept := chunks[:0]
	for _, chunk := range chunks {
		if chunk.Score > threshold {
			kept = append(kept, chunk)
		}
	}
	return kept
}

// MergeByURI concatenates result sets keeping the first chunk seen for each
// source URI.
func MergeByURI(sets ...[]commonaws.RetrievedChunk) []commonaws.RetrievedChunk {
	seen := map[string]bool{}
	var merged []commonaws.RetrievedChunk
	for _, set := range sets {
		for _, chunk := range set {
			if seen[chunk.URI] {
				continue
			}
			seen[chunk.URI] = true
			merged = append(merged, chunk)
		}
	}
	return merged
}
