package nofo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"grantwell/internal/common/database"
	"grantwell/internal/common/logger"
	"grantwell/internal/models"
)

// Catalog mirrors metadata rows into Elasticsearch and serves free-text
// search over them. The key-value store stays the system of record; the
// index is rebuilt by pipeline runs.
type Catalog struct {
	es     *database.ElasticsearchClient
	index  string
	logger logger.Logger
}

func NewCatalog(es *database.ElasticsearchClient, index string, log logger.Logger) *Catalog {
	return &Catalog{es: es, index: index, logger: log}
}

// Index upserts one metadata row into the catalog, keyed by title.
func (c *Catalog) Index(ctx context.Context, meta *models.NOFOMetadata) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal catalog doc %q: %w", meta.Name, err)
	}

	res, err := c.es.Client.Index(
		c.index,
		bytes.NewReader(body),
		c.es.Client.Index.WithDocumentID(url.PathEscape(meta.Name)),
		c.es.Client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index catalog doc %q: %w", meta.Name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index catalog doc %q: %s", meta.Name, res.Status())
	}
	return nil
}

// Remove deletes a row from the catalog. Missing documents are not an error.
func (c *Catalog) Remove(ctx context.Context, name string) error {
	res, err := c.es.Client.Delete(
		c.index,
		url.PathEscape(name),
		c.es.Client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete catalog doc %q: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete catalog doc %q: %s", name, res.Status())
	}
	return nil
}

// SearchQuery narrows a catalog search. Zero values mean no constraint.
type SearchQuery struct {
	Text   string
	Status models.NOFOStatus
	Pinned *bool
	Size   int
}

// Search runs a bool query over name/agency/category with optional status
// and pinned filters, pinned entries first.
func (c *Catalog) Search(ctx context.Context, query SearchQuery) ([]models.NOFOMetadata, error) {
	size := query.Size
	if size <= 0 {
		size = 50
	}

	must := []map[string]interface{}{}
	if query.Text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query.Text,
				"fields":    []string{"name^2", "agency", "category"},
				"fuzziness": "AUTO",
			},
		})
	}

	filter := []map[string]interface{}{}
	if query.Status != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"status": string(query.Status)},
		})
	}
	if query.Pinned != nil {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"isPinned": *query.Pinned},
		})
	}

	boolQuery := map[string]interface{}{}
	if len(must) > 0 {
		boolQuery["must"] = must
	} else {
		boolQuery["must"] = []map[string]interface{}{{"match_all": map[string]interface{}{}}}
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}

	searchBody := map[string]interface{}{
		"size":  size,
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": []map[string]interface{}{
			{"isPinned": map[string]interface{}{"order": "desc"}},
			{"_score": map[string]interface{}{"order": "desc"}},
		},
	}

	body, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("marshal catalog search: %w", err)
	}

	res, err := c.es.Client.Search(
		c.es.Client.Search.WithContext(ctx),
		c.es.Client.Search.WithIndex(c.index),
		c.es.Client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("catalog search: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.NOFOMetadata `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode catalog search response: %w", err)
	}

	rows := make([]models.NOFOMetadata, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		rows = append(rows, hit.Source)
	}
	return rows, nil
}
