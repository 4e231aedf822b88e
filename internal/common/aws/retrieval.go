package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

// RetrievedChunk is one scored snippet from the knowledge base.
type RetrievedChunk struct {
	Text  string
	URI   string
	Score float64
}

// KnowledgeBaseClient queries a Bedrock knowledge base with structured
// metadata filters (AND of equality predicates).
type KnowledgeBaseClient struct {
	client          *bedrockagentruntime.Client
	knowledgeBaseID string
}

func NewKnowledgeBaseClient(ctx context.Context, region, knowledgeBaseID string) (*KnowledgeBaseClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &KnowledgeBaseClient{
		client:          bedrockagentruntime.NewFromConfig(cfg),
		knowledgeBaseID: knowledgeBaseID,
	}, nil
}

// Retrieve runs a vector query. filters are ANDed equality predicates on
// document metadata; pass nil for an unfiltered query.
func (k *KnowledgeBaseClient) Retrieve(ctx context.Context, query string, filters map[string]string, count int32) ([]RetrievedChunk, error) {
	vectorCfg := &types.KnowledgeBaseVectorSearchConfiguration{
		NumberOfResults: aws.Int32(count),
	}
	if len(filters) > 0 {
		vectorCfg.Filter = buildFilter(filters)
	}

	out, err := k.client.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(k.knowledgeBaseID),
		RetrievalQuery:  &types.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: vectorCfg,
		},
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]RetrievedChunk, 0, len(out.RetrievalResults))
	for _, r := range out.RetrievalResults {
		chunk := RetrievedChunk{}
		if r.Content != nil {
			chunk.Text = aws.ToString(r.Content.Text)
		}
		if r.Location != nil && r.Location.S3Location != nil {
			chunk.URI = aws.ToString(r.Location.S3Location.Uri)
		}
		if r.Score != nil {
			chunk.Score = *r.Score
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func buildFilter(filters map[string]string) types.RetrievalFilter {
	predicates := make([]types.RetrievalFilter, 0, len(filters))
	for key, value := range filters {
		predicates = append(predicates, &types.RetrievalFilterMemberEquals{
			Value: types.FilterAttribute{
				Key:   aws.String(key),
				Value: document.NewLazyDocument(value),
			},
		})
	}
	if len(predicates) == 1 {
		return predicates[0]
	}
	return &types.RetrievalFilterMemberAndAll{Value: predicates}
}
