package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
)

// AgentClient controls knowledge base ingestion jobs.
type AgentClient struct {
	client          *bedrockagent.Client
	knowledgeBaseID string
	dataSourceID    string
}

func NewAgentClient(ctx context.Context, region, knowledgeBaseID, dataSourceID string) (*AgentClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &AgentClient{
		client:          bedrockagent.NewFromConfig(cfg),
		knowledgeBaseID: knowledgeBaseID,
		dataSourceID:    dataSourceID,
	}, nil
}

func (a *AgentClient) listJobsByStatus(ctx context.Context, status types.IngestionJobStatus) ([]types.IngestionJobSummary, error) {
	out, err := a.client.ListIngestionJobs(ctx, &bedrockagent.ListIngestionJobsInput{
		KnowledgeBaseId: aws.String(a.knowledgeBaseID),
		DataSourceId:    aws.String(a.dataSourceID),
		Filters: []types.IngestionJobFilter{
			{
				Attribute: types.IngestionJobFilterAttributeStatus,
				Operator:  types.IngestionJobFilterOperatorEq,
				Values:    []string{string(status)},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return out.IngestionJobSummaries, nil
}

// SyncRunning reports whether a sync job is currently starting or in progress.
func (a *AgentClient) SyncRunning(ctx context.Context) (bool, error) {
	inProgress, err := a.listJobsByStatus(ctx, types.IngestionJobStatusInProgress)
	if err != nil {
		return false, err
	}
	starting, err := a.listJobsByStatus(ctx, types.IngestionJobStatusStarting)
	if err != nil {
		return false, err
	}
	return len(inProgress)+len(starting) > 0, nil
}

func (a *AgentClient) StartSync(ctx context.Context) error {
	_, err := a.client.StartIngestionJob(ctx, &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(a.knowledgeBaseID),
		DataSourceId:    aws.String(a.dataSourceID),
	})
	return err
}

// LastSyncTime returns the completion time of the most recent finished sync.
func (a *AgentClient) LastSyncTime(ctx context.Context) (time.Time, error) {
	complete, err := a.listJobsByStatus(ctx, types.IngestionJobStatusComplete)
	if err != nil {
		return time.Time{}, err
	}
	if len(complete) == 0 {
		return time.Time{}, nil
	}
	return aws.ToTime(complete[0].UpdatedAt), nil
}
