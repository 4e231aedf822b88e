// grantwell-ingest runs one ingestion pass over the grants listing and
// exits. Meant for cron or manual runs where the server's async trigger is
// not available.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	commonaws "grantwell/internal/common/aws"
	"grantwell/internal/common/config"
	"grantwell/internal/common/database"
	"grantwell/internal/common/logger"
	"grantwell/internal/grants"
	"grantwell/internal/nofo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewStructured("info", "json").WithError(err).Error("failed to load configuration", nil)
		os.Exit(1)
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s3Client, err := commonaws.NewS3Client(ctx, cfg.AWS.Region)
	if err != nil {
		log.WithError(err).Error("failed to create s3 client", nil)
		os.Exit(1)
	}
	dbClient, err := commonaws.NewDynamoDBClient(ctx, cfg.AWS.Region)
	if err != nil {
		log.WithError(err).Error("failed to create dynamodb client", nil)
		os.Exit(1)
	}
	bedrock, err := commonaws.NewBedrockClient(ctx, cfg.AWS.Region)
	if err != nil {
		log.WithError(err).Error("failed to create bedrock client", nil)
		os.Exit(1)
	}

	source := grants.NewClient(&grants.Config{
		BaseURL:  cfg.Grants.BaseURL,
		APIKey:   cfg.Grants.APIKey,
		PageSize: cfg.Grants.PageSize,
		Timeout:  time.Duration(cfg.Grants.Timeout) * time.Millisecond,
	})
	metadata := nofo.NewMetadataStore(dbClient, cfg.AWS.NOFOTable)
	picker := nofo.NewDisambiguator(bedrock, cfg.AWS.ClassifyModelID, log)

	pipeline := nofo.NewPipeline(&nofo.PipelineConfig{
		Bucket:           cfg.AWS.NOFOBucket,
		MaxPages:         cfg.Grants.MaxPages,
		OpportunityDelay: time.Duration(cfg.Grants.OpportunityDelayMS) * time.Millisecond,
		PageDelay:        time.Duration(cfg.Grants.PageDelayMS) * time.Millisecond,
		TopicARN:         cfg.AWS.SNS.TopicARN,
	}, source, s3Client, metadata, picker, log)

	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
		esClient, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			log.WithError(err).Warn("catalog indexing disabled, elasticsearch client creation failed", nil)
		} else {
			pipeline = pipeline.WithIndexer(nofo.NewCatalog(esClient, cfg.Database.Elasticsearch.Index, log))
		}
	}
	if cfg.AWS.SNS.Enabled {
		snsClient, err := commonaws.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			log.WithError(err).Warn("sns disabled, client creation failed", nil)
		} else {
			pipeline = pipeline.WithNotifier(snsClient)
		}
	}

	result := pipeline.Run(ctx)
	log.Info("ingestion run finished", map[string]interface{}{
		"processed":  result.Processed,
		"ingested":   result.Ingested,
		"backfilled": result.Backfilled,
		"skipped":    result.Skipped,
		"aborted":    result.Aborted,
		"errors":     len(result.Errors),
	})
	for _, runErr := range result.Errors {
		log.Warn("opportunity failed", map[string]interface{}{"error": runErr})
	}

	if result.Aborted {
		os.Exit(1)
	}
}
