package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grantwell/internal/chat"
	commonaws "grantwell/internal/common/aws"
	"grantwell/internal/common/config"
	"grantwell/internal/common/database"
	"grantwell/internal/common/logger"
	"grantwell/internal/common/observability"
	"grantwell/internal/draft"
	"grantwell/internal/feedback"
	"grantwell/internal/grants"
	"grantwell/internal/jobs"
	"grantwell/internal/knowledge"
	"grantwell/internal/nofo"
	"grantwell/internal/server"
	"grantwell/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewStructured("info", "json").WithError(err).Error("failed to load configuration", nil)
		os.Exit(1)
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting grantwell server", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	obs := observability.New(cfg.App.Name, cfg.Observability.JaegerEndpoint)
	defer obs.Shutdown()

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
	kbClient, err := commonaws.NewKnowledgeBaseClient(ctx, cfg.AWS.Region, cfg.AWS.KnowledgeBaseID)
	if err != nil {
		log.WithError(err).Error("failed to create knowledge base client", nil)
		os.Exit(1)
	}
	agentClient, err := commonaws.NewAgentClient(ctx, cfg.AWS.Region, cfg.AWS.KnowledgeBaseID, cfg.AWS.DataSourceID)
	if err != nil {
		log.WithError(err).Error("failed to create bedrock agent client", nil)
		os.Exit(1)
	}

	redisClient, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		log.WithError(err).Error("failed to create redis client", nil)
		os.Exit(1)
	}
	defer redisClient.Close()

	// The search catalog is optional; without Elasticsearch the listing
	// endpoint reads the metadata store directly.
	var catalog *nofo.Catalog
	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
		esClient, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			log.WithError(err).Error("failed to create elasticsearch client", nil)
			os.Exit(1)
		}
		catalog = nofo.NewCatalog(esClient, cfg.Database.Elasticsearch.Index, log)
	}

	sessionStore := session.NewStore(dbClient, cfg.AWS.SessionTable)
	draftStore := draft.NewStore(dbClient, cfg.AWS.DraftTable)
	feedbackStore := feedback.NewStore(dbClient, cfg.AWS.FeedbackTable)
	metadataStore := nofo.NewMetadataStore(dbClient, cfg.AWS.NOFOTable)

	retriever := chat.NewDualRetriever(kbClient, cfg.Chat.ScoreThreshold, int32(cfg.Chat.ResultCount), log)
	titler := chat.NewTitler(bedrock, cfg.AWS.TitleModelID, log)
	chatHandler := chat.NewHandler(
		&chat.Config{
			ChatModelID:   cfg.AWS.ChatModelID,
			MaxToolRounds: cfg.Chat.MaxToolRounds,
		},
		&server.BedrockStreamOpener{Client: bedrock},
		retriever,
		sessionStore,
		titler,
		log,
	)

	pipeline := buildPipeline(ctx, cfg, s3Client, metadataStore, bedrock, catalog, log)
	tracker := jobs.NewStatusStore(redisClient.Client, 24*time.Hour)

	var searcher nofo.CatalogSearcher
	if catalog != nil {
		searcher = catalog
	}
	catalogHandler := nofo.NewHTTPHandler(metadataStore, searcher, pipeline, tracker, log)

	handlers := server.Handlers{
		Session:    session.NewHandler(sessionStore, log),
		Draft:      draft.NewHandler(draftStore, log),
		ChatSocket: traced(obs, "chat.connection", chat.NewSocketHandler(chatHandler, log)),
		Feedback: feedback.NewHandler(&feedback.Config{
			ExportBucket: cfg.AWS.FeedbackBucket,
		}, feedbackStore, s3Client, log),
		Knowledge: knowledge.NewHandler(&knowledge.Config{
			DocumentBucket: cfg.AWS.NOFOBucket,
		}, agentClient, s3Client, log),
		Catalog: catalogHandler,
	}

	srv := server.New(cfg.Server, handlers, log)
	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Error("server failed", nil)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown failed", nil)
		os.Exit(1)
	}
	log.Info("server stopped", nil)
}

// traced opens a span per connection and records its lifetime. A websocket
// connection spans the whole conversation, so its duration is the
// conversation's.
func traced(obs *observability.Observability, name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := obs.StartSpan(r.Context(), name)
		defer span.End()

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		obs.RecordTurn(ctx, "closed")
		obs.RecordTurnDuration(ctx, time.Since(start), "closed")
	})
}

func buildPipeline(ctx context.Context, cfg *config.Config, s3Client *commonaws.S3Client, metadata *nofo.MetadataStore, bedrock *commonaws.BedrockClient, catalog *nofo.Catalog, log logger.Logger) *nofo.Pipeline {
	source := grants.NewClient(&grants.Config{
		BaseURL:  cfg.Grants.BaseURL,
		APIKey:   cfg.Grants.APIKey,
		PageSize: cfg.Grants.PageSize,
		Timeout:  time.Duration(cfg.Grants.Timeout) * time.Millisecond,
	})
	picker := nofo.NewDisambiguator(bedrock, cfg.AWS.ClassifyModelID, log)

	pipeline := nofo.NewPipeline(&nofo.PipelineConfig{
		Bucket:           cfg.AWS.NOFOBucket,
		MaxPages:         cfg.Grants.MaxPages,
		OpportunityDelay: time.Duration(cfg.Grants.OpportunityDelayMS) * time.Millisecond,
		PageDelay:        time.Duration(cfg.Grants.PageDelayMS) * time.Millisecond,
		TopicARN:         cfg.AWS.SNS.TopicARN,
	}, source, s3Client, metadata, picker, log)

	if catalog != nil {
		pipeline = pipeline.WithIndexer(catalog)
	}
	if cfg.AWS.SNS.Enabled {
		snsClient, err := commonaws.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			log.WithError(err).Warn("sns disabled, client creation failed", nil)
		} else {
			pipeline = pipeline.WithNotifier(snsClient)
		}
	}
	return pipeline
}
