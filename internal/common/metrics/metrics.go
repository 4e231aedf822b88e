package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpportunitiesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantwell_opportunities_processed_total",
			Help: "Total number of opportunities processed by the ingestion pipeline",
		},
		[]string{"outcome"},
	)

	PipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "grantwell_pipeline_run_duration_seconds",
			Help: "Duration of full ingestion pipeline runs in seconds",
		},
	)

	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantwell_chat_turns_total",
			Help: "Total number of chat turns handled",
		},
		[]string{"outcome"},
	)

	ChatToolRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grantwell_chat_tool_rounds",
			Help:    "Retrieval tool round-trips per chat turn",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)

	RetrievalQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantwell_retrieval_queries_total",
			Help: "Total number of knowledge base retrieval queries",
		},
		[]string{"corpus", "outcome"},
	)

	HandlerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantwell_handler_requests_total",
			Help: "Total number of REST handler requests",
		},
		[]string{"handler", "status"},
	)
)
