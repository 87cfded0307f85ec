// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Sync metrics
	BlocksProcessed      prometheus.Counter
	OperationsExtracted  *prometheus.CounterVec
	RowsPersisted        *prometheus.CounterVec
	PersistenceConflicts prometheus.Counter
	DecodeAnomalies      *prometheus.CounterVec
	Reconnects           *prometheus.CounterVec
	HighestBlock         prometheus.Gauge
	ChainHead            prometheus.Gauge

	// Latency metrics
	BlockProcessingLatency prometheus.Histogram
	RPCCallLatency         *prometheus.HistogramVec

	// Aggregation metrics
	AggregationRuns     *prometheus.CounterVec
	AggregationDuration prometheus.Histogram

	// Pricing metrics
	QuoteCacheLookups *prometheus.CounterVec

	// Publish metrics
	PublishErrors prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulPass prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sora_dex_indexer"
	}

	return &Metrics{
		BlocksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "blocks_processed_total",
			Help:      "Total number of blocks processed",
		}),
		OperationsExtracted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "operations_extracted_total",
			Help:      "Total number of operations extracted by kind",
		}, []string{"kind"}),
		RowsPersisted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rows_persisted_total",
			Help:      "Total number of rows persisted by table",
		}, []string{"table"}),
		PersistenceConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "persistence_conflicts_total",
			Help:      "Total number of block writes retried after a duplicate key",
		}),
		DecodeAnomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "decode_anomalies_total",
			Help:      "Total number of extrinsics skipped for unexpected payload shape",
		}, []string{"call"}),
		Reconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "reconnects_total",
			Help:      "Total number of chain reconnect attempts by outcome",
		}, []string{"outcome"}),
		HighestBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "highest_block_persisted",
			Help:      "Highest block number persisted",
		}),
		ChainHead: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "chain_head",
			Help:      "Latest finalized block number reported by the node",
		}),

		BlockProcessingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "block_processing_latency_seconds",
			Help:      "Time from block fetch to rows handed to storage",
			Buckets:   prometheus.DefBuckets,
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "rpc_call_latency_seconds",
			Help:      "Node RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		AggregationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "runs_total",
			Help:      "Total number of aggregation runs by status",
		}, []string{"status"}),
		AggregationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "duration_seconds",
			Help:      "Aggregation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),

		QuoteCacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "quote_cache_lookups_total",
			Help:      "Price cache lookups by result",
		}, []string{"result"}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "errors_total",
			Help:      "Blocks whose operations could not be published",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulPass: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_pass_timestamp",
			Help:      "Unix timestamp of the last sync pass that reached the chain head",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordBlockProcessed counts a block and its processing latency.
func RecordBlockProcessed(seconds float64) {
	DefaultMetrics.BlocksProcessed.Inc()
	DefaultMetrics.BlockProcessingLatency.Observe(seconds)
}

// RecordOperation counts an extracted operation.
func RecordOperation(kind string) {
	DefaultMetrics.OperationsExtracted.WithLabelValues(kind).Inc()
}

// RecordRowsPersisted counts rows written to a table.
func RecordRowsPersisted(table string, n int) {
	if n > 0 {
		DefaultMetrics.RowsPersisted.WithLabelValues(table).Add(float64(n))
	}
}

// RecordConflict counts a duplicate-key retry.
func RecordConflict() {
	DefaultMetrics.PersistenceConflicts.Inc()
}

// RecordDecodeAnomaly counts an extrinsic skipped for its payload shape.
func RecordDecodeAnomaly(call string) {
	DefaultMetrics.DecodeAnomalies.WithLabelValues(call).Inc()
}

// RecordReconnect counts a reconnect attempt. outcome is "ok" or "failed".
func RecordReconnect(outcome string) {
	DefaultMetrics.Reconnects.WithLabelValues(outcome).Inc()
}

// UpdateHighestBlock updates the highest persisted block gauge.
func UpdateHighestBlock(block int64) {
	DefaultMetrics.HighestBlock.Set(float64(block))
}

// UpdateChainHead updates the chain head gauge.
func UpdateChainHead(block int64) {
	DefaultMetrics.ChainHead.Set(float64(block))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordAggregation records an aggregation run.
func RecordAggregation(status string, durationSeconds float64) {
	DefaultMetrics.AggregationRuns.WithLabelValues(status).Inc()
	DefaultMetrics.AggregationDuration.Observe(durationSeconds)
}

// RecordQuoteCache records a price cache hit or miss.
func RecordQuoteCache(hit bool) {
	if hit {
		DefaultMetrics.QuoteCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	DefaultMetrics.QuoteCacheLookups.WithLabelValues("miss").Inc()
}

// RecordPublishError counts a failed publish.
func RecordPublishError() {
	DefaultMetrics.PublishErrors.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkPassComplete stamps the last successful pass time.
func MarkPassComplete(t time.Time) {
	DefaultMetrics.LastSuccessfulPass.Set(float64(t.Unix()))
}
