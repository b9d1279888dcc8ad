// Package metrics exposes Prometheus instrumentation for migration runs.
package metrics

import (
	"net/http"
	"time"

	"catalyst-migrator/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MigrationMetrics tracks a migration run
type MigrationMetrics struct {
	EntitiesEnumerated prometheus.Counter
	Entities           *prometheus.CounterVec
	ContentBytes       prometheus.Counter
	CacheLookups       *prometheus.CounterVec
	DeployDuration     prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMigrationMetrics creates and registers the metrics on registry.
func NewMigrationMetrics(registry *prometheus.Registry) *MigrationMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &MigrationMetrics{
		EntitiesEnumerated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "catalyst_migration_entities_enumerated_total",
			Help: "Number of source entities enumerated",
		}),
		Entities: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "catalyst_migration_entities_total",
			Help: "Processed entities by outcome and the stage they reached",
		}, []string{"outcome", "stage"}),
		ContentBytes: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "catalyst_migration_content_bytes_total",
			Help: "Bytes uploaded to the target catalyst",
		}),
		CacheLookups: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "catalyst_migration_cache_lookups_total",
			Help: "Content cache lookups by result",
		}, []string{"result"}),
		DeployDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "catalyst_migration_deploy_duration_seconds",
			Help:    "Time spent submitting a deployment",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		gatherer: registry,
	}
}

func (m *MigrationMetrics) ObserveEnumerated(n int) {
	m.EntitiesEnumerated.Add(float64(n))
}

func (m *MigrationMetrics) ObserveRecord(rec types.MigrationRecord) {
	m.Entities.WithLabelValues(string(rec.Outcome), string(rec.Stage)).Inc()
}

func (m *MigrationMetrics) ObserveDeploy(bytes int64, d time.Duration) {
	m.ContentBytes.Add(float64(bytes))
	m.DeployDuration.Observe(d.Seconds())
}

// ObserveCacheLookup satisfies storage.LookupRecorder.
func (m *MigrationMetrics) ObserveCacheLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MigrationMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the returned server is shut down.
func (m *MigrationMetrics) StartServer(addr string, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}
