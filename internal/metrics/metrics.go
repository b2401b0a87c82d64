// Package metrics exposes run counters on a private Prometheus registry and
// exports them to a node_exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/popfix/internal/cache"
	"github.com/ppiankov/popfix/internal/model"
)

// Metrics holds the collectors of one process
type Metrics struct {
	registry *prometheus.Registry

	entities       *prometheus.CounterVec
	commands       *prometheus.CounterVec
	rules          *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	cacheLookups   *prometheus.GaugeVec
	entityDuration prometheus.Histogram
	lastRun        prometheus.Gauge
}

// New registers the popfix collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		entities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "popfix_entities_total",
			Help: "Entities processed by outcome",
		}, []string{"status"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "popfix_commands_total",
			Help: "Correction commands emitted by kind",
		}, []string{"kind"}),
		rules: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "popfix_rule_applications_total",
			Help: "Resolution rules applied",
		}, []string{"rule"}),
		fetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "popfix_fetch_attempts_total",
			Help: "Entity and lookup request attempts by outcome",
		}, []string{"outcome"}),
		cacheLookups: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "popfix_cache_lookups",
			Help: "Code listing cache lookups of the last run by result",
		}, []string{"result"}),
		entityDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "popfix_entity_duration_seconds",
			Help:    "Fetch and resolve time per entity",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "popfix_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEntity records the outcome of one entity
func (m *Metrics) ObserveEntity(e *model.EntityReport) {
	if m == nil || e == nil {
		return
	}
	m.entities.WithLabelValues(string(e.Status)).Inc()
	m.entityDuration.Observe(e.Duration.Seconds())
	for _, d := range e.Decisions {
		m.rules.WithLabelValues(string(d.Rule)).Inc()
	}
	if e.Status != model.StatusFixed {
		return
	}
	for _, c := range e.Commands {
		m.commands.WithLabelValues(string(c.Kind)).Inc()
	}
}

// ObserveFetch records one request attempt outcome
func (m *Metrics) ObserveFetch(outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(outcome).Inc()
}

// ObserveCache records the lookup counts of the listing cache
func (m *Metrics) ObserveCache(s cache.Stats) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("memory_hit").Set(float64(s.MemoryHits))
	m.cacheLookups.WithLabelValues("disk_hit").Set(float64(s.DiskHits))
	m.cacheLookups.WithLabelValues("miss").Set(float64(s.Misses))
}

// RunFinished stamps the end of a run
func (m *Metrics) RunFinished(at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile exports every metric in the text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
