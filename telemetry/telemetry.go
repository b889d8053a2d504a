package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted while schemas are loaded and
// configuration objects are finalized.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. Hooks run inline with schema loading and finalization,
// so they should be inexpensive.
type Collector interface {
	IncSchemaLoad(source string)
	IncSchemaCacheHit(source string)
	IncHotReload(file string)
	AddPrunedParameters(count int)
	IncFinalizeConflict(key string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncSchemaLoad(string)       {}
func (noopCollector) IncSchemaCacheHit(string)   {}
func (noopCollector) IncHotReload(string)        {}
func (noopCollector) AddPrunedParameters(int)    {}
func (noopCollector) IncFinalizeConflict(string) {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	schemaLoads       *prometheus.CounterVec
	schemaCacheHits   *prometheus.CounterVec
	hotReloads        *prometheus.CounterVec
	prunedParameters  prometheus.Counter
	finalizeConflicts *prometheus.CounterVec
}

var (
	sharedMu        sync.Mutex
	sharedCollector *PrometheusCollector
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Metrics already registered by an earlier call are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedCollector != nil {
		return sharedCollector, nil
	}

	loads, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "emodcfg_schema_loads_total",
		Help: "Number of schema documents decoded per source.",
	}, "source")
	if err != nil {
		return nil, err
	}
	hits, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "emodcfg_schema_cache_hits_total",
		Help: "Number of schema requests served from the cache per source.",
	}, "source")
	if err != nil {
		return nil, err
	}
	reloads, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "emodcfg_hot_reload_total",
		Help: "Number of rebuilds triggered per changed source file.",
	}, "file")
	if err != nil {
		return nil, err
	}
	conflicts, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "emodcfg_finalize_conflicts_total",
		Help: "Number of explicitly set parameters rejected because a dependency disabled them.",
	}, "key")
	if err != nil {
		return nil, err
	}
	pruned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emodcfg_pruned_parameters_total",
		Help: "Number of parameters removed by finalization.",
	})
	if err := reg.Register(pruned); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, err
		}
		pruned = existing
	}

	sharedCollector = &PrometheusCollector{
		schemaLoads:       loads,
		schemaCacheHits:   hits,
		hotReloads:        reloads,
		prunedParameters:  pruned,
		finalizeConflicts: conflicts,
	}
	return sharedCollector, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return counter, nil
}

// IncSchemaLoad counts a schema decode for the provided source.
func (p *PrometheusCollector) IncSchemaLoad(source string) {
	if p == nil || p.schemaLoads == nil {
		return
	}
	p.schemaLoads.WithLabelValues(source).Inc()
}

// IncSchemaCacheHit counts a schema request answered from the cache.
func (p *PrometheusCollector) IncSchemaCacheHit(source string) {
	if p == nil || p.schemaCacheHits == nil {
		return
	}
	p.schemaCacheHits.WithLabelValues(source).Inc()
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// AddPrunedParameters records parameters dropped during finalization.
func (p *PrometheusCollector) AddPrunedParameters(count int) {
	if p == nil || p.prunedParameters == nil || count <= 0 {
		return
	}
	p.prunedParameters.Add(float64(count))
}

// IncFinalizeConflict records a disabled explicit parameter.
func (p *PrometheusCollector) IncFinalizeConflict(key string) {
	if p == nil || p.finalizeConflicts == nil {
		return
	}
	p.finalizeConflicts.WithLabelValues(key).Inc()
}

func resetForTest() {
	sharedMu.Lock()
	sharedCollector = nil
	sharedMu.Unlock()
}
