// metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Record outcomes, used as the "outcome" label.
const (
	OutcomeAccepted        = "accepted"
	OutcomeInvalidSyntax   = "invalid_syntax"
	OutcomeUnwantedTerm    = "unwanted_term"
	OutcomeUntrustedDomain = "untrusted_domain"
)

// Sieve holds the counters for one run. Its registry is private to the run so
// the textfile written at the end contains only this run's numbers.
//
// All methods are safe on a nil *Sieve, which lets components accept
// optional metrics without checks at every call site.
type Sieve struct {
	registry *prometheus.Registry

	records      *prometheus.CounterVec
	lookups      *prometheus.CounterVec
	cacheHits    prometheus.Counter
	batchWritten prometheus.Counter
}

// New creates the run's counters plus Go runtime and process collectors.
func New(logger *zap.Logger) *Sieve {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sieve{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailsieve_records_total",
			Help: "Input records by filter outcome.",
		}, []string{"outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailsieve_domain_lookups_total",
			Help: "DNS lookups performed, by record type and result.",
		}, []string{"type", "result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailsieve_domain_cache_hits_total",
			Help: "Domain resolutions answered from the run cache.",
		}),
		batchWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailsieve_batches_written_total",
			Help: "Batches appended to the output artifact.",
		}),
	}

	mustRegister(logger, s.registry, "records counter", s.records)
	mustRegister(logger, s.registry, "lookups counter", s.lookups)
	mustRegister(logger, s.registry, "cache hit counter", s.cacheHits)
	mustRegister(logger, s.registry, "batch counter", s.batchWritten)
	mustRegister(logger, s.registry, "Go collector", collectors.NewGoCollector())
	mustRegister(logger, s.registry, "process collector", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return s
}

func mustRegister(logger *zap.Logger, reg *prometheus.Registry, name string, c prometheus.Collector) {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		logger.Fatal("failed to register "+name, zap.Error(err))
	}
}

// Record counts one record with the given outcome.
func (s *Sieve) Record(outcome string) {
	if s == nil {
		return
	}
	s.records.WithLabelValues(outcome).Inc()
}

// Lookup counts one DNS lookup. kind is "a" or "mx".
func (s *Sieve) Lookup(kind string, ok bool) {
	if s == nil {
		return
	}
	result := "fail"
	if ok {
		result = "ok"
	}
	s.lookups.WithLabelValues(kind, result).Inc()
}

// CacheHit counts one resolution served from the cache.
func (s *Sieve) CacheHit() {
	if s == nil {
		return
	}
	s.cacheHits.Inc()
}

// BatchWritten counts one appended batch.
func (s *Sieve) BatchWritten() {
	if s == nil {
		return
	}
	s.batchWritten.Inc()
}

// Registry exposes the run registry, mainly for tests.
func (s *Sieve) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// WriteTextfile writes all metrics in the Prometheus text format, suitable
// for node_exporter's textfile collector. The write is atomic.
func (s *Sieve) WriteTextfile(path string) error {
	if s == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, s.registry)
}
