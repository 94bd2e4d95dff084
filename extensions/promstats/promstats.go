// Package promstats exports client metrics to Prometheus.
package promstats

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalvas/mqttclient"
)

// Metrics implements mqttclient.Metrics with Prometheus collectors. A
// collector vector is registered the first time a name is used; its label
// names are fixed by that first use.
type Metrics struct {
	reg       prometheus.Registerer
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _ mqttclient.Metrics = (*Metrics)(nil)

// New creates metrics registered on reg. A non-empty namespace prefixes
// every name.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	return &Metrics{
		reg:        reg,
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler serves the metrics of gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func labelNames(labels mqttclient.MetricLabels) []string {
	return slices.Sorted(maps.Keys(labels))
}

func help(name string) string {
	return "MQTT client " + strings.ReplaceAll(strings.TrimPrefix(name, "mqtt_client_"), "_", " ")
}

// register adds c to the registry, reusing an equal collector registered
// earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) Counter(name string, labels mqttclient.MetricLabels) mqttclient.Counter {
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = register(m.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      help(name),
		}, labelNames(labels)))
		m.counters[name] = vec
	}
	m.mu.Unlock()
	return vec.With(prometheus.Labels(labels))
}

func (m *Metrics) Gauge(name string, labels mqttclient.MetricLabels) mqttclient.Gauge {
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = register(m.reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      help(name),
		}, labelNames(labels)))
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	return vec.With(prometheus.Labels(labels))
}

func (m *Metrics) Histogram(name string, labels mqttclient.MetricLabels) mqttclient.Histogram {
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = register(m.reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      help(name),
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, labelNames(labels)))
		m.histograms[name] = vec
	}
	m.mu.Unlock()
	return vec.With(prometheus.Labels(labels))
}
