package mqttclient

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryMetrics keeps every series in memory. It is meant for tests and
// for applications that poll values themselves.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*MemoryCounter
	gauges     map[string]*MemoryGauge
	histograms map[string]*MemoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*MemoryCounter),
		gauges:     make(map[string]*MemoryGauge),
		histograms: make(map[string]*MemoryHistogram),
	}
}

// seriesKey renders name and labels with labels sorted by key.
func seriesKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func getOrCreate[T any](mu *sync.RWMutex, m map[string]*T, key string) *T {
	mu.RLock()
	v, ok := m[key]
	mu.RUnlock()
	if ok {
		return v
	}

	mu.Lock()
	defer mu.Unlock()
	if v, ok := m[key]; ok {
		return v
	}
	v = new(T)
	m[key] = v
	return v
}

func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return getOrCreate(&m.mu, m.counters, seriesKey(name, labels))
}

func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return getOrCreate(&m.mu, m.gauges, seriesKey(name, labels))
}

func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return getOrCreate(&m.mu, m.histograms, seriesKey(name, labels))
}

// CounterValue returns the value of a counter, or 0 if it was never
// recorded.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.counters[seriesKey(name, labels)]; ok {
		return c.Value()
	}
	return 0
}

// GaugeValue returns the value of a gauge, or 0 if it was never recorded.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.gauges[seriesKey(name, labels)]; ok {
		return g.Value()
	}
	return 0
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.histograms[seriesKey(name, labels)]; ok {
		return h.Count()
	}
	return 0
}

// atomicFloat is a float64 updated with compare-and-swap.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

func (f *atomicFloat) load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) store(v float64) { f.bits.Store(math.Float64bits(v)) }

// MemoryCounter is the in-memory Counter.
type MemoryCounter struct {
	v atomicFloat
}

func (c *MemoryCounter) Inc()              { c.v.add(1) }
func (c *MemoryCounter) Add(delta float64) { c.v.add(delta) }
func (c *MemoryCounter) Value() float64    { return c.v.load() }

// MemoryGauge is the in-memory Gauge.
type MemoryGauge struct {
	v atomicFloat
}

func (g *MemoryGauge) Set(value float64)  { g.v.store(value) }
func (g *MemoryGauge) Inc()               { g.v.add(1) }
func (g *MemoryGauge) Dec()               { g.v.add(-1) }
func (g *MemoryGauge) Add(delta float64)  { g.v.add(delta) }
func (g *MemoryGauge) Value() float64     { return g.v.load() }

// MemoryHistogram is the in-memory Histogram. It keeps count and sum only.
type MemoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *MemoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *MemoryHistogram) Count() uint64 { return h.count.Load() }
func (h *MemoryHistogram) Sum() float64  { return h.sum.load() }
