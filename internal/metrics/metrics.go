// Package metrics collects operational counters for modelvault.
//
// The registry is deliberately small: engine operations are counted with
// atomic counters and gauges, durations and payload sizes land in fixed-bucket
// histograms, and the whole set can be written in Prometheus text format or
// snapshotted as a map. A long-lived watch process can expose the registry
// over HTTP; one-shot CLI commands simply never ask for it.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing counter, safe for concurrent use.
type Counter struct {
	name  string
	help  string
	value atomic.Uint64
}

func (c *Counter) Inc()          { c.value.Add(1) }
func (c *Counter) Add(v uint64)  { c.value.Add(v) }
func (c *Counter) Value() uint64 { return c.value.Load() }
func (c *Counter) Name() string  { return c.name }

// Gauge is a value that can move in both directions.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }
func (g *Gauge) Name() string { return g.name }

// DurationBuckets cover engine operations, from sub-millisecond restores to
// pulls that sit through a settle interval (seconds).
var DurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// SizeBuckets cover payload sizes in bytes, up to design files in the
// hundreds of megabytes.
var SizeBuckets = []float64{
	1024, 16384, 262144, 1048576, 8388608, 67108864, 268435456,
}

// Histogram tracks a distribution over fixed buckets. Counts are kept per
// bucket and only accumulated when rendered, so Observe touches one slot.
type Histogram struct {
	name   string
	help   string
	bounds []float64

	mu     sync.Mutex
	counts []uint64 // one slot per bound, plus a trailing +Inf slot
	sum    float64
	count  uint64
}

func newHistogram(name, help string, bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{
		name:   name,
		help:   help,
		bounds: sorted,
		counts: make([]uint64, len(sorted)+1),
	}
}

// Observe adds a sample to the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	h.counts[h.slot(v)]++
}

// slot is the index of the first bound >= v; a value on the bound belongs
// in that bucket. Values past the last bound land in the +Inf slot.
func (h *Histogram) slot(v float64) int {
	return sort.SearchFloat64s(h.bounds, v)
}

// ObserveDuration records d converted to seconds.
func (h *Histogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }

// Timer starts a timer whose Stop records the elapsed duration.
func (h *Histogram) Timer() *HistogramTimer {
	return &HistogramTimer{histogram: h, start: time.Now()}
}

func (h *Histogram) Name() string { return h.name }

// stats reads sum and count under the lock.
func (h *Histogram) stats() (float64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum, h.count
}

// Sum returns the sum of observed values.
func (h *Histogram) Sum() float64 { s, _ := h.stats(); return s }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 { _, n := h.stats(); return n }

// Mean returns the mean of observed values, 0 with no observations.
func (h *Histogram) Mean() float64 {
	s, n := h.stats()
	if n == 0 {
		return 0
	}
	return s / float64(n)
}

// HistogramTimer records a duration into its histogram when stopped.
type HistogramTimer struct {
	histogram *Histogram
	start     time.Time
}

// Stop records the elapsed duration and returns it.
func (t *HistogramTimer) Stop() time.Duration {
	d := time.Since(t.start)
	t.histogram.ObserveDuration(d)
	return d
}

// Registry holds registered metrics under a common name prefix.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	namespace string
}

// NewRegistry creates a registry whose metric names carry the namespace
// prefix.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace:  namespace,
		counters:   map[string]*Counter{},
		gauges:     map[string]*Gauge{},
		histograms: map[string]*Histogram{},
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// RegisterCounter registers a counter, returning the existing one when the
// name is already taken.
func (r *Registry) RegisterCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	if c, ok := r.counters[full]; ok {
		return c
	}
	c := &Counter{name: full, help: help}
	r.counters[full] = c
	return c
}

// RegisterGauge registers a gauge, returning the existing one when the name
// is already taken.
func (r *Registry) RegisterGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	if g, ok := r.gauges[full]; ok {
		return g
	}
	g := &Gauge{name: full, help: help}
	r.gauges[full] = g
	return g
}

// RegisterHistogram registers a histogram over the given buckets, returning
// the existing one when the name is already taken.
func (r *Registry) RegisterHistogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(buckets) == 0 {
		buckets = DurationBuckets
	}
	full := r.fullName(name)
	if h, ok := r.histograms[full]; ok {
		return h
	}
	h := newHistogram(full, help, buckets)
	r.histograms[full] = h
	return h
}

// WritePrometheus writes every metric in Prometheus text format, sorted by
// name so output is stable.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range sortedByName(r.counters) {
		preamble(w, c.name, c.help, "counter")
		fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
	}

	for _, g := range sortedByName(r.gauges) {
		preamble(w, g.name, g.help, "gauge")
		fmt.Fprintf(w, "%s %d\n", g.name, g.Value())
	}

	for _, h := range sortedByName(r.histograms) {
		h.mu.Lock()
		preamble(w, h.name, h.help, "histogram")
		var cum uint64
		for i, bound := range h.bounds {
			cum += h.counts[i]
			fmt.Fprintf(w, "%s_bucket{le=\"%g\"} %d\n", h.name, bound, cum)
		}
		cum += h.counts[len(h.bounds)]
		fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, cum)
		fmt.Fprintf(w, "%s_sum %g\n", h.name, h.sum)
		fmt.Fprintf(w, "%s_count %d\n", h.name, h.count)
		h.mu.Unlock()
	}

	return nil
}

func preamble(w io.Writer, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

type named interface{ Name() string }

func sortedByName[M named](m map[string]M) []M {
	out := make([]M, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Snapshot returns the current value of every metric. Histograms contribute
// their count and mean.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]any)
	for name, c := range r.counters {
		snap[name] = c.Value()
	}
	for name, g := range r.gauges {
		snap[name] = g.Value()
	}
	for name, h := range r.histograms {
		snap[name+"_count"] = h.Count()
		snap[name+"_mean"] = h.Mean()
	}
	return snap
}

// HTTPHandler serves the registry in Prometheus text format.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var b strings.Builder
		r.WritePrometheus(&b)
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		io.WriteString(w, b.String())
	})
}

var defaultRegistry = NewRegistry("modelvault")

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}
