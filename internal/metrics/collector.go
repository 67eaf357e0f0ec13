// Package metrics keeps in-process relay counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewCollector("relaybot")

// Registry holds counters, gauges and histograms keyed by name and labels.
type Registry struct {
	prefix    string
	startTime time.Time

	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewCollector creates an empty registry whose uptime metric is named
// <prefix>_uptime_seconds.
func NewCollector(prefix string) *Registry {
	return &Registry{
		prefix:     prefix,
		startTime:  time.Now(),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

type meta struct {
	name   string
	help   string
	labels string
}

// Counter only goes up.
type Counter struct {
	meta
	value atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge goes up and down.
type Gauge struct {
	meta
	value atomic.Int64
}

func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	meta
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func key(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns the counter for name and labels, creating it on first use.
func (r *Registry) Counter(name, help, labels string) *Counter {
	k := key(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[k]; ok {
		return c
	}
	c := &Counter{meta: meta{name, help, labels}}
	r.counters[k] = c
	return c
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	k := key(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[k]; ok {
		return g
	}
	g := &Gauge{meta: meta{name, help, labels}}
	r.gauges[k] = g
	return g
}

// Histogram returns the histogram for name and labels, creating it on first
// use with the given upper bounds.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	k := key(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[k]; ok {
		return h
	}
	b := append([]float64{}, bounds...)
	sort.Float64s(b)
	h := &Histogram{meta: meta{name, help, labels}, bounds: b, counts: make([]int64, len(b))}
	r.histograms[k] = h
	return h
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

// WriteTo renders every metric, grouped by name in sorted order.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP %s_uptime_seconds Time since start in seconds\n", r.prefix)
	fmt.Fprintf(&sb, "# TYPE %s_uptime_seconds gauge\n", r.prefix)
	fmt.Fprintf(&sb, "%s_uptime_seconds %d\n", r.prefix, int64(time.Since(r.startTime).Seconds()))

	r.mu.RLock()
	counters := sortedValues(r.counters)
	gauges := sortedValues(r.gauges)
	histograms := sortedValues(r.histograms)
	r.mu.RUnlock()

	written := map[string]bool{}
	for _, c := range counters {
		writeHeader(&sb, written, c.meta, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(c.name, c.labels), c.Value())
	}
	for _, g := range gauges {
		writeHeader(&sb, written, g.meta, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, h := range histograms {
		writeHeader(&sb, written, h.meta, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", joinLabels(h.labels, `le="`+bound+`"`)), h.counts[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", joinLabels(h.labels, `le="+Inf"`)), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func writeHeader(sb *strings.Builder, written map[string]bool, m meta, kind string) {
	if written[m.name] {
		return
	}
	fmt.Fprintf(sb, "# HELP %s %s\n", m.name, m.help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", m.name, kind)
	written[m.name] = true
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// --- Relay metrics ---

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var (
	EventsReceived = Collector.Counter("relaybot_events_received_total", "Inbound message events observed", "")

	ClassifiedCommand = Collector.Counter("relaybot_events_classified_total", "Events by classification", `kind="command"`)
	ClassifiedChat    = Collector.Counter("relaybot_events_classified_total", "Events by classification", `kind="chat"`)
	ClassifiedIgnore  = Collector.Counter("relaybot_events_classified_total", "Events by classification", `kind="ignore"`)

	DeliveryAttempts = Collector.Counter("relaybot_delivery_attempts_total", "Webhook POST attempts", "")
	Delivered        = Collector.Counter("relaybot_deliveries_total", "Finished delivery sequences", `outcome="delivered"`)
	DeliveryFailed   = Collector.Counter("relaybot_deliveries_total", "Finished delivery sequences", `outcome="permanent_failure"`)
	PipelineErrors   = Collector.Counter("relaybot_pipeline_errors_total", "Events dropped by an unexpected pipeline error", "")
	InFlight         = Collector.Gauge("relaybot_pipelines_in_flight", "Event pipelines currently running", "")

	DeliveryLatency = Collector.Histogram("relaybot_delivery_seconds", "Time from first attempt to final outcome", "", latencyBuckets)
)
