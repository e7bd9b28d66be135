// Metrics collection for the crane host
//
// Counters, gauges and histograms keyed by label sets, exposed in the
// Prometheus text format.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

// sortedKeys returns the label names in lexical order
func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// key identifies a label set inside one metric
func (l Labels) key() string {
	var sb strings.Builder
	for _, k := range l.sortedKeys() {
		sb.WriteString(k)
		sb.WriteByte(0)
		sb.WriteString(l[k])
		sb.WriteByte(0)
	}
	return sb.String()
}

// format renders labels in Prometheus format, with extra pairs appended last
func (l Labels) format(extra ...string) string {
	if len(l) == 0 && len(extra) == 0 {
		return ""
	}
	parts := make([]string, 0, len(l)+len(extra)/2)
	for _, k := range l.sortedKeys() {
		parts = append(parts, k+"=\""+escapeLabel(l[k])+"\"")
	}
	for i := 0; i+1 < len(extra); i += 2 {
		parts = append(parts, extra[i]+"=\""+escapeLabel(extra[i+1])+"\"")
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string {
	return labelEscaper.Replace(s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is the interface for all metric types
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(w io.Writer) error
}

// family holds the series of one metric under a single lock
type family struct {
	name string
	help string
	mu   sync.Mutex
}

func (f *family) Name() string { return f.name }
func (f *family) Help() string { return f.help }

func (f *family) header(w io.Writer, t MetricType) error {
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, t)
	return err
}

type scalar struct {
	labels Labels
	value  float64
}

// sortedScalars returns the series in label-key order
func sortedScalars(m map[string]*scalar) []*scalar {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*scalar, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// Counter is a monotonically increasing metric
type Counter struct {
	family
	series map[string]*scalar
}

// NewCounter creates a new counter metric
func NewCounter(name, help string) *Counter {
	return &Counter{family: family{name: name, help: help}, series: map[string]*scalar{}}
}

func (c *Counter) Type() MetricType { return TypeCounter }

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add increments the counter; negative deltas are ignored
func (c *Counter) Add(labels Labels, delta float64) {
	if delta < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seriesFor(c.series, labels).value += delta
}

// Get returns the current counter value for labels
func (c *Counter) Get(labels Labels) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[labels.key()]; ok {
		return s.value
	}
	return 0
}

func (c *Counter) Write(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeScalars(w, &c.family, TypeCounter, c.series)
}

// Gauge is a metric that can go up and down
type Gauge struct {
	family
	series map[string]*scalar
}

// NewGauge creates a new gauge metric
func NewGauge(name, help string) *Gauge {
	return &Gauge{family: family{name: name, help: help}, series: map[string]*scalar{}}
}

func (g *Gauge) Type() MetricType { return TypeGauge }

// Set sets the gauge to the given value
func (g *Gauge) Set(labels Labels, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seriesFor(g.series, labels).value = value
}

// Add adds delta to the gauge
func (g *Gauge) Add(labels Labels, delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seriesFor(g.series, labels).value += delta
}

// Inc increments the gauge by 1
func (g *Gauge) Inc(labels Labels) { g.Add(labels, 1) }

// Dec decrements the gauge by 1
func (g *Gauge) Dec(labels Labels) { g.Add(labels, -1) }

// Get returns the current gauge value for labels
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.series[labels.key()]; ok {
		return s.value
	}
	return 0
}

func (g *Gauge) Write(w io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return writeScalars(w, &g.family, TypeGauge, g.series)
}

func seriesFor(m map[string]*scalar, labels Labels) *scalar {
	k := labels.key()
	s, ok := m[k]
	if !ok {
		s = &scalar{labels: labels.clone()}
		m[k] = s
	}
	return s
}

func writeScalars(w io.Writer, f *family, t MetricType, series map[string]*scalar) error {
	if err := f.header(w, t); err != nil {
		return err
	}
	for _, s := range sortedScalars(series) {
		if _, err := fmt.Fprintf(w, "%s%s %s\n", f.name, s.labels.format(), formatFloat(s.value)); err != nil {
			return err
		}
	}
	return nil
}

// Histogram tracks the distribution of observations
type Histogram struct {
	family
	bounds []float64
	series map[string]*bucketSet
}

type bucketSet struct {
	labels Labels
	counts []uint64 // per bound, not cumulative
	count  uint64
	sum    float64
}

// NewHistogram creates a new histogram metric with the given upper bounds
func NewHistogram(name, help string, bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{
		family: family{name: name, help: help},
		bounds: sorted,
		series: map[string]*bucketSet{},
	}
}

// ExponentialBuckets creates count bounds starting at start, each factor
// times the previous
func ExponentialBuckets(start, factor float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = start
		start *= factor
	}
	return out
}

func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records a value
func (h *Histogram) Observe(labels Labels, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := labels.key()
	b, ok := h.series[k]
	if !ok {
		b = &bucketSet{labels: labels.clone(), counts: make([]uint64, len(h.bounds))}
		h.series[k] = b
	}
	b.count++
	b.sum += value
	if i := sort.SearchFloat64s(h.bounds, value); i < len(h.bounds) {
		b.counts[i]++
	}
}

// ObserveDuration records d in seconds
func (h *Histogram) ObserveDuration(labels Labels, d time.Duration) {
	h.Observe(labels, d.Seconds())
}

// Count returns the number of observations for labels
func (h *Histogram) Count(labels Labels) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.series[labels.key()]; ok {
		return b.count
	}
	return 0
}

func (h *Histogram) Write(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.header(w, TypeHistogram); err != nil {
		return err
	}
	keys := make([]string, 0, len(h.series))
	for k := range h.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b := h.series[k]
		var cumulative uint64
		for i, bound := range h.bounds {
			cumulative += b.counts[i]
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, b.labels.format("le", formatFloat(bound)), cumulative); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n%s_sum%s %s\n%s_count%s %d\n",
			h.name, b.labels.format("le", "+Inf"), b.count,
			h.name, b.labels.format(), formatFloat(b.sum),
			h.name, b.labels.format(), b.count); err != nil {
			return err
		}
	}
	return nil
}

// Registry holds metrics in registration order
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{names: map[string]bool{}}
}

// Register adds a metric to the registry
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[m.Name()] {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.names[m.Name()] = true
	r.metrics = append(r.metrics, m)
	return nil
}

// MustRegister adds a metric and panics on error
func (r *Registry) MustRegister(metrics ...Metric) {
	for _, m := range metrics {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Write writes every metric in Prometheus text format
func (r *Registry) Write(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.metrics {
		if err := m.Write(w); err != nil {
			return err
		}
	}
	return nil
}

// Gather returns the registry contents as a string
func (r *Registry) Gather() string {
	var sb strings.Builder
	_ = r.Write(&sb)
	return sb.String()
}
