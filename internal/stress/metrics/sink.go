// Package metrics records per-category operation latencies and error counts for a stress run.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MinLatency = time.Microsecond
	MaxLatency = 60 * time.Second

	significantFigures = 3
	// Windows merged when sampling recent latency; the oldest is dropped on each Rotate.
	recentWindows = 2
)

type Category int

const (
	Mutation Category = iota
	Delete
	Select
	numCategories
)

var Categories = []Category{Mutation, Delete, Select}

func (c Category) String() string {
	switch c {
	case Mutation:
		return "mutation"
	case Delete:
		return "delete"
	case Select:
		return "select"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

func clampLatency(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// latencyHistogram pairs a cumulative histogram for the run summary with a windowed one
// for sampling recent behaviour. codahale histograms are not safe for concurrent use.
type latencyHistogram struct {
	sync.Mutex
	cumulative *hdrhistogram.Histogram
	recent     *hdrhistogram.WindowedHistogram
	count      int64
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{
		cumulative: hdrhistogram.New(MinLatency.Nanoseconds(), MaxLatency.Nanoseconds(), significantFigures),
		recent:     hdrhistogram.NewWindowed(recentWindows, MinLatency.Nanoseconds(), MaxLatency.Nanoseconds(), significantFigures),
	}
}

func (h *latencyHistogram) record(d time.Duration) {
	v := clampLatency(d, MinLatency, MaxLatency).Nanoseconds()
	h.Lock()
	defer h.Unlock()
	// Values are clamped into the trackable range so recording cannot fail.
	_ = h.cumulative.RecordValue(v)
	_ = h.recent.Current.RecordValue(v)
	atomic.AddInt64(&h.count, 1)
}

func (h *latencyHistogram) reset() {
	h.Lock()
	defer h.Unlock()
	h.cumulative.Reset()
	for i := 0; i < recentWindows; i++ {
		h.recent.Rotate()
	}
	atomic.StoreInt64(&h.count, 0)
}

// Sink is shared by every worker and the optimizer. All methods are safe for concurrent use.
type Sink struct {
	histograms [numCategories]*latencyHistogram
	errors     int64
	resets     int64

	operations *prometheus.CounterVec
	failures   prometheus.Counter
	latency    *prometheus.HistogramVec
}

// NewSink creates a Sink. If registerer is non-nil the sink's collectors are registered with it.
func NewSink(registerer prometheus.Registerer) *Sink {
	s := &Sink{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "easy_stress_operations_total",
			Help: "Operations completed successfully, by category",
		}, []string{"category"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easy_stress_operation_errors_total",
			Help: "Operations that completed with an error",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "easy_stress_operation_latency_seconds",
			Help:    "Latency of successful operations, by category",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18),
		}, []string{"category"}),
	}
	for i := range s.histograms {
		s.histograms[i] = newLatencyHistogram()
	}
	if registerer != nil {
		registerer.MustRegister(s.operations, s.failures, s.latency)
	}
	return s
}

func (s *Sink) RecordMutationLatency(d time.Duration) {
	s.record(Mutation, d)
}

func (s *Sink) RecordDeleteLatency(d time.Duration) {
	s.record(Delete, d)
}

func (s *Sink) RecordSelectLatency(d time.Duration) {
	s.record(Select, d)
}

func (s *Sink) record(c Category, d time.Duration) {
	s.histograms[c].record(d)
	s.operations.WithLabelValues(c.String()).Inc()
	s.latency.WithLabelValues(c.String()).Observe(d.Seconds())
}

func (s *Sink) MarkError() {
	atomic.AddInt64(&s.errors, 1)
	s.failures.Inc()
}

func (s *Sink) Errors() int64 {
	return atomic.LoadInt64(&s.errors)
}

// Completed returns the number of latencies recorded in c.
func (s *Sink) Completed(c Category) int64 {
	return atomic.LoadInt64(&s.histograms[c].count)
}

// TotalCompleted returns the number of latencies recorded across all categories.
func (s *Sink) TotalCompleted() int64 {
	var total int64
	for _, c := range Categories {
		total += s.Completed(c)
	}
	return total
}

// RecentLatency returns quantile q (0-100) over the current and previous windows of c.
// It returns false if nothing has been recorded in those windows.
func (s *Sink) RecentLatency(c Category, q float64) (time.Duration, bool) {
	h := s.histograms[c]
	h.Lock()
	defer h.Unlock()
	merged := h.recent.Merge()
	if merged.TotalCount() == 0 {
		return 0, false
	}
	return time.Duration(merged.ValueAtQuantile(q)), true
}

// Rotate starts a new recent-latency window, discarding the oldest.
func (s *Sink) Rotate() {
	for _, h := range s.histograms {
		h.Lock()
		h.recent.Rotate()
		h.Unlock()
	}
}

// Reset discards everything recorded so far. Prometheus counters are left untouched.
func (s *Sink) Reset() {
	for _, h := range s.histograms {
		h.reset()
	}
	atomic.StoreInt64(&s.errors, 0)
	atomic.AddInt64(&s.resets, 1)
}

// Resets counts calls to Reset. Readers holding totals from before a reset compare it to know
// the totals restarted from zero.
func (s *Sink) Resets() int64 {
	return atomic.LoadInt64(&s.resets)
}

type LatencyReport struct {
	Count int64
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	P999  time.Duration
	Max   time.Duration
	Mean  time.Duration
}

type Report struct {
	Latencies map[Category]LatencyReport
	Errors    int64
}

// Report summarises everything recorded since the sink was created or last reset.
func (s *Sink) Report() Report {
	report := Report{
		Latencies: make(map[Category]LatencyReport, numCategories),
		Errors:    s.Errors(),
	}
	for _, c := range Categories {
		h := s.histograms[c]
		h.Lock()
		report.Latencies[c] = LatencyReport{
			Count: h.cumulative.TotalCount(),
			P50:   time.Duration(h.cumulative.ValueAtQuantile(50)),
			P95:   time.Duration(h.cumulative.ValueAtQuantile(95)),
			P99:   time.Duration(h.cumulative.ValueAtQuantile(99)),
			P999:  time.Duration(h.cumulative.ValueAtQuantile(99.9)),
			Max:   time.Duration(h.cumulative.Max()),
			Mean:  time.Duration(h.cumulative.Mean()),
		}
		h.Unlock()
	}
	return report
}
