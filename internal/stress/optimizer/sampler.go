package optimizer

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/metrics"
)

// LatencyQuantile is the quantile of recent latency compared against the ceiling.
const LatencyQuantile = 99.0

// MetricsSampler samples a metrics.Sink. The latency reported is the worst of the categories'
// recent LatencyQuantile, and throughput is measured between successive calls.
type MetricsSampler struct {
	sink           *metrics.Sink
	clock          clock.PassiveClock
	maxLatency     float64
	stepMaxLatency float64

	mu        sync.Mutex
	resets    int64
	baseline  int64
	lastCount int64
	lastTime  time.Time
}

func NewMetricsSampler(sink *metrics.Sink, config Config, c clock.PassiveClock) *MetricsSampler {
	resets := sink.Resets()
	completed := sink.TotalCompleted()
	return &MetricsSampler{
		sink:           sink,
		clock:          c,
		maxLatency:     millis(config.MaxLatency),
		stepMaxLatency: millis(config.StepMaxLatency),
		resets:         resets,
		baseline:       completed,
		lastCount:      completed,
		lastTime:       c.Now(),
	}
}

func (s *MetricsSampler) CurrentAndMaxLatency(stepPhase bool) (float64, float64, bool) {
	ceiling := s.maxLatency
	if stepPhase {
		ceiling = s.stepMaxLatency
	}
	var worst time.Duration
	found := false
	for _, c := range metrics.Categories {
		if latency, ok := s.sink.RecentLatency(c, LatencyQuantile); ok {
			found = true
			if latency > worst {
				worst = latency
			}
		}
	}
	return millis(worst), ceiling, found
}

func (s *MetricsSampler) TotalOperations() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	completed := s.completed()
	if completed < s.baseline {
		return 0
	}
	return completed - s.baseline
}

func (s *MetricsSampler) CurrentTotalThroughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	completed := s.completed()
	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	delta := completed - s.lastCount
	if delta < 0 {
		// A reset landed between reading the reset count and the total.
		delta = completed
	}
	s.lastCount = completed
	s.lastTime = now
	return float64(delta) / elapsed
}

// completed reads the sink's total, restarting the baseline and last count from zero if the
// sink has been reset since they were taken. Must be called with mu held.
func (s *MetricsSampler) completed() int64 {
	resets := s.sink.Resets()
	completed := s.sink.TotalCompleted()
	if resets != s.resets {
		s.resets = resets
		s.baseline = 0
		s.lastCount = 0
	}
	return completed
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
