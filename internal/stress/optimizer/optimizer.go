// Package optimizer retunes the permit rate of a stress run so that throughput is maximised
// while observed latency stays under a configured ceiling.
package optimizer

import (
	"context"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// DefaultMinRate is the floor applied when Config.MinRate is not positive.
const DefaultMinRate = 1.0

// Each phase maps the latency ratio to a factor exp(gain * (1 - ratio)) clamped to [min, max].
// The step phase moves quickly towards a workable rate; stabilisation then makes small moves.
type gainSchedule struct {
	gain      float64
	minFactor float64
	maxFactor float64
}

var (
	stepSchedule      = gainSchedule{gain: 1.5, minFactor: 0.5, maxFactor: 2.0}
	stabiliseSchedule = gainSchedule{gain: 0.5, minFactor: 0.8, maxFactor: 1.25}
)

// Sampler supplies the measurements the control law works from. Latencies are in milliseconds.
type Sampler interface {
	// CurrentAndMaxLatency returns the latency observed recently and the ceiling for the given phase.
	// ok is false when no latency has been observed.
	CurrentAndMaxLatency(stepPhase bool) (current, max float64, ok bool)
	// TotalOperations returns the operations completed since sampling began.
	TotalOperations() int64
	// CurrentTotalThroughput returns completions per second since it was last called.
	CurrentTotalThroughput() float64
}

// RateLimiter is the rate the optimizer controls.
type RateLimiter interface {
	CurrentRate() float64
	SetRate(permitsPerSecond float64)
}

type Config struct {
	// Latency ceiling during stabilisation.
	MaxLatency time.Duration
	// Latency ceiling during the step phase.
	StepMaxLatency time.Duration
	Interval       time.Duration
	// Ticks after which the step phase ends even if the ceiling has not been reached.
	// Zero disables the step phase.
	StepPhaseTicks int
	MinRate        float64
}

type Optimizer struct {
	limiter        RateLimiter
	sampler        Sampler
	clock          clock.WithTicker
	interval       time.Duration
	stepPhaseTicks int
	minRate        float64

	mu        sync.Mutex
	stepPhase bool
	ticks     int
}

func New(limiter RateLimiter, sampler Sampler, config Config, c clock.WithTicker) *Optimizer {
	minRate := config.MinRate
	if minRate <= 0 {
		minRate = DefaultMinRate
	}
	return &Optimizer{
		limiter:        limiter,
		sampler:        sampler,
		clock:          c,
		interval:       config.Interval,
		stepPhaseTicks: config.StepPhaseTicks,
		minRate:        minRate,
		stepPhase:      config.StepPhaseTicks > 0,
	}
}

func (o *Optimizer) IsStepPhase() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stepPhase
}

// Execute samples the current latency and throughput, applies a new rate to the limiter and
// returns it. If there is nothing meaningful to sample the limiter is left alone and its current
// rate is returned.
func (o *Optimizer) Execute() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	currentRate := o.limiter.CurrentRate()
	if o.sampler.TotalOperations() == 0 {
		log.Debug("No operations completed yet, skipping rate adjustment")
		return currentRate
	}
	latency, maxLatency, ok := o.sampler.CurrentAndMaxLatency(o.stepPhase)
	if !ok || math.IsNaN(latency) || latency < 0 || !(maxLatency > 0) || math.IsInf(maxLatency, 0) {
		log.Debug("No usable latency sample, skipping rate adjustment")
		return currentRate
	}
	throughput := o.sampler.CurrentTotalThroughput()
	if !(throughput > 0) || math.IsInf(throughput, 0) {
		log.WithField("throughput", throughput).Debug("Degenerate throughput, skipping rate adjustment")
		return currentRate
	}

	ratio := latency / maxLatency
	factor := AdjustmentFactor(ratio, o.stepPhase)
	newRate := math.Max(throughput*factor, o.minRate)
	o.limiter.SetRate(newRate)

	log.WithFields(log.Fields{
		"latency":    latency,
		"ceiling":    maxLatency,
		"ratio":      ratio,
		"factor":     factor,
		"throughput": throughput,
		"rate":       newRate,
		"stepPhase":  o.stepPhase,
	}).Debug("Adjusted rate")

	if o.stepPhase {
		o.ticks++
		if ratio >= 1 || o.ticks >= o.stepPhaseTicks {
			o.stepPhase = false
			log.WithFields(log.Fields{"rate": newRate, "ticks": o.ticks}).Info("Step phase complete, stabilising rate")
		}
	}
	return newRate
}

// Run calls Execute every interval until ctx is done.
func (o *Optimizer) Run(ctx context.Context) {
	ticker := o.clock.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			o.Execute()
		}
	}
}

// AdjustmentFactor maps the ratio of observed to maximum latency onto a rate multiplier. The
// multiplier is above 1 below the ceiling, below 1 above it, and tends to 1 as the ratio does.
func AdjustmentFactor(ratio float64, stepPhase bool) float64 {
	schedule := stabiliseSchedule
	if stepPhase {
		schedule = stepSchedule
	}
	factor := math.Exp(schedule.gain * (1 - ratio))
	return math.Min(math.Max(factor, schedule.minFactor), schedule.maxFactor)
}
