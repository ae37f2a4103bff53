package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/task"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/configuration"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/metrics"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/optimizer"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/ratelimit"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/registry"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/runner"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session/memory"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session/postgres"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session/redis"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/workload"
)

const (
	taskShutdownTimeout = 5 * time.Second
	connectAttempts     = 5
	connectDelay        = 500 * time.Millisecond
)

// Runner orchestrates a stress run: it connects to the store, prepares the schema, populates,
// runs the measured workload across all threads and reports the results.
type Runner struct {
	config   configuration.RunConfig
	clock    clock.WithTicker
	registry *prometheus.Registry
	// Overrides the store chosen by config; used by tests.
	session session.Session
}

func NewRunner(config configuration.RunConfig) *Runner {
	return &Runner{
		config:   config,
		clock:    clock.RealClock{},
		registry: prometheus.NewRegistry(),
	}
}

// Run executes the stress test.
//
// It performs the following steps:
//  1. Connects to the configured store and applies the workload's schema
//  2. Populates the store, if configured, without recording latency
//  3. Starts every worker thread and, for throttled runs, the rate optimizer
//  4. Resets metrics once the warmup period has passed
//  5. Stops dispatching once the duration or iteration budget is spent and waits for in-flight operations
//  6. Logs a summary and writes it to ResultFile when set
//
// Cancelling ctx ends the run early; the summary is still produced.
func (r *Runner) Run(ctx context.Context) (result Result, err error) {
	log.WithFields(log.Fields{
		"store":       r.config.Store.Type,
		"threads":     r.config.Threads,
		"concurrency": r.config.Concurrency,
		"rate":        r.config.Rate,
		"duration":    r.config.Duration,
		"iterations":  r.config.Iterations,
	}).Info("Starting stress run")

	s, err := r.newSession(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "connecting to store")
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			err = multierror.Append(err, errors.Wrap(closeErr, "closing session")).ErrorOrNil()
		}
	}()

	if r.config.MetricsPort > 0 {
		shutdownMetricServer := common.ServeMetrics(r.config.MetricsPort, r.registry)
		defer shutdownMetricServer()
	}

	sink := metrics.NewSink(r.registry)
	limiter, err := r.newLimiter()
	if err != nil {
		return Result{}, err
	}

	w := &workload.KeyValue{
		Table:            r.config.Store.Table,
		ValueSize:        r.config.ValueSize,
		RowsPerPartition: r.config.RowsPerPartition,
	}
	fields := registry.New()
	w.RegisterGenerators(fields)

	runners := make([]*runner.ProfileRunner, r.config.Threads)
	for thread := range runners {
		threadContext := stress.Context{
			Session:     s,
			Config:      r.config,
			Thread:      thread,
			Metrics:     sink,
			Registry:    fields,
			RateLimiter: limiter,
		}
		workloadRunner, err := w.NewRunner(threadContext)
		if err != nil {
			return Result{}, errors.WithMessagef(err, "creating runner for thread %d", thread)
		}
		runners[thread] = runner.New(threadContext, workloadRunner, r.clock)
	}

	log.Infof("Applying %s schema", w.Name())
	if err := runners[0].ApplySchema(ctx, w.Schema()); err != nil {
		return Result{}, errors.Wrap(err, "applying schema")
	}

	if r.config.Populate > 0 {
		if err := r.populate(ctx, runners); err != nil {
			return Result{}, err
		}
	}

	taskManager := task.NewBackgroundTaskManager("easy_stress_", r.registry, r.clock)
	defer taskManager.StopAll(taskShutdownTimeout)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.config.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.config.Duration)
		defer cancel()
	}

	start := r.clock.Now()
	var measuredFrom atomic.Value
	measuredFrom.Store(start)

	var stats runStats
	taskManager.Register(func() { r.logProgress(sink, limiter, &stats) }, r.config.ProgressInterval, "progress")

	g, gctx := errgroup.WithContext(runCtx)
	if limiter != nil {
		o := optimizer.New(limiter, optimizer.NewMetricsSampler(sink, r.optimizerConfig(), r.clock), r.optimizerConfig(), r.clock)
		g.Go(func() error {
			o.Run(gctx)
			return nil
		})
	}
	if r.config.Warmup > 0 {
		g.Go(func() error {
			select {
			case <-r.clock.After(r.config.Warmup):
				log.Info("Warmup period complete, resetting metrics")
				sink.Reset()
				measuredFrom.Store(r.clock.Now())
			case <-gctx.Done():
			}
			return nil
		})
	}

	workers, workersCtx := errgroup.WithContext(runCtx)
	for thread, profileRunner := range runners {
		thread, profileRunner := thread, profileRunner
		iterations := share(r.config.Iterations, thread, r.config.Threads)
		workers.Go(func() error {
			threadStats, err := profileRunner.Run(workersCtx, iterations)
			stats.add(threadStats)
			return errors.WithMessagef(err, "thread %d", thread)
		})
	}
	workerErr := workers.Wait()
	// Iteration-bounded runs finish before the deadline; release the optimizer and warmup timer.
	cancel()
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if workerErr != nil {
		return Result{}, workerErr
	}

	measured := r.clock.Since(measuredFrom.Load().(time.Time))
	finalRate := 0.0
	if limiter != nil {
		finalRate = limiter.CurrentRate()
	}
	report := sink.Report()
	r.logReport(report, &stats, measured, finalRate)

	result = buildResult(r.config, w.Name(), report, measured, finalRate, r.clock.Now())
	if r.config.ResultFile != "" {
		if err := writeResult(result, r.config.ResultFile); err != nil {
			return result, err
		}
		log.Infof("Results written to %s", r.config.ResultFile)
	}
	return result, nil
}

func (r *Runner) populate(ctx context.Context, runners []*runner.ProfileRunner) error {
	log.Infof("Populating %d partitions", r.config.Populate)
	g, gctx := errgroup.WithContext(ctx)
	for thread, profileRunner := range runners {
		profileRunner := profileRunner
		count := share(r.config.Populate, thread, r.config.Threads)
		g.Go(func() error {
			_, err := profileRunner.Populate(gctx, count)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return errors.WithMessage(err, "populating")
	}
	log.Info("Population complete")
	return nil
}

// newSession creates the store session named by the configuration.
func (r *Runner) newSession(ctx context.Context) (session.Session, error) {
	if r.session != nil {
		return r.session, nil
	}
	store := r.config.Store
	switch store.Type {
	case configuration.StoreMemory:
		s, err := memory.New(memory.WithSimulatedLatency(store.SimulatedLatency))
		if err != nil {
			return nil, err
		}
		return s, nil
	case configuration.StoreRedis:
		if store.Redis == nil {
			return nil, errors.New("redis store selected without redis settings")
		}
		s := redis.New(*store.Redis)
		if err := connect(ctx, store.Type, func() error { return s.Ping(ctx) }); err != nil {
			return nil, multierror.Append(err, s.Close()).ErrorOrNil()
		}
		return s, nil
	case configuration.StorePostgres:
		if store.Postgres == nil {
			return nil, errors.New("postgres store selected without postgres settings")
		}
		var s *postgres.Session
		err := connect(ctx, store.Type, func() error {
			var err error
			s, err = postgres.Open(ctx, *store.Postgres)
			return err
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Errorf("no store configured for type %q", store.Type)
	}
}

// connect retries attempt while the store comes up.
func connect(ctx context.Context, store configuration.StoreType, attempt func() error) error {
	return retry.Do(
		attempt,
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(connectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Connecting to %s failed (attempt %d of %d)", store, n+1, connectAttempts)
		}),
	)
}

func (r *Runner) newLimiter() (*ratelimit.Limiter, error) {
	if r.config.Unthrottled() {
		log.Info("No rate configured, running unthrottled")
		return nil, nil
	}
	limiter, err := ratelimit.New(r.config.Rate, 1)
	if err != nil {
		return nil, err
	}
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "easy_stress_rate_limit",
		Help: "Permits per second currently issued by the rate limiter",
	}, limiter.CurrentRate))
	return limiter, nil
}

func (r *Runner) optimizerConfig() optimizer.Config {
	return optimizer.Config{
		MaxLatency:     r.config.Optimizer.MaxLatency,
		StepMaxLatency: r.config.Optimizer.StepMaxLatency,
		Interval:       r.config.Optimizer.Interval,
		StepPhaseTicks: r.config.Optimizer.StepPhaseTicks,
		MinRate:        r.config.Optimizer.MinRate,
	}
}

// logProgress logs progress and starts a new latency window for the optimizer.
func (r *Runner) logProgress(sink *metrics.Sink, limiter *ratelimit.Limiter, stats *runStats) {
	fields := log.Fields{
		"completed":  sink.TotalCompleted(),
		"errors":     sink.Errors(),
		"dispatched": stats.dispatched(),
	}
	for _, c := range metrics.Categories {
		if latency, ok := sink.RecentLatency(c, 99); ok {
			fields["p99_"+c.String()] = latency.String()
		}
	}
	if limiter != nil {
		fields["rate"] = limiter.CurrentRate()
	}
	log.WithFields(fields).Info("Stress progress update")
	sink.Rotate()
}

func (r *Runner) logReport(report metrics.Report, stats *runStats, measured time.Duration, finalRate float64) {
	for _, c := range metrics.Categories {
		l := report.Latencies[c]
		if l.Count == 0 {
			continue
		}
		log.WithFields(log.Fields{
			"count": l.Count,
			"p50":   l.P50,
			"p95":   l.P95,
			"p99":   l.P99,
			"p999":  l.P999,
			"max":   l.Max,
			"mean":  l.Mean,
		}).Infof("%s latency", c)
	}
	fields := log.Fields{
		"dispatched": stats.dispatched(),
		"failed":     stats.failed(),
		"errors":     report.Errors,
		"measured":   measured.Round(time.Millisecond),
	}
	if finalRate > 0 {
		fields["finalRate"] = finalRate
	}
	log.WithFields(fields).Info("Stress run complete")
}

// share splits total between threads, giving the remainder to the lowest threads.
func share(total int64, thread, threads int) int64 {
	n := total / int64(threads)
	if int64(thread) < total%int64(threads) {
		n++
	}
	return n
}

type runStats struct {
	dispatchedOps int64
	failedOps     int64
}

func (s *runStats) add(stats runner.Stats) {
	atomic.AddInt64(&s.dispatchedOps, stats.Dispatched)
	atomic.AddInt64(&s.failedOps, stats.Failed)
}

func (s *runStats) dispatched() int64 {
	return atomic.LoadInt64(&s.dispatchedOps)
}

func (s *runStats) failed() int64 {
	return atomic.LoadInt64(&s.failedOps)
}
