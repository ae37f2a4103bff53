package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	commonconfig "github.com/rustyrazorblade/cassandra-easy-stress/internal/common/config"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/task"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/configuration"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/metrics"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/optimizer"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session/memory"
)

func testConfig() configuration.RunConfig {
	config := configuration.Default()
	config.Threads = 2
	config.Concurrency = 4
	config.Duration = 0
	config.Iterations = 200
	config.Partitions = 50
	config.ProgressInterval = time.Hour
	return config
}

func TestRunner_IterationBoundedRun(t *testing.T) {
	config := testConfig()
	config.ReadRate = 0.25
	config.Populate = 50
	config.ResultFile = filepath.Join(t.TempDir(), "results", "run.json")

	result, err := NewRunner(config).Run(context.Background())
	require.NoError(t, err)

	_, err = uuid.Parse(result.RunID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), result.Errors)
	assert.Equal(t, "KeyValue", result.Workload)
	require.Len(t, result.Latencies, 3)
	total := int64(0)
	for _, l := range result.Latencies {
		total += l.Count
	}
	// populate writes are not recorded
	assert.Equal(t, int64(200), total)

	data, err := os.ReadFile(config.ResultFile)
	require.NoError(t, err)
	var written Result
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, result, written)
}

func TestRunner_DurationBoundedThrottledRun(t *testing.T) {
	config := testConfig()
	config.Iterations = 0
	config.Duration = 300 * time.Millisecond
	config.Warmup = 100 * time.Millisecond
	config.Rate = 2000
	config.Optimizer.Interval = 50 * time.Millisecond
	config.Store.SimulatedLatency = time.Millisecond

	result, err := NewRunner(config).Run(context.Background())
	require.NoError(t, err)

	assert.Greater(t, result.FinalRate, 0.0)
	assert.Equal(t, "100ms", result.Config.Warmup)
	assert.Equal(t, "50ms", result.Config.MaxLatency)
	assert.Greater(t, result.Latencies[0].Count, int64(0))
}

func TestRunner_FailuresAreReportedNotFatal(t *testing.T) {
	config := testConfig()
	config.ReadRate = 1
	s, err := memory.New(memory.WithFailureInjector(func(stmt session.Statement) error {
		if stmt.Kind == session.KindRead {
			return errors.New("read timeout")
		}
		return nil
	}))
	require.NoError(t, err)
	r := NewRunner(config)
	r.session = s

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), result.Errors)
}

func TestRunner_SchemaFailureAbortsRun(t *testing.T) {
	s, err := memory.New(memory.WithFailureInjector(func(stmt session.Statement) error {
		return errors.New("permission denied")
	}))
	require.NoError(t, err)
	r := NewRunner(testConfig())
	r.session = s

	_, err = r.Run(context.Background())
	assert.ErrorContains(t, err, "applying schema")
}

func TestRunner_CancelledRunStillReports(t *testing.T) {
	config := testConfig()
	config.Iterations = 0
	config.Duration = time.Hour
	config.Store.SimulatedLatency = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := NewRunner(config).Run(ctx)
	require.NoError(t, err)
	assert.Greater(t, result.Latencies[0].Count, int64(0))
}

func TestRunner_RedisStore(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()

	config := testConfig()
	config.ReadRate = 0
	config.Store.Type = configuration.StoreRedis
	config.Store.Redis = &commonconfig.RedisConfig{Addr: db.Addr()}

	result, err := NewRunner(config).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Errors)
	assert.Equal(t, int64(200), result.Latencies[0].Count)
}

func TestShare(t *testing.T) {
	tests := map[string]struct {
		total    int64
		threads  int
		expected []int64
	}{
		"even":      {total: 9, threads: 3, expected: []int64{3, 3, 3}},
		"remainder": {total: 10, threads: 3, expected: []int64{4, 3, 3}},
		"fewer":     {total: 2, threads: 3, expected: []int64{1, 1, 0}},
		"zero":      {total: 0, threads: 2, expected: []int64{0, 0}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var shares []int64
			for thread := 0; thread < tc.threads; thread++ {
				shares = append(shares, share(tc.total, thread, tc.threads))
			}
			assert.Equal(t, tc.expected, shares)
		})
	}
}

func TestConnect_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := connect(context.Background(), configuration.StoreRedis, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestConnect_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := connect(ctx, configuration.StorePostgres, func() error {
		attempts++
		return errors.New("connection refused")
	})
	assert.Error(t, err)
	assert.LessOrEqual(t, attempts, 1)
}

func TestRunner_ProgressTaskRotatesOptimizerWindow(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Now())
	r := NewRunner(testConfig())
	r.clock = fakeClock

	sink := metrics.NewSink(nil)
	sampler := optimizer.NewMetricsSampler(sink, r.optimizerConfig(), fakeClock)
	sink.RecordMutationLatency(10 * time.Millisecond)

	var progressRuns int64
	manager := task.NewBackgroundTaskManager("easy_stress_test_", nil, fakeClock)
	manager.Register(func() {
		r.logProgress(sink, nil, &runStats{})
		atomic.AddInt64(&progressRuns, 1)
	}, time.Second, "progress")
	defer manager.StopAll(time.Second)

	// One rotation keeps the previous window in the sample.
	assert.Eventually(t, func() bool { return atomic.LoadInt64(&progressRuns) == 1 }, time.Second, time.Millisecond)
	latency, _, ok := sampler.CurrentAndMaxLatency(false)
	require.True(t, ok)
	assert.InDelta(t, 10.0, latency, 0.1)

	// A second rotation ages it out.
	fakeClock.Step(time.Second)
	assert.Eventually(t, func() bool { return atomic.LoadInt64(&progressRuns) == 2 }, time.Second, time.Millisecond)
	_, _, ok = sampler.CurrentAndMaxLatency(false)
	assert.False(t, ok)
}
