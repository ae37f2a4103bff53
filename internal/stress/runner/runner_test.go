package runner

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/configuration"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/metrics"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/ratelimit"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/registry"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session/memory"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/workload"
)

const table = "keyvalue"

type fixture struct {
	context stress.Context
	runner  *ProfileRunner
}

func newFixture(t *testing.T, s session.Session, modify func(*configuration.RunConfig)) *fixture {
	config := configuration.Default()
	config.Concurrency = 4
	config.ReadRate = 0
	if modify != nil {
		modify(&config)
	}
	w := &workload.KeyValue{Table: table, ValueSize: 8, RowsPerPartition: config.RowsPerPartition}
	reg := registry.New()
	w.RegisterGenerators(reg)

	ctx := stress.Context{
		Session:  s,
		Config:   config,
		Metrics:  metrics.NewSink(nil),
		Registry: reg,
	}
	r, err := w.NewRunner(ctx)
	require.NoError(t, err)
	return &fixture{context: ctx, runner: New(ctx, r, clock.RealClock{})}
}

func newMemorySession(t *testing.T, opts ...memory.Option) *memory.Session {
	s, err := memory.New(opts...)
	require.NoError(t, err)
	return s
}

func TestRun_DispatchesIterations(t *testing.T) {
	f := newFixture(t, newMemorySession(t), nil)

	stats, err := f.runner.Run(context.Background(), 100)

	require.NoError(t, err)
	assert.Equal(t, Stats{Dispatched: 100}, stats)
	// Run returns only after every dispatched operation has completed
	assert.Equal(t, int64(100), f.context.Metrics.Completed(metrics.Mutation))
	assert.Equal(t, int64(0), f.context.Metrics.Errors())
}

func TestRun_OperationMix(t *testing.T) {
	f := newFixture(t, newMemorySession(t), func(c *configuration.RunConfig) {
		c.ReadRate = 0.4
		c.DeleteRate = 0.2
	})

	stats, err := f.runner.Run(context.Background(), 1000)

	require.NoError(t, err)
	assert.Equal(t, int64(1000), stats.Dispatched)
	sink := f.context.Metrics
	assert.Equal(t, int64(1000), sink.TotalCompleted())
	assert.InDelta(t, 400, sink.Completed(metrics.Select), 100)
	assert.InDelta(t, 200, sink.Completed(metrics.Delete), 100)
	assert.InDelta(t, 400, sink.Completed(metrics.Mutation), 100)
}

func TestRun_FailuresAreCountedNotReturned(t *testing.T) {
	injector := func(stmt session.Statement) error {
		if stmt.Kind == session.KindRead {
			return errors.New("read timeout")
		}
		return nil
	}
	f := newFixture(t, newMemorySession(t, memory.WithFailureInjector(injector)), func(c *configuration.RunConfig) {
		c.ReadRate = 1
	})

	stats, err := f.runner.Run(context.Background(), 50)

	require.NoError(t, err)
	assert.Equal(t, Stats{Dispatched: 50, Failed: 50}, stats)
	assert.Equal(t, int64(50), f.context.Metrics.Errors())
	assert.Equal(t, int64(0), f.context.Metrics.TotalCompleted())
}

func TestRun_StopsWhenContextDone(t *testing.T) {
	f := newFixture(t, newMemorySession(t, memory.WithSimulatedLatency(time.Millisecond)), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stats, err := f.runner.Run(ctx, 0)

	require.NoError(t, err)
	assert.Greater(t, stats.Dispatched, int64(0))
	// in-flight operations were not cancelled with the context
	assert.Equal(t, stats.Dispatched, f.context.Metrics.TotalCompleted())
	assert.Equal(t, int64(0), f.context.Metrics.Errors())
}

func TestRun_Throttled(t *testing.T) {
	limiter, err := ratelimit.New(1e6, 1)
	require.NoError(t, err)
	f := newFixture(t, newMemorySession(t), nil)
	f.context.RateLimiter = limiter
	f.runner.context = f.context

	stats, err := f.runner.Run(context.Background(), 20)

	require.NoError(t, err)
	assert.Equal(t, int64(20), stats.Dispatched)
	assert.Equal(t, int64(20), limiter.Released())
}

func TestRun_PaginatedReads(t *testing.T) {
	s := newMemorySession(t)
	f := newFixture(t, s, func(c *configuration.RunConfig) {
		c.Partitions = 1
		c.RowsPerPartition = 10
		c.Paginate = true
		c.PageSize = 3
	})
	for i := 0; i < 10; i++ {
		_, err := s.Execute(context.Background(), session.Statement{
			Kind: session.KindWrite, Table: table, Partition: "0", Clustering: workload.PartitionKey(int64(i)),
		})
		require.NoError(t, err)
	}
	f.context.Config.ReadRate = 1
	f.runner.context = f.context

	stats, err := f.runner.Run(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Dispatched)
	assert.Equal(t, int64(10), f.context.Metrics.Completed(metrics.Select))
}

func TestPopulate_WritesWithoutRecording(t *testing.T) {
	s := newMemorySession(t)
	f := newFixture(t, s, func(c *configuration.RunConfig) {
		c.PartitionKeyGenerator = configuration.SequentialKeys
		c.Partitions = 100
	})

	stats, err := f.runner.Populate(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, Stats{Dispatched: 10}, stats)
	assert.Equal(t, int64(0), f.context.Metrics.TotalCompleted())
	for i := int64(0); i < 10; i++ {
		n, err := s.Count(table, workload.PartitionKey(i))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestApplySchema(t *testing.T) {
	f := newFixture(t, newMemorySession(t), nil)
	statements := []session.Statement{{Kind: session.KindSchema, Table: table}}

	require.NoError(t, f.runner.ApplySchema(context.Background(), statements))
	assert.Equal(t, int64(0), f.context.Metrics.TotalCompleted())
}

func TestApplySchema_Failure(t *testing.T) {
	injector := func(stmt session.Statement) error {
		return errors.New("permission denied")
	}
	f := newFixture(t, newMemorySession(t, memory.WithFailureInjector(injector)), nil)

	err := f.runner.ApplySchema(context.Background(), []session.Statement{{Kind: session.KindSchema, Table: table}})
	assert.EqualError(t, err, "1 of 1 schema statements failed")
}

// trackingSession records the peak number of statements executing at once.
type trackingSession struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (s *trackingSession) Execute(ctx context.Context, _ session.Statement) (session.ResultSet, error) {
	s.mu.Lock()
	s.current++
	if s.current > s.peak {
		s.peak = s.current
	}
	s.mu.Unlock()

	time.Sleep(time.Millisecond)

	s.mu.Lock()
	s.current--
	s.mu.Unlock()
	return session.EmptyResult(), nil
}

func (s *trackingSession) Close() error {
	return nil
}

func TestRun_BoundsInFlightOperations(t *testing.T) {
	s := &trackingSession{}
	f := newFixture(t, s, func(c *configuration.RunConfig) {
		c.Concurrency = 3
	})

	_, err := f.runner.Run(context.Background(), 60)

	require.NoError(t, err)
	assert.LessOrEqual(t, s.peak, 3)
	assert.Greater(t, s.peak, 0)
}

func TestSequenceKeys_InterleaveThreads(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	first := NewKeyGenerator(configuration.SequentialKeys, 5, 0, 2, rnd)
	second := NewKeyGenerator(configuration.SequentialKeys, 5, 1, 2, rnd)

	var firstKeys, secondKeys []string
	for i := 0; i < 4; i++ {
		firstKeys = append(firstKeys, first.Next())
		secondKeys = append(secondKeys, second.Next())
	}
	assert.Equal(t, []string{"0", "2", "4", "1"}, firstKeys)
	assert.Equal(t, []string{"1", "3", "0", "2"}, secondKeys)
}

func TestRandomKeys_InRange(t *testing.T) {
	g := NewKeyGenerator(configuration.RandomKeys, 3, 0, 1, rand.New(rand.NewSource(1)))
	for i := 0; i < 100; i++ {
		assert.Contains(t, []string{"0", "1", "2"}, g.Next())
	}
}
