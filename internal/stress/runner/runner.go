// Package runner drives the operations of a single worker thread.
package runner

import (
	"context"
	"math/rand"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/completion"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/operation"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/workload"
)

// Stats counts what a dispatch loop sent to the store.
type Stats struct {
	Dispatched int64
	Failed     int64
}

// ProfileRunner dispatches operations for one worker thread, keeping at most
// Config.Concurrency of them in flight.
type ProfileRunner struct {
	context stress.Context
	runner  workload.Runner
	clock   clock.PassiveClock
	keys    KeyGenerator
	rnd     *rand.Rand
}

func New(ctx stress.Context, runner workload.Runner, c clock.PassiveClock) *ProfileRunner {
	rnd := rand.New(rand.NewSource(int64(ctx.Thread)*7919 + 1))
	return &ProfileRunner{
		context: ctx,
		runner:  runner,
		clock:   c,
		keys: NewKeyGenerator(
			ctx.Config.PartitionKeyGenerator, ctx.Config.Partitions, ctx.Thread, ctx.Config.Threads, rnd),
		rnd: rnd,
	}
}

// source supplies the operations of one dispatch loop.
type source interface {
	exhausted() bool
	next() operation.Operation
}

type mode struct {
	concurrency   int64
	paginate      bool
	recordLatency bool
	throttle      bool
}

// ApplySchema runs the statements one at a time, in order.
// Success is reported to the workload but no latency is recorded.
func (p *ProfileRunner) ApplySchema(ctx context.Context, statements []session.Statement) error {
	stats, err := p.dispatch(ctx, &schemaSource{clock: p.clock, statements: statements}, mode{concurrency: 1})
	if err != nil {
		return err
	}
	if stats.Failed > 0 {
		return errors.Errorf("%d of %d schema statements failed", stats.Failed, stats.Dispatched)
	}
	return nil
}

// Populate writes count partitions without recording latency or waiting for permits.
func (p *ProfileRunner) Populate(ctx context.Context, count int64) (Stats, error) {
	log.WithFields(log.Fields{"thread": p.context.Thread, "count": count}).Info("Populating")
	return p.dispatch(ctx, &populateSource{p: p, remaining: count}, mode{
		concurrency: int64(p.context.Config.Concurrency),
	})
}

// Run dispatches the configured mix of operations until ctx is done or, when iterations is
// positive, that many operations have been dispatched.
func (p *ProfileRunner) Run(ctx context.Context, iterations int64) (Stats, error) {
	return p.dispatch(ctx, &mixSource{p: p, remaining: iterations, bounded: iterations > 0}, mode{
		concurrency:   int64(p.context.Config.Concurrency),
		paginate:      p.context.Config.Paginate,
		recordLatency: true,
		throttle:      true,
	})
}

// dispatch runs the loop until a Stop operation completes. Operations already in flight are
// not cancelled with ctx; they run to completion before the loop returns.
func (p *ProfileRunner) dispatch(ctx context.Context, src source, m mode) (Stats, error) {
	inflight := semaphore.NewWeighted(m.concurrency)
	opCtx := context.WithoutCancel(ctx)
	var dispatched, failed int64

	for {
		if err := inflight.Acquire(opCtx, 1); err != nil {
			return Stats{}, errors.WithStack(err)
		}
		op := p.nextOperation(ctx, src, m.throttle)
		cb := &completion.Callback{
			Context:       p.context,
			Runner:        p.runner,
			Op:            op,
			Paginate:      m.paginate,
			RecordLatency: m.recordLatency,
		}

		if stmt, ok := operation.StatementOf(op); ok {
			dispatched++
			session.ExecuteAsync(opCtx, p.context.Session, stmt, func(result session.ResultSet, cause error) {
				defer inflight.Release(1)
				if cb.Complete(opCtx, result, cause) == completion.OutcomeFailed {
					atomic.AddInt64(&failed, 1)
				}
			})
			continue
		}

		if err := inflight.Acquire(opCtx, m.concurrency-1); err != nil {
			return Stats{}, errors.WithStack(err)
		}
		outcome := cb.Complete(opCtx, session.EmptyResult(), nil)
		inflight.Release(m.concurrency)
		if outcome == completion.OutcomeStopped {
			return Stats{Dispatched: dispatched, Failed: atomic.LoadInt64(&failed)}, nil
		}
	}
}

// nextOperation returns a Stop once ctx is done or src is exhausted.
func (p *ProfileRunner) nextOperation(ctx context.Context, src source, throttle bool) operation.Operation {
	if ctx.Err() != nil || src.exhausted() {
		return operation.NewStop(p.clock)
	}
	if throttle && p.context.Throttled() {
		if err := p.context.RateLimiter.Acquire(ctx); err != nil {
			return operation.NewStop(p.clock)
		}
	}
	return src.next()
}

type schemaSource struct {
	clock      clock.PassiveClock
	statements []session.Statement
}

func (s *schemaSource) exhausted() bool {
	return len(s.statements) == 0
}

func (s *schemaSource) next() operation.Operation {
	stmt := s.statements[0]
	s.statements = s.statements[1:]
	return operation.NewDDL(s.clock, stmt)
}

type populateSource struct {
	p         *ProfileRunner
	remaining int64
}

func (s *populateSource) exhausted() bool {
	return s.remaining <= 0
}

func (s *populateSource) next() operation.Operation {
	s.remaining--
	return operation.NewMutation(s.p.clock, s.p.runner.NextMutation(s.p.keys.Next()))
}

type mixSource struct {
	p         *ProfileRunner
	remaining int64
	bounded   bool
}

func (s *mixSource) exhausted() bool {
	return s.bounded && s.remaining <= 0
}

func (s *mixSource) next() operation.Operation {
	s.remaining--
	p := s.p
	partition := p.keys.Next()
	readRate := float64(p.context.Config.ReadRate)
	deleteRate := float64(p.context.Config.DeleteRate)

	switch roll := p.rnd.Float64(); {
	case roll < readRate:
		return operation.NewSelect(p.clock, p.runner.NextSelect(partition))
	case roll < readRate+deleteRate:
		return operation.NewDeletion(p.clock, p.runner.NextDelete(partition))
	default:
		return operation.NewMutation(p.clock, p.runner.NextMutation(partition))
	}
}
