// Package ratelimit issues dispatch permits at an adjustable rate.
package ratelimit

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/stresserrors"
)

// Limiter is safe for concurrent use. Rate changes take effect for the next permit requested.
type Limiter struct {
	limiter  *rate.Limiter
	released int64
}

// New creates a limiter issuing permitsPerSecond permits with at most burst issued at once.
func New(permitsPerSecond float64, burst int) (*Limiter, error) {
	if permitsPerSecond <= 0 {
		return nil, stresserrors.InvalidArgument("Rate", permitsPerSecond, "must be positive")
	}
	if burst < 1 {
		return nil, stresserrors.InvalidArgument("Burst", burst, "must be at least 1")
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(permitsPerSecond), burst)}, nil
}

// Acquire blocks until a permit is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.WithStack(err)
	}
	atomic.AddInt64(&l.released, 1)
	return nil
}

func (l *Limiter) CurrentRate() float64 {
	return float64(l.limiter.Limit())
}

func (l *Limiter) SetRate(permitsPerSecond float64) {
	l.limiter.SetLimit(rate.Limit(permitsPerSecond))
}

// Released returns the number of permits issued so far.
func (l *Limiter) Released() int64 {
	return atomic.LoadInt64(&l.released)
}
