// Package stress holds the values shared by the components of a running stress test.
package stress

import (
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/configuration"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/metrics"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/ratelimit"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/registry"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

// Context is the per-thread view of a run. It is created once per worker thread and never modified.
// Metrics, Registry and RateLimiter are shared between threads.
type Context struct {
	Session  session.Session
	Config   configuration.RunConfig
	Thread   int
	Metrics  *metrics.Sink
	Registry *registry.Registry
	// Nil when the run is unthrottled.
	RateLimiter *ratelimit.Limiter
}

// Throttled reports whether dispatch must acquire a permit first.
func (c Context) Throttled() bool {
	return c.RateLimiter != nil
}
