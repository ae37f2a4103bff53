// Package workload generates the statements a stress run executes and reacts to their success.
package workload

import (
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/completion"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/registry"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

// Workload describes a schema and how to generate operations against it.
type Workload interface {
	Name() string
	// Schema returns the statements that prepare the store, run in order before anything else.
	Schema() []session.Statement
	// RegisterGenerators binds the workload's default field generators.
	RegisterGenerators(r *registry.Registry)
	// NewRunner creates the runner for a single worker thread.
	NewRunner(ctx stress.Context) (Runner, error)
}

// Runner generates statements for one worker thread. The Next methods are only called from
// the thread's dispatch loop; OnSuccess may be called from any goroutine.
type Runner interface {
	completion.SuccessHandler
	NextMutation(partition string) session.Statement
	NextSelect(partition string) session.Statement
	NextDelete(partition string) session.Statement
}
