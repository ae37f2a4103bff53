// Package completion classifies finished operations and feeds the result into the run's metrics
// and the workload.
package completion

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/logging"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/operation"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

type Outcome int

const (
	// OutcomeRecorded means the operation succeeded and was accounted for.
	OutcomeRecorded Outcome = iota
	// OutcomeFailed means the operation failed and was counted as an error.
	OutcomeFailed
	// OutcomeStopped means a Stop operation completed and the stream should end.
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecorded:
		return "recorded"
	case OutcomeFailed:
		return "failed"
	case OutcomeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// SuccessHandler is notified of successful mutations and schema changes.
// It runs inline in the completion and must not block for long.
type SuccessHandler interface {
	OnSuccess(op operation.Operation, result session.ResultSet)
}

// Callback completes a single operation. It holds no state of its own, so a Callback may be
// completed from any goroutine, but it must be completed exactly once.
type Callback struct {
	Context stress.Context
	Runner  SuccessHandler
	Op      operation.Operation
	// Fetch every remaining page of the result before the operation counts as complete.
	Paginate bool
	// Record latency into the histograms. Populate runs leave this unset.
	RecordLatency bool
}

// Complete accounts for the operation given either its result or the cause of its failure.
func (c *Callback) Complete(ctx context.Context, result session.ResultSet, cause error) Outcome {
	if cause == nil && c.Paginate && result != nil {
		cause = drainPages(ctx, result)
	}
	if cause != nil {
		c.Context.Metrics.MarkError()
		logging.WithStacktrace(log.WithFields(log.Fields{
			"thread":    c.Context.Thread,
			"operation": operation.Describe(c.Op),
		}), cause).Error("Operation failed")
		return OutcomeFailed
	}

	elapsed := c.Op.Timer().Stop()

	switch op := c.Op.(type) {
	case *operation.Mutation, *operation.DDL:
		if c.RecordLatency {
			c.Context.Metrics.RecordMutationLatency(elapsed)
		}
		c.Runner.OnSuccess(op, result)
	case *operation.Deletion:
		if c.RecordLatency {
			c.Context.Metrics.RecordDeleteLatency(elapsed)
		}
	case *operation.SelectStatement:
		if c.RecordLatency {
			c.Context.Metrics.RecordSelectLatency(elapsed)
		}
	case *operation.Stop:
		return OutcomeStopped
	default:
		panic(fmt.Sprintf("completion: no accounting for operation type %T", op))
	}
	return OutcomeRecorded
}

func drainPages(ctx context.Context, result session.ResultSet) error {
	for result.HasMorePages() {
		if err := result.FetchNextPage(ctx); err != nil {
			return errors.Wrap(err, "fetching next page")
		}
	}
	return nil
}
