// Package operation models a single unit of work in flight against the store.
package operation

import (
	"fmt"

	"k8s.io/utils/clock"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

// Operation is one of *Mutation, *Deletion, *SelectStatement, *DDL or *Stop.
type Operation interface {
	Timer() *Stopwatch
	isOperation()
}

type base struct {
	timer *Stopwatch
}

func (b base) Timer() *Stopwatch {
	return b.timer
}

func (base) isOperation() {}

// Mutation is a write whose success is reported back to the workload.
type Mutation struct {
	base
	Statement session.Statement
}

// Deletion is a write that is only measured.
type Deletion struct {
	base
	Statement session.Statement
}

// SelectStatement is a read. Its pages may be drained before it completes.
type SelectStatement struct {
	base
	Statement session.Statement
}

// DDL is a schema change. It is accounted as a mutation.
type DDL struct {
	base
	Statement session.Statement
}

// Stop marks the end of an operation stream. It never reaches the store.
type Stop struct {
	base
}

// NewMutation creates a Mutation and starts its stopwatch. Like the other constructors it
// should be called at dispatch.
func NewMutation(c clock.PassiveClock, stmt session.Statement) *Mutation {
	return &Mutation{base: base{timer: StartStopwatch(c)}, Statement: stmt}
}

// NewDeletion creates a Deletion and starts its stopwatch.
func NewDeletion(c clock.PassiveClock, stmt session.Statement) *Deletion {
	return &Deletion{base: base{timer: StartStopwatch(c)}, Statement: stmt}
}

// NewSelect creates a SelectStatement and starts its stopwatch.
func NewSelect(c clock.PassiveClock, stmt session.Statement) *SelectStatement {
	return &SelectStatement{base: base{timer: StartStopwatch(c)}, Statement: stmt}
}

// NewDDL creates a DDL operation and starts its stopwatch.
func NewDDL(c clock.PassiveClock, stmt session.Statement) *DDL {
	return &DDL{base: base{timer: StartStopwatch(c)}, Statement: stmt}
}

// NewStop creates the operation that ends a stream. Its stopwatch is never read.
func NewStop(c clock.PassiveClock) *Stop {
	return &Stop{base: base{timer: StartStopwatch(c)}}
}

// StatementOf returns the statement to execute for op and false for *Stop.
func StatementOf(op Operation) (session.Statement, bool) {
	switch o := op.(type) {
	case *Mutation:
		return o.Statement, true
	case *Deletion:
		return o.Statement, true
	case *SelectStatement:
		return o.Statement, true
	case *DDL:
		return o.Statement, true
	case *Stop:
		return session.Statement{}, false
	default:
		panic(fmt.Sprintf("operation: unknown operation type %T", op))
	}
}

// Describe names op for logging.
func Describe(op Operation) string {
	switch o := op.(type) {
	case *Mutation:
		return "mutation " + o.Statement.Partition
	case *Deletion:
		return "deletion " + o.Statement.Partition
	case *SelectStatement:
		return "select " + o.Statement.Partition
	case *DDL:
		return "ddl " + o.Statement.Table
	case *Stop:
		return "stop"
	default:
		return fmt.Sprintf("%T", op)
	}
}
