package runner

import (
	"math/rand"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/configuration"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/workload"
)

// KeyGenerator yields partition keys for one thread.
type KeyGenerator interface {
	Next() string
}

type randomKeys struct {
	rnd        *rand.Rand
	partitions int64
}

func (g *randomKeys) Next() string {
	return workload.PartitionKey(g.rnd.Int63n(g.partitions))
}

// sequenceKeys interleaves threads so that together they cover every partition in turn.
type sequenceKeys struct {
	next       int64
	step       int64
	partitions int64
}

func (g *sequenceKeys) Next() string {
	key := g.next
	g.next = (g.next + g.step) % g.partitions
	return workload.PartitionKey(key)
}

// NewKeyGenerator creates the generator for the given thread of threads.
func NewKeyGenerator(kind configuration.PartitionKeyGenerator, partitions int64, thread, threads int, rnd *rand.Rand) KeyGenerator {
	if kind == configuration.SequentialKeys {
		return &sequenceKeys{next: int64(thread) % partitions, step: int64(threads), partitions: partitions}
	}
	return &randomKeys{rnd: rnd, partitions: partitions}
}
