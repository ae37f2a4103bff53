package workload

import (
	"math/rand"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/operation"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/registry"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

const (
	ValueField      = "value"
	ClusteringField = "clustering"
)

// KeyValue writes values of a fixed size under random or sequential partition keys and reads
// them back. Reads favour partitions this thread is known to have written.
type KeyValue struct {
	Table            string
	ValueSize        int
	RowsPerPartition int
}

func (k *KeyValue) Name() string {
	return "KeyValue"
}

func (k *KeyValue) Schema() []session.Statement {
	return []session.Statement{{Kind: session.KindSchema, Table: k.Table}}
}

func (k *KeyValue) RegisterGenerators(r *registry.Registry) {
	r.Register(k.Table, ValueField, registry.RandomText(k.ValueSize))
	r.Register(k.Table, ClusteringField, registry.RandomInt(0, int64(k.RowsPerPartition)))
}

func (k *KeyValue) NewRunner(ctx stress.Context) (Runner, error) {
	value, err := ctx.Registry.Lookup(k.Table, ValueField)
	if err != nil {
		return nil, err
	}
	clustering, err := ctx.Registry.Lookup(k.Table, ClusteringField)
	if err != nil {
		return nil, err
	}
	known, err := lru.New(ctx.Config.KeyCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pageSize := 0
	if ctx.Config.Paginate {
		pageSize = ctx.Config.PageSize
	}
	return &keyValueRunner{
		table:      k.Table,
		thread:     ctx.Thread,
		pageSize:   pageSize,
		value:      value,
		clustering: clustering,
		rnd:        rand.New(rand.NewSource(int64(ctx.Thread) + 1)),
		known:      known,
	}, nil
}

type keyValueRunner struct {
	table      string
	thread     int
	pageSize   int
	value      registry.Generator
	clustering registry.Generator
	rnd        *rand.Rand
	// Partitions successfully written and not since deleted, safe for concurrent use.
	known *lru.Cache
}

func (r *keyValueRunner) NextMutation(partition string) session.Statement {
	return session.Statement{
		Kind:       session.KindWrite,
		Table:      r.table,
		Partition:  partition,
		Clustering: string(r.clustering.Generate(r.rnd)),
		Value:      r.value.Generate(r.rnd),
	}
}

// NextSelect reads a known partition when there is one, cycling through them from least
// recently read. Otherwise it reads partition.
func (r *keyValueRunner) NextSelect(partition string) session.Statement {
	if key, _, ok := r.known.GetOldest(); ok {
		r.known.Get(key)
		partition = key.(string)
	}
	return session.Statement{
		Kind:      session.KindRead,
		Table:     r.table,
		Partition: partition,
		PageSize:  r.pageSize,
	}
}

func (r *keyValueRunner) NextDelete(partition string) session.Statement {
	r.known.Remove(partition)
	return session.Statement{Kind: session.KindDelete, Table: r.table, Partition: partition}
}

func (r *keyValueRunner) OnSuccess(op operation.Operation, _ session.ResultSet) {
	switch o := op.(type) {
	case *operation.Mutation:
		r.known.Add(o.Statement.Partition, struct{}{})
	case *operation.DDL:
		log.WithFields(log.Fields{"thread": r.thread, "table": o.Statement.Table}).Info("Schema applied")
	}
}

// KnownPartitions returns how many written partitions the runner remembers.
func (r *keyValueRunner) KnownPartitions() int {
	return r.known.Len()
}

// PartitionKey renders the n'th partition key.
func PartitionKey(n int64) string {
	return strconv.FormatInt(n, 10)
}
