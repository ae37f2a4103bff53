// Package memory implements an in-process Session on top of go-memdb. It is the default store for
// dry runs and the store the package tests run against.
package memory

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/stresserrors"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

const (
	rowsTable = "rows"
	idIndex   = "id"
	separator = "|"
)

type memRow struct {
	ID         string
	Table      string
	Partition  string
	Clustering string
	Value      []byte
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		rowsTable: {
			Name: rowsTable,
			Indexes: map[string]*memdb.IndexSchema{
				idIndex: {
					Name:    idIndex,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
	},
}

// Session stores rows in a go-memdb database. Every statement optionally waits for a fixed
// latency first, so the optimizer has something to push against.
type Session struct {
	db               *memdb.MemDB
	simulatedLatency time.Duration
	failures         func(stmt session.Statement) error
}

type Option func(*Session)

// WithSimulatedLatency delays every statement by d.
func WithSimulatedLatency(d time.Duration) Option {
	return func(s *Session) {
		s.simulatedLatency = d
	}
}

// WithFailureInjector makes Execute return the injector's error, when non-nil, instead of running the statement.
func WithFailureInjector(injector func(stmt session.Statement) error) Option {
	return func(s *Session) {
		s.failures = injector
	}
}

func New(opts ...Option) (*Session, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	s := &Session{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) Execute(ctx context.Context, stmt session.Statement) (session.ResultSet, error) {
	if s.simulatedLatency > 0 {
		select {
		case <-time.After(s.simulatedLatency):
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		}
	}
	if s.failures != nil {
		if err := s.failures(stmt); err != nil {
			return nil, err
		}
	}

	switch stmt.Kind {
	case session.KindSchema:
		return session.EmptyResult(), nil
	case session.KindWrite:
		return s.write(stmt)
	case session.KindRead:
		return s.read(stmt)
	case session.KindDelete:
		return s.delete(stmt)
	default:
		return nil, errors.WithStack(&stresserrors.ErrUnsupported{Store: "memory", Operation: stmt.Kind.String()})
	}
}

func (s *Session) write(stmt session.Statement) (session.ResultSet, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	row := &memRow{
		ID:         rowID(stmt.Table, stmt.Partition, stmt.Clustering),
		Table:      stmt.Table,
		Partition:  stmt.Partition,
		Clustering: stmt.Clustering,
		Value:      stmt.Value,
	}
	if err := txn.Insert(rowsTable, row); err != nil {
		return nil, errors.WithStack(err)
	}
	txn.Commit()
	return session.EmptyResult(), nil
}

func (s *Session) read(stmt session.Statement) (session.ResultSet, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(rowsTable, idIndex+"_prefix", partitionPrefix(stmt.Table, stmt.Partition))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var rows []session.Row
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := obj.(*memRow)
		rows = append(rows, session.Row{Partition: r.Partition, Clustering: r.Clustering, Value: r.Value})
	}
	return session.SlicePages(rows, stmt.PageSize), nil
}

func (s *Session) delete(stmt session.Statement) (session.ResultSet, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(rowsTable, idIndex+"_prefix", partitionPrefix(stmt.Table, stmt.Partition)); err != nil {
		return nil, errors.WithStack(err)
	}
	txn.Commit()
	return session.EmptyResult(), nil
}

// Count returns the number of rows stored in the partition.
func (s *Session) Count(table, partition string) (int, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(rowsTable, idIndex+"_prefix", partitionPrefix(table, partition))
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n, nil
}

func (s *Session) Close() error {
	return nil
}

func partitionPrefix(table, partition string) string {
	return table + separator + partition + separator
}

func rowID(table, partition, clustering string) string {
	return partitionPrefix(table, partition) + clustering
}
