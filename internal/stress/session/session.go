// Package session defines the contract between the stress core and the target store: statements
// are executed against a Session and yield a ResultSet that may span several pages.
package session

import (
	"context"
	"fmt"
)

type StatementKind int

const (
	KindWrite StatementKind = iota
	KindRead
	KindDelete
	KindSchema
)

func (k StatementKind) String() string {
	switch k {
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindDelete:
		return "delete"
	case KindSchema:
		return "schema"
	default:
		return fmt.Sprintf("StatementKind(%d)", int(k))
	}
}

// Statement is a store-neutral description of a single request. Rows are addressed by
// (Partition, Clustering) within Table, in the manner of a wide-column store.
type Statement struct {
	Kind       StatementKind
	Table      string
	Partition  string
	Clustering string
	Value      []byte
	// PageSize bounds the rows returned per page by a read. Zero returns the whole partition in one page.
	PageSize int
}

type Row struct {
	Partition  string
	Clustering string
	Value      []byte
}

// ResultSet is the result of a statement. Only the current page is held; FetchNextPage blocks
// until the following page has been retrieved and replaces it.
type ResultSet interface {
	Rows() []Row
	HasMorePages() bool
	FetchNextPage(ctx context.Context) error
}

type Session interface {
	// Execute runs stmt and blocks until its first page is available.
	Execute(ctx context.Context, stmt Statement) (ResultSet, error)
	Close() error
}

// Continuation receives the outcome of an asynchronous execution. Exactly one of result and
// cause is non-nil.
type Continuation func(result ResultSet, cause error)

// ExecuteAsync runs stmt on its own goroutine and invokes cont exactly once when it finishes.
func ExecuteAsync(ctx context.Context, s Session, stmt Statement, cont Continuation) {
	go func() {
		result, err := s.Execute(ctx, stmt)
		if err != nil {
			cont(nil, err)
			return
		}
		if result == nil {
			result = EmptyResult()
		}
		cont(result, nil)
	}()
}
