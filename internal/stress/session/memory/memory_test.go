package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/stresserrors"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

func write(t *testing.T, s *Session, partition string, n int) {
	for i := 0; i < n; i++ {
		_, err := s.Execute(context.Background(), session.Statement{
			Kind:       session.KindWrite,
			Table:      "kv",
			Partition:  partition,
			Clustering: fmt.Sprintf("%04d", i),
			Value:      []byte("v"),
		})
		require.NoError(t, err)
	}
}

func TestSession_ReadPagesThroughPartition(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	write(t, s, "key-1", 5)
	write(t, s, "key-10", 3)

	result, err := s.Execute(context.Background(), session.Statement{Kind: session.KindRead, Table: "kv", Partition: "key-1", PageSize: 2})
	require.NoError(t, err)

	var clusterings []string
	for {
		for _, row := range result.Rows() {
			assert.Equal(t, "key-1", row.Partition)
			clusterings = append(clusterings, row.Clustering)
		}
		if !result.HasMorePages() {
			break
		}
		require.NoError(t, result.FetchNextPage(context.Background()))
	}
	assert.Equal(t, []string{"0000", "0001", "0002", "0003", "0004"}, clusterings)
}

func TestSession_DeleteRemovesOnlyThePartition(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	write(t, s, "key-1", 3)
	write(t, s, "key-2", 2)

	_, err = s.Execute(context.Background(), session.Statement{Kind: session.KindDelete, Table: "kv", Partition: "key-1"})
	require.NoError(t, err)

	n, err := s.Count("kv", "key-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = s.Count("kv", "key-2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSession_OverwriteSameRow(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	write(t, s, "key-1", 1)
	write(t, s, "key-1", 1)

	n, err := s.Count("kv", "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSession_SchemaIsNoop(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	result, err := s.Execute(context.Background(), session.Statement{Kind: session.KindSchema, Table: "kv"})
	require.NoError(t, err)
	assert.Empty(t, result.Rows())
	assert.False(t, result.HasMorePages())
}

func TestSession_UnknownKind(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	_, err = s.Execute(context.Background(), session.Statement{Kind: session.StatementKind(42)})
	var unsupported *stresserrors.ErrUnsupported
	assert.ErrorAs(t, err, &unsupported)
}

func TestSession_SimulatedLatencyHonoursContext(t *testing.T) {
	s, err := New(WithSimulatedLatency(time.Hour))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Execute(ctx, session.Statement{Kind: session.KindWrite, Table: "kv", Partition: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_FailureInjector(t *testing.T) {
	s, err := New(WithFailureInjector(func(stmt session.Statement) error {
		if stmt.Kind == session.KindDelete {
			return assert.AnError
		}
		return nil
	}))
	require.NoError(t, err)
	_, err = s.Execute(context.Background(), session.Statement{Kind: session.KindWrite, Table: "kv", Partition: "p"})
	assert.NoError(t, err)
	_, err = s.Execute(context.Background(), session.Statement{Kind: session.KindDelete, Table: "kv", Partition: "p"})
	assert.ErrorIs(t, err, assert.AnError)
}
