package redis

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

func withSession(t *testing.T, action func(s *Session, db *miniredis.Miniredis)) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()

	s := NewFromClient(redis.NewClient(&redis.Options{Addr: db.Addr()}))
	defer s.Close()

	action(s, db)
}

func writeRows(t *testing.T, s *Session, partition string, n int) {
	for i := 0; i < n; i++ {
		_, err := s.Execute(context.Background(), session.Statement{
			Kind:       session.KindWrite,
			Table:      "kv",
			Partition:  partition,
			Clustering: fmt.Sprintf("%04d", i),
			Value:      []byte(fmt.Sprintf("value-%d", i)),
		})
		require.NoError(t, err)
	}
}

func drain(t *testing.T, result session.ResultSet) []session.Row {
	rows := append([]session.Row{}, result.Rows()...)
	for result.HasMorePages() {
		require.NoError(t, result.FetchNextPage(context.Background()))
		rows = append(rows, result.Rows()...)
	}
	return rows
}

func TestSession_WriteThenReadAll(t *testing.T) {
	withSession(t, func(s *Session, db *miniredis.Miniredis) {
		writeRows(t, s, "key-1", 3)

		result, err := s.Execute(context.Background(), session.Statement{Kind: session.KindRead, Table: "kv", Partition: "key-1"})
		require.NoError(t, err)
		rows := drain(t, result)

		require.Len(t, rows, 3)
		assert.Equal(t, "0000", rows[0].Clustering)
		assert.Equal(t, []byte("value-2"), rows[2].Value)
		assert.True(t, db.Exists("kv:key-1"))
	})
}

func TestSession_PagedReadReturnsEveryRow(t *testing.T) {
	withSession(t, func(s *Session, _ *miniredis.Miniredis) {
		writeRows(t, s, "key-1", 7)

		result, err := s.Execute(context.Background(), session.Statement{Kind: session.KindRead, Table: "kv", Partition: "key-1", PageSize: 2})
		require.NoError(t, err)
		assert.Len(t, drain(t, result), 7)
	})
}

func TestSession_Delete(t *testing.T) {
	withSession(t, func(s *Session, db *miniredis.Miniredis) {
		writeRows(t, s, "key-1", 2)

		_, err := s.Execute(context.Background(), session.Statement{Kind: session.KindDelete, Table: "kv", Partition: "key-1"})
		require.NoError(t, err)
		assert.False(t, db.Exists("kv:key-1"))
	})
}

func TestSession_Schema(t *testing.T) {
	withSession(t, func(s *Session, _ *miniredis.Miniredis) {
		result, err := s.Execute(context.Background(), session.Statement{Kind: session.KindSchema, Table: "kv"})
		require.NoError(t, err)
		assert.Empty(t, result.Rows())
	})
}

func TestSession_ServerDown(t *testing.T) {
	withSession(t, func(s *Session, db *miniredis.Miniredis) {
		db.Close()
		_, err := s.Execute(context.Background(), session.Statement{Kind: session.KindWrite, Table: "kv", Partition: "p"})
		assert.Error(t, err)
	})
}

func TestPairsToRows(t *testing.T) {
	rows := pairsToRows("p", []string{"a", "1", "b", "2", "dangling"})
	assert.Equal(t, []session.Row{
		{Partition: "p", Clustering: "a", Value: []byte("1")},
		{Partition: "p", Clustering: "b", Value: []byte("2")},
	}, rows)
}

func TestPing(t *testing.T) {
	withSession(t, func(s *Session, db *miniredis.Miniredis) {
		require.NoError(t, s.Ping(context.Background()))

		db.Close()
		assert.Error(t, s.Ping(context.Background()))
	})
}
