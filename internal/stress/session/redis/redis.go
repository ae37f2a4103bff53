// Package redis implements a Session against Redis. Each partition is a hash keyed
// table:partition whose fields are the clustering keys; paged reads walk the hash with HSCAN.
package redis

import (
	"context"
	"sort"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	commonconfig "github.com/rustyrazorblade/cassandra-easy-stress/internal/common/config"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/stresserrors"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

type Session struct {
	client *redis.Client
}

func New(config commonconfig.RedisConfig) *Session {
	return &Session{client: redis.NewClient(config.AsOptions())}
}

// NewFromClient wraps an existing client; closing the Session closes the client.
func NewFromClient(client *redis.Client) *Session {
	return &Session{client: client}
}

// Ping checks the server is reachable.
func (s *Session) Ping(ctx context.Context) error {
	return errors.WithStack(s.client.WithContext(ctx).Ping().Err())
}

func (s *Session) Execute(ctx context.Context, stmt session.Statement) (session.ResultSet, error) {
	client := s.client.WithContext(ctx)
	key := partitionKey(stmt.Table, stmt.Partition)

	switch stmt.Kind {
	case session.KindSchema:
		// Redis has no schema; the round trip still exercises the connection.
		if err := client.Ping().Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		return session.EmptyResult(), nil
	case session.KindWrite:
		if err := client.HSet(key, stmt.Clustering, stmt.Value).Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		return session.EmptyResult(), nil
	case session.KindDelete:
		if err := client.Del(key).Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		return session.EmptyResult(), nil
	case session.KindRead:
		if stmt.PageSize <= 0 {
			return s.readAll(client, stmt.Partition, key)
		}
		return s.scan(ctx, stmt.Partition, key, int64(stmt.PageSize))
	default:
		return nil, errors.WithStack(&stresserrors.ErrUnsupported{Store: "redis", Operation: stmt.Kind.String()})
	}
}

func (s *Session) readAll(client *redis.Client, partition, key string) (session.ResultSet, error) {
	fields, err := client.HGetAll(key).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows := make([]session.Row, 0, len(fields))
	for clustering, value := range fields {
		rows = append(rows, session.Row{Partition: partition, Clustering: clustering, Value: []byte(value)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Clustering < rows[j].Clustering })
	return session.NewPagedResult(rows, false, nil), nil
}

func (s *Session) scan(ctx context.Context, partition, key string, pageSize int64) (session.ResultSet, error) {
	var cursor uint64
	next := func(ctx context.Context) ([]session.Row, bool, error) {
		pairs, nextCursor, err := s.client.WithContext(ctx).HScan(key, cursor, "", pageSize).Result()
		if err != nil {
			return nil, false, errors.WithStack(err)
		}
		cursor = nextCursor
		return pairsToRows(partition, pairs), cursor != 0, nil
	}
	first, more, err := next(ctx)
	if err != nil {
		return nil, err
	}
	return session.NewPagedResult(first, more, next), nil
}

func (s *Session) Close() error {
	return s.client.Close()
}

// pairsToRows converts the flat field/value list returned by HSCAN.
func pairsToRows(partition string, pairs []string) []session.Row {
	rows := make([]session.Row, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		rows = append(rows, session.Row{Partition: partition, Clustering: pairs[i], Value: []byte(pairs[i+1])})
	}
	return rows
}

func partitionKey(table, partition string) string {
	return table + ":" + partition
}
