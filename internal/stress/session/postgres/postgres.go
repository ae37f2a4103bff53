// Package postgres implements a Session against PostgreSQL using a pgx connection pool.
// Each table holds (partition, clustering, value) rows; paged reads use keyset pagination on the
// clustering column so that every page is an independent query.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	commonconfig "github.com/rustyrazorblade/cassandra-easy-stress/internal/common/config"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/stresserrors"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/session"
)

type Session struct {
	pool *pgxpool.Pool
}

// Open connects a pool using config and pings the server.
func Open(ctx context.Context, config commonconfig.PostgresConfig) (*Session, error) {
	return OpenConnString(ctx, config.ConnectionString(), config.MaxConns)
}

// OpenConnString accepts either a keyword/value string or a postgres:// URL.
func OpenConnString(ctx context.Context, connString string, maxConns int32) (*Session, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WithStack(err)
	}
	return &Session{pool: pool}, nil
}

func (s *Session) Execute(ctx context.Context, stmt session.Statement) (session.ResultSet, error) {
	table := pgx.Identifier{stmt.Table}.Sanitize()

	switch stmt.Kind {
	case session.KindSchema:
		if _, err := s.pool.Exec(ctx, createTableSql(table)); err != nil {
			return nil, errors.WithStack(err)
		}
		return session.EmptyResult(), nil
	case session.KindWrite:
		_, err := s.pool.Exec(ctx, upsertSql(table), stmt.Partition, stmt.Clustering, stmt.Value)
		// Writes issued before the schema statement create the table on demand.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
			if _, err := s.pool.Exec(ctx, createTableSql(table)); err != nil {
				return nil, errors.WithStack(err)
			}
			_, err = s.pool.Exec(ctx, upsertSql(table), stmt.Partition, stmt.Clustering, stmt.Value)
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return session.EmptyResult(), nil
	case session.KindDelete:
		if _, err := s.pool.Exec(ctx, deleteSql(table), stmt.Partition); err != nil {
			return nil, errors.WithStack(err)
		}
		return session.EmptyResult(), nil
	case session.KindRead:
		return s.read(ctx, table, stmt)
	default:
		return nil, errors.WithStack(&stresserrors.ErrUnsupported{Store: "postgres", Operation: stmt.Kind.String()})
	}
}

func (s *Session) read(ctx context.Context, table string, stmt session.Statement) (session.ResultSet, error) {
	if stmt.PageSize <= 0 {
		rows, err := s.query(ctx, selectAllSql(table), stmt.Partition)
		if err != nil {
			return nil, err
		}
		return session.NewPagedResult(rows, false, nil), nil
	}

	// One extra row is requested to learn whether another page follows without an empty round trip.
	after := ""
	next := func(ctx context.Context) ([]session.Row, bool, error) {
		rows, err := s.query(ctx, selectPageSql(table), stmt.Partition, after, stmt.PageSize+1)
		if err != nil {
			return nil, false, err
		}
		more := len(rows) > stmt.PageSize
		if more {
			rows = rows[:stmt.PageSize]
		}
		if len(rows) > 0 {
			after = rows[len(rows)-1].Clustering
		}
		return rows, more, nil
	}
	first, more, err := next(ctx)
	if err != nil {
		return nil, err
	}
	return session.NewPagedResult(first, more, next), nil
}

func (s *Session) query(ctx context.Context, sql string, args ...interface{}) ([]session.Row, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var result []session.Row
	for rows.Next() {
		var row session.Row
		if err := rows.Scan(&row.Partition, &row.Clustering, &row.Value); err != nil {
			return nil, errors.WithStack(err)
		}
		result = append(result, row)
	}
	return result, errors.WithStack(rows.Err())
}

func (s *Session) Close() error {
	s.pool.Close()
	return nil
}

func createTableSql(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	partition  text  NOT NULL,
	clustering text  NOT NULL,
	value      bytea,
	PRIMARY KEY (partition, clustering)
)`, table)
}

func upsertSql(table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (partition, clustering, value) VALUES ($1, $2, $3) "+
			"ON CONFLICT (partition, clustering) DO UPDATE SET value = EXCLUDED.value", table)
}

func deleteSql(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE partition = $1", table)
}

func selectAllSql(table string) string {
	return fmt.Sprintf("SELECT partition, clustering, value FROM %s WHERE partition = $1 ORDER BY clustering", table)
}

func selectPageSql(table string) string {
	return fmt.Sprintf(
		"SELECT partition, clustering, value FROM %s WHERE partition = $1 AND clustering > $2 ORDER BY clustering LIMIT $3", table)
}
