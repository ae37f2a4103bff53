package config

import (
	"sort"
	"strings"
)

type PostgresConfig struct {
	// libpq style key/value pairs, e.g. host, port, user, password, dbname, sslmode
	Connection map[string]string `validate:"required"`
	// Upper bound on pooled connections; zero leaves the pgx default
	MaxConns int32 `validate:"gte=0"`
}

// ConnectionString renders Connection as a libpq keyword/value string.
// https://www.postgresql.org/docs/current/libpq-connect.html#LIBPQ-CONNSTRING
func (pc PostgresConfig) ConnectionString() string {
	keys := make([]string, 0, len(pc.Connection))
	for k := range pc.Connection {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"='"+replacer.Replace(pc.Connection[k])+"'")
	}
	return strings.Join(parts, " ")
}
