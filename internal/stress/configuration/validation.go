package configuration

import (
	"github.com/pkg/errors"

	commonconfig "github.com/rustyrazorblade/cassandra-easy-stress/internal/common/config"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/stresserrors"
)

// Validate checks struct constraints first and then the relationships between fields.
func (c *RunConfig) Validate() error {
	if err := commonconfig.Validate(c); err != nil {
		return errors.WithStack(err)
	}
	if c.Duration == 0 && c.Iterations == 0 {
		return stresserrors.InvalidArgument("duration", c.Duration, "either duration or iterations must be set")
	}
	if c.Duration > 0 && c.Warmup >= c.Duration {
		return stresserrors.InvalidArgument("warmup", c.Warmup, "warmup must be shorter than duration")
	}
	if c.ReadRate+c.DeleteRate > 1 {
		return stresserrors.InvalidArgument("readRate", c.ReadRate, "readRate and deleteRate together must not exceed 1")
	}
	if c.Paginate && c.PageSize == 0 {
		return stresserrors.InvalidArgument("pageSize", c.PageSize, "pageSize must be positive when paginate is set")
	}
	if c.Optimizer.StepMaxLatency < c.Optimizer.MaxLatency {
		return stresserrors.InvalidArgument("optimizer.stepMaxLatency", c.Optimizer.StepMaxLatency,
			"stepMaxLatency must not be lower than maxLatency")
	}
	switch c.Store.Type {
	case StoreRedis:
		if c.Store.Redis == nil {
			return stresserrors.InvalidArgument("store.redis", nil, "redis settings are required for the redis store")
		}
	case StorePostgres:
		if c.Store.Postgres == nil {
			return stresserrors.InvalidArgument("store.postgres", nil, "postgres settings are required for the postgres store")
		}
	}
	return nil
}

// Unthrottled reports whether the run dispatches without a rate limiter.
func (c *RunConfig) Unthrottled() bool {
	return c.Rate == 0
}
