package configuration

import (
	"time"

	"github.com/pkg/errors"

	commonconfig "github.com/rustyrazorblade/cassandra-easy-stress/internal/common/config"
)

type StoreType string

const (
	StoreMemory   StoreType = "memory"
	StoreRedis    StoreType = "redis"
	StorePostgres StoreType = "postgres"
)

func (s *StoreType) UnmarshalText(text []byte) error {
	switch t := StoreType(text); t {
	case StoreMemory, StoreRedis, StorePostgres:
		*s = t
		return nil
	default:
		return errors.Errorf("unknown store type %q, expected one of memory, redis, postgres", string(text))
	}
}

type PartitionKeyGenerator string

const (
	// Keys drawn uniformly from [0, Partitions).
	RandomKeys PartitionKeyGenerator = "random"
	// Keys 0, 1, 2, ... wrapping at Partitions.
	SequentialKeys PartitionKeyGenerator = "sequence"
)

type RunConfig struct {
	// Worker threads, each with its own dispatch loop.
	Threads int `validate:"gte=1"`
	// Operations each thread may have in flight.
	Concurrency int `validate:"gte=1"`
	// Initial permits per second shared by all threads. Zero runs unthrottled and disables the optimizer.
	Rate float64 `validate:"gte=0"`
	// Duration of the run, including warmup. Zero runs until Iterations operations have been dispatched.
	Duration time.Duration `validate:"gte=0"`
	// Operations dispatched across all threads. Zero runs until Duration elapses.
	Iterations int64 `validate:"gte=0"`
	// Mutations issued before the run starts. They are not recorded.
	Populate int64 `validate:"gte=0"`
	// Measurements are discarded after this period.
	Warmup time.Duration `validate:"gte=0"`
	// Proportion of operations that are reads.
	ReadRate commonconfig.Percentage `validate:"gte=0,lte=1"`
	// Proportion of operations that are deletes.
	DeleteRate            commonconfig.Percentage `validate:"gte=0,lte=1"`
	Partitions            int64                   `validate:"gte=1"`
	PartitionKeyGenerator PartitionKeyGenerator   `validate:"oneof=random sequence"`
	// Rows written under each partition; reads return the whole partition.
	RowsPerPartition int `validate:"gte=1"`
	// Drain every page of a read before it counts as complete.
	Paginate bool
	PageSize int `validate:"gte=0"`
	// Bytes per written value.
	ValueSize int `validate:"gte=1"`
	// Keys remembered from successful writes and preferred for reads.
	KeyCacheSize int `validate:"gte=1"`

	Optimizer OptimizerConfig
	Store     StoreConfig

	// Zero disables the metrics endpoint.
	MetricsPort      uint16
	ProgressInterval time.Duration `validate:"gt=0"`
	// Written with a JSON summary of the run when set.
	ResultFile string
	LogLevel   string
}

type OptimizerConfig struct {
	MaxLatency     time.Duration `validate:"gt=0"`
	StepMaxLatency time.Duration `validate:"gt=0"`
	Interval       time.Duration `validate:"gt=0"`
	StepPhaseTicks int           `validate:"gte=0"`
	MinRate        float64       `validate:"gte=0"`
}

type StoreConfig struct {
	Type  StoreType `validate:"oneof=memory redis postgres"`
	Table string    `validate:"required"`
	// Set when Type is redis.
	Redis *commonconfig.RedisConfig `validate:"omitempty"`
	// Set when Type is postgres.
	Postgres *commonconfig.PostgresConfig `validate:"omitempty"`
	// Added to every statement run against the memory store.
	SimulatedLatency time.Duration `validate:"gte=0"`
}

// Default returns the configuration used when no config file sets a value.
func Default() RunConfig {
	return RunConfig{
		Threads:               1,
		Concurrency:           100,
		Duration:              time.Minute,
		ReadRate:              0.01,
		Partitions:            1000000,
		PartitionKeyGenerator: RandomKeys,
		RowsPerPartition:      1,
		PageSize:              100,
		ValueSize:             100,
		KeyCacheSize:          10000,
		Optimizer: OptimizerConfig{
			MaxLatency:     50 * time.Millisecond,
			StepMaxLatency: 100 * time.Millisecond,
			Interval:       5 * time.Second,
			StepPhaseTicks: 12,
			MinRate:        1,
		},
		Store: StoreConfig{
			Type:  StoreMemory,
			Table: "keyvalue",
		},
		ProgressInterval: 10 * time.Second,
		LogLevel:         "info",
	}
}
