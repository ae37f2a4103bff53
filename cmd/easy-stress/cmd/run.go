package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common"
	commonconfig "github.com/rustyrazorblade/cassandra-easy-stress/internal/common/config"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/logging"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/configuration"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/orchestrator"
)

const (
	customConfigLocation = "config"
	defaultConfigPath    = "./config/easy-stress"
)

// Flags whose configuration key differs from the flag name.
var nestedFlags = map[string]string{
	"storeType":         "store.type",
	"table":             "store.table",
	"simulatedLatency":  "store.simulatedLatency",
	"maxLatency":        "optimizer.maxLatency",
	"stepMaxLatency":    "optimizer.stepMaxLatency",
	"optimizerInterval": "optimizer.interval",
}

func runCmd() *cobra.Command {
	defaults := configuration.Default()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the key/value workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadRunConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			_, err = orchestrator.NewRunner(config).Run(ctx)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringSlice(customConfigLocation, []string{},
		"Fully qualified path to a configuration file (for multiple config files repeat this arg or separate paths with commas)")
	flags.Int("threads", defaults.Threads, "Worker threads")
	flags.Int("concurrency", defaults.Concurrency, "Operations in flight per thread")
	flags.Float64("rate", defaults.Rate, "Initial operations per second across all threads; 0 runs unthrottled")
	flags.Duration("duration", defaults.Duration, "Duration of the run, including warmup")
	flags.Int64("iterations", defaults.Iterations, "Operations to dispatch; 0 runs for the duration")
	flags.Int64("populate", defaults.Populate, "Partitions written before the run starts")
	flags.Duration("warmup", defaults.Warmup, "Period after which metrics are reset")
	flags.String("readRate", "1%", "Proportion of reads, as a fraction or percentage")
	flags.String("deleteRate", "0", "Proportion of deletes, as a fraction or percentage")
	flags.Int64("partitions", defaults.Partitions, "Number of distinct partition keys")
	flags.Bool("paginate", defaults.Paginate, "Drain every page of each read")
	flags.Int("pageSize", defaults.PageSize, "Rows per page when paginating")
	flags.String("storeType", string(defaults.Store.Type), "Store to stress: memory, redis or postgres")
	flags.String("table", defaults.Store.Table, "Table written to")
	flags.Duration("simulatedLatency", defaults.Store.SimulatedLatency, "Latency added to each memory store statement")
	flags.Duration("maxLatency", defaults.Optimizer.MaxLatency, "p99 latency ceiling the optimizer converges on")
	flags.Duration("stepMaxLatency", defaults.Optimizer.StepMaxLatency, "p99 latency ceiling while ramping up")
	flags.Duration("optimizerInterval", defaults.Optimizer.Interval, "Time between rate adjustments")
	flags.Uint16("metricsPort", defaults.MetricsPort, "Port serving Prometheus metrics; 0 disables it")
	flags.String("resultFile", defaults.ResultFile, "File the JSON summary is written to")
	flags.String("logLevel", defaults.LogLevel, "Log level")
	return cmd
}

func loadRunConfig(flags *pflag.FlagSet) (configuration.RunConfig, error) {
	v := viper.New()
	if err := common.BindCommandlineArguments(v, flags); err != nil {
		return configuration.RunConfig{}, err
	}
	for flag, key := range nestedFlags {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return configuration.RunConfig{}, errors.WithStack(err)
		}
	}
	userSpecifiedConfigs, err := flags.GetStringSlice(customConfigLocation)
	if err != nil {
		return configuration.RunConfig{}, errors.WithStack(err)
	}

	config := configuration.Default()
	if err := common.LoadConfig(v, &config, defaultConfigPath, userSpecifiedConfigs); err != nil {
		return configuration.RunConfig{}, err
	}
	if err := logging.ConfigureLogging(config.LogLevel); err != nil {
		return configuration.RunConfig{}, err
	}
	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		return configuration.RunConfig{}, err
	}
	return config, nil
}
