package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd())
}

var rootCmd = &cobra.Command{
	Use:   "easy-stress",
	Short: "Stress test a database with an adaptive rate limit",
	Long: `
Stress test a database with a key/value workload.

When a rate is given, the rate is continuously retuned so that throughput is as high as it can
be while p99 latency stays under the configured ceiling.

Defaults are read from ./config/easy-stress/config.yaml and can be overridden by files passed
with --config, by EASYSTRESS_ environment variables and by flags, in that order.
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
