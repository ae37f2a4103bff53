package common

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/rustyrazorblade/cassandra-easy-stress/internal/common/config"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/logging"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/serve"
)

const envPrefix = "EASYSTRESS"

// BindCommandlineArguments binds every parsed pflag to the matching viper key.
func BindCommandlineArguments(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// LoadConfig decodes configuration into config. The defaults file under defaultPath is optional;
// each of userSpecifiedConfigs must exist and is merged on top in order. Environment variables
// prefixed with EASYSTRESS_ override both, e.g. EASYSTRESS_OPTIMIZER_MAXLATENCY.
func LoadConfig(v *viper.Viper, config interface{}, defaultPath string, userSpecifiedConfigs []string) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return errors.Wrapf(err, "reading default config from %s", defaultPath)
		}
		log.Debugf("No default config found in %s", defaultPath)
	}

	for _, path := range userSpecifiedConfigs {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return errors.Wrapf(err, "merging config file %s", path)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// ServeMetrics exposes gatherer on /metrics of port until the returned function is called.
func ServeMetrics(port uint16, gatherer prometheus.Gatherer) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := serve.ListenAndServe(ctx, server); err != nil {
			logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("Metrics server failure")
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
