package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/G-Research/tabsink/internal/common/config"
)

const envPrefix = "TABSINK"

// BindCommandlineArguments binds the supplied flags to viper so that they override values loaded from config files.
// Flags are bound by name, so a flag must be named after the config key it overrides.
func BindCommandlineArguments(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, flagName := range keys {
		flag := flags.Lookup(flagName)
		if flag == nil {
			return errors.Errorf("no flag named %s", flagName)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return errors.WithMessagef(err, "error binding flag %s", flagName)
		}
	}
	return nil
}

// LoadConfig reads config.yaml from defaultPath (if present), merges each of the override files in order and finally
// applies environment variables prefixed with TABSINK_.  Values that are not set anywhere keep whatever the supplied
// config struct already contains.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) (*viper.Viper, error) {
	v := viper.New()
	return v, LoadConfigInto(v, config, defaultPath, overrideConfigs)
}

// LoadConfigInto behaves like LoadConfig but uses the supplied viper instance, which allows callers to bind flags first.
func LoadConfigInto(v *viper.Viper, config interface{}, defaultPath string, overrideConfigs []string) error {
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.WithMessagef(err, "error reading base config from %s", defaultPath)
		}
		log.Debugf("No base config found in %s", defaultPath)
	} else {
		log.Infof("Read base config from %s", v.ConfigFileUsed())
	}

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return errors.WithMessagef(err, "error reading config from %s", overrideConfig)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return errors.WithMessage(err, "error unmarshalling config")
	}
	return nil
}

// ConfigureLogging sets the logrus formatter and level. Format is either "text" or "json"; an empty level leaves
// the current level unchanged.
func ConfigureLogging(level string, format string) error {
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if level == "" {
		return nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.WithMessage(err, "invalid log level")
	}
	log.SetLevel(lvl)
	return nil
}

// ConfigureCommandLineLogging sets up logrus for interactive use: plain text on stderr so stdout stays clean.
func ConfigureCommandLineLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
}

// ServeMetrics exposes the default prometheus registry on /metrics. A port of zero disables the endpoint.
func ServeMetrics(port uint16) (shutdown func()) {
	if port == 0 {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	return ServeHttp(port, mux)
}

// ServeHttp starts an HTTP server listening on the given port and returns a function that shuts it down.
func ServeHttp(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting http server listening on %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("http server on %d failed", port)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Infof("Stopping http server listening on %d", port)
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warnf("error stopping http server on %d", port)
		}
	}
}
