package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/G-Research/tabsink/internal/common"
	"github.com/G-Research/tabsink/internal/common/app"
	"github.com/G-Research/tabsink/internal/tabsink"
	"github.com/G-Research/tabsink/internal/tabsink/configuration"
)

const (
	configFlag = "config"
	dryRunFlag = "dry-run"
	// Directory searched for config.yaml before any --config files are applied
	defaultConfigPath = "./config/tabsink"
)

// Config keys overridable from the command line, mapped to their flag names
var flagKeys = map[string]string{
	"sink.type":                 "sink",
	"sink.statement":            "statement",
	"source.type":               "source",
	"source.chunkSize":          "chunk-size",
	"capacity.perChannel":       "per-channel",
	"capacity.floor":            "floor",
	"reassembly.fragmentPolicy": "fragment-policy",
	"transform.type":            "transform",
	"metricsPort":               "metrics-port",
	"failOnErrors":              "fail-on-errors",
	"logLevel":                  "log-level",
}

func loadCmd() *cobra.Command {
	defaults := configuration.Default()
	cmd := &cobra.Command{
		Use:   "load [file]",
		Short: "Load a tab separated stream into the configured sink",
		Long: `Load reads a tab separated stream, with a header line, from the configured source (stdin unless a file
is given) and writes every row to the configured sink. Malformed rows and failed writes are reported but do not
stop the load.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			config, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			dryRun, err := cmd.Flags().GetBool(dryRunFlag)
			if err != nil {
				return err
			}

			result, err := tabsink.Run(app.CreateContextWithShutdown(), config, cmd.InOrStdin(), dryRun)
			if result != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows written, %d failed, %d errors\n",
					result.Succeeded, result.Failed, result.Errors)
			}
			return err
		},
	}

	cmd.Flags().StringSlice(configFlag, []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	cmd.Flags().Bool(dryRunFlag, false, "Write rows to an in-memory sink instead of the configured one")
	cmd.Flags().String("sink", string(defaults.Sink.Type), "Sink type: postgres, redis, sqlite or memdb")
	cmd.Flags().String("statement", defaults.Sink.Statement, "Statement executed for every row")
	cmd.Flags().String("source", string(defaults.Source.Type), "Source type: stdin, file, pulsar or nats")
	cmd.Flags().Int("chunk-size", defaults.Source.ChunkSize, "Chunk size in bytes when reading stdin or a file")
	cmd.Flags().Int("per-channel", defaults.Capacity.PerChannel, "Outstanding writes allowed per connected sink channel")
	cmd.Flags().Int("floor", defaults.Capacity.Floor, "Minimum number of outstanding writes allowed")
	cmd.Flags().String("fragment-policy", defaults.Reassembly.FragmentPolicy.String(), "How short lines are handled: strict or merge")
	cmd.Flags().String("transform", defaults.Transform.Type, "Row transform: identity, keyed or named")
	cmd.Flags().Uint16("metrics-port", defaults.MetricsPort, "Port for the /metrics endpoint, 0 to disable")
	cmd.Flags().Bool("fail-on-errors", defaults.FailOnErrors, "Exit with an error if any row could not be written")
	cmd.Flags().String("log-level", defaults.LogLevel, "Log level")
	return cmd
}

func loadConfig(cmd *cobra.Command, args []string) (configuration.TabsinkConfiguration, error) {
	config := configuration.Default()
	userSpecifiedConfigs, err := cmd.Flags().GetStringSlice(configFlag)
	if err != nil {
		return config, err
	}

	v := viper.New()
	if err := common.BindCommandlineArguments(v, cmd.Flags(), flagKeys); err != nil {
		return config, err
	}
	if err := common.LoadConfigInto(v, &config, defaultConfigPath, userSpecifiedConfigs); err != nil {
		return config, err
	}
	if len(args) == 1 {
		config.Source.Type = configuration.SourceTypeFile
		config.Source.Path = args[0]
	}
	if err := common.ConfigureLogging(config.LogLevel, config.LogFormat); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}
