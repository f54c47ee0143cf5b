package pgguardcmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ardentperf/pg-idle-test/lib/experiment"
)

const envPrefix = "PGGUARD"

type command struct {
	v      *viper.Viper
	config experiment.Config

	logLevel    string
	metricsAddr string
}

func (T *command) registerFlags(flags *pflag.FlagSet) {
	defaults := experiment.DefaultConfig()

	flags.String("config", "", "YAML config file")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")

	flags.String("database-url", "", "postgres connection string")
	flags.String("driver", defaults.Driver, "pool under test: sql, pgx or wire")
	flags.Bool("guard", defaults.Guard, "check released sessions and discard open transactions")

	flags.Int("workers", defaults.Workers, "concurrent workers updating the row")
	flags.Duration("worker-timeout", defaults.WorkerTimeout, "timeout for each worker update")
	flags.Duration("worker-interval", defaults.WorkerInterval, "pause between worker updates")

	flags.Duration("warm-up", defaults.WarmUp, "time before the row lock is taken")
	flags.Duration("hold", defaults.Hold, "time the row lock is held")

	flags.Int("max-conns", defaults.MaxConns, "pool size")
	flags.Int("max-idle", defaults.MaxIdle, "idle sessions kept by the pool")

	flags.Duration("monitor-interval", defaults.MonitorInterval, "pool stats interval")

	flags.Duration("cancel-timeout", defaults.CancelTimeout, "timeout for the blocked update in cancel mode")

	flags.VisitAll(func(flag *pflag.Flag) {
		// keys match the mapstructure tags of experiment.Config
		_ = T.v.BindPFlag(key(flag.Name), flag)
	})

	// each run subcommand sets its own mode
	T.v.SetDefault("mode", string(defaults.Mode))

	T.v.SetEnvPrefix(envPrefix)
	T.v.AutomaticEnv()
	_ = T.v.BindEnv(key("database-url"), envPrefix+"_DATABASE_URL", "DATABASE_URL")
}

func key(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

// load merges flags, environment and the config file, in that order of precedence.
func (T *command) load() error {
	if file := T.v.GetString("config"); file != "" {
		T.v.SetConfigFile(file)
		if err := T.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := T.v.Unmarshal(&T.config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	T.logLevel = T.v.GetString(key("log-level"))
	T.metricsAddr = T.v.GetString(key("metrics-addr"))
	return nil
}

func (T *command) configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(T.config); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
