package pgguardcmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ardentperf/pg-idle-test/lib/experiment"
)

const fullDocsFooter = `Environment:
  DATABASE_URL      connection string, used when --database-url is not set
  PGGUARD_<KEY>     any config key, for example PGGUARD_WORKERS=40`

// NewRootCommand builds the pgguard command tree. Each call gets its own viper instance.
func NewRootCommand() *cobra.Command {
	c := &command{
		v: viper.New(),
	}

	rootCmd := &cobra.Command{
		Use: "pgguard",
		Long: `
	pgguard reproduces connection pool poisoning: one session takes a row lock inside a
	transaction and goes back to the pool without committing, while workers keep updating
	the same row. With --guard the pool checks every released session and discards the
	ones still inside a transaction.
`,
		Example: `  $ pgguard poison --driver wire
  $ pgguard poison --driver wire --guard
  $ pgguard sleep --config pgguard.yaml
  $ pgguard cancel --driver wire --cancel-timeout 5s
  `,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},

		// errors from the database are not usage errors
		SilenceUsage: true,
	}
	rootCmd.SetHelpTemplate(rootCmd.HelpTemplate() + "\n" + fullDocsFooter + "\n")

	c.registerFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		c.runCommand(experiment.ModePoison, "Return the lock holding session to the pool with its transaction open"),
		c.runCommand(experiment.ModeSleep, "Keep the lock holding session checked out for the hold period"),
		c.runCommand(experiment.ModeCancel, "Time out an update blocked on the row lock and check the server canceled it"),
		c.configCommand(),
	)

	return rootCmd
}

func Main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
