package cli

import (
	"github.com/soyeahso/vlowchat/internal/config"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vlowchat",
		Short: "vlowchat: multi-tenant customer messaging gateway",
		Long: "vlowchat ingests WhatsApp and website widget messages into per-workspace inboxes,\n" +
			"dispatches human and AI replies, and keeps a small invoice ledger per chat.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.vlowchat/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newWorkspaceCmd())
	cmd.AddCommand(newMemberCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newInvoiceCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
