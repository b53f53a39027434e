package cli

import (
	"github.com/anchel/voucher-seckill/config"
	"github.com/spf13/cobra"
)

// RootOptions carries the configuration loaded before any subcommand runs.
type RootOptions struct {
	Config *config.Config
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "seckill",
		Short:         "Voucher flash-sale reservation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load()
			if err != nil {
				return err
			}
			c.ApplyLogging()
			opts.Config = c
			return nil
		},
		// serve is the default
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewVoucherCommand(opts))

	return cmd
}
