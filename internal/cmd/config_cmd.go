package cmd

import (
	"fmt"

	"github.com/hargabyte/sentembed/internal/config"
	"github.com/hargabyte/sentembed/internal/output"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the sentembed configuration",
		Long: `Configuration is read from .sentembed/config.yaml (searched upwards from the
working directory, or given with --config). SENTEMBED_CACHE_DIR,
SENTEMBED_OFFLINE, SENTEMBED_LOG_LEVEL and SENTEMBED_LOG_FORMAT override the
file.`,
	}

	configCmd.AddCommand(newConfigShowCmd(opts))
	configCmd.AddCommand(newConfigInitCmd())
	return configCmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	var format string

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			cfg, _, err := setup(cmd, opts)
			if err != nil {
				return err
			}

			formatter, err := output.GetFormatter(outFormat)
			if err != nil {
				return err
			}
			return formatter.FormatToWriter(cmd.OutOrStdout(), cfg)
		},
	}

	showCmd.Flags().StringVar(&format, "format", string(output.DefaultFormat), "Output format (yaml|json)")
	return showCmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default .sentembed/config.yaml in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.SaveDefault(".")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
}
