package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/aobridge/internal/version"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand returns the root command. Running it without a subcommand
// serves the API.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "aobridge",
		Short: "Telegram to Arweave bridge with an AO platform API.",
		Long: `aobridge receives files sent to a Telegram bot, keeps them in a local cache,
moves them to Arweave permanent storage through ArDrive Turbo and exposes
the AO process builder, email, token price and Twitter helpers over HTTP.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to the TOML config file (defaults to $CONFIG_PATH or config.toml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "",
		"Dotenv file loaded before the config (defaults to .env)")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the Telegram bot.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aobridge %s\n", version.GetInfo())
		},
	}
}
