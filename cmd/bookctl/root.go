package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bookctl",
		Short:         "Book archive command line tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.flags.envFile, "env-file", ".env", "Path to .env file")
	flags.StringVar(&ctx.flags.booksPath, "books-path", "", "Directory holding the book archives")
	flags.StringVar(&ctx.flags.cachePath, "cache-path", "", "Cache root directory")
	flags.StringVar(&ctx.flags.databasePath, "database-path", "", "Catalog database file")
	flags.StringVar(&ctx.flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&ctx.flags.json, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(newLocateCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newCoverCommand(ctx))
	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newPrecacheCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))

	return rootCmd
}
