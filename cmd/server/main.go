package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "customdata",
		Short: "Typed GraphQL projection of metafields and metaobjects",
		Long: `customdata serves a virtual GraphQL schema in which a store's metafields and
metaobjects appear as typed fields and types, rewriting every request into
the native admin API and reshaping the answers.`,
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", ".", "directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCommand(flags))
	rootCmd.AddCommand(newSchemaCommand(flags))
	rootCmd.AddCommand(newCatalogCommand(flags))
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
