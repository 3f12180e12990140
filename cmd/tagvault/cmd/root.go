package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	profilePath     string
	storeType       string
	configJSON      string
	credentialsJSON string
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "tagvault",
	Short: "tagvault manages tag-indexed encrypted wallet storage",
	Long: `Create, inspect, query and migrate wallet storage instances across the
embedded (sqlite, bbolt, memory) and server (postgres, mysql) backends.

Backend selection comes from a YAML profile (--profile) and may be overridden
with --type, --config and --credentials. Config and credentials are JSON
documents; prefix a value with @ to read it from a file.`,
	Version:            Version,
	SilenceUsage:       true,
	PersistentPreRunE:  func(cmd *cobra.Command, _ []string) error { return setup(cmd) },
	PersistentPostRunE: func(*cobra.Command, []string) error { return finish() },
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&profilePath, "profile", "", "YAML profile selecting the backend")
	flags.StringVar(&storeType, "type", "", "Storage type (overrides the profile; default sqlite)")
	flags.StringVar(&configJSON, "config", "", "Backend config JSON or @file (overrides the profile)")
	flags.StringVar(&credentialsJSON, "credentials", "", "Backend credentials JSON or @file (overrides the profile)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}
