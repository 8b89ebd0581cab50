// Package cmd provides the CLI commands for hukm.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hukm-search/hukm/internal/config"
	"github.com/hukm-search/hukm/pkg/version"
)

// Persistent flags shared by every command.
var (
	configPath string
	dataDir    string
	debugMode  bool
)

// NewRootCmd creates the root command for the hukm CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hukm",
		Short: "Hybrid search over Saudi judicial decisions",
		Long: `hukm serves hybrid search (BM25 + semantic) over Saudi judicial
decisions, with Q&A matching, synthesis context assembly, and facet
discovery.

Load a JSONL export with 'hukm load', then query from the command line
or run 'hukm serve' for the HTTP API.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("hukm version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./hukm.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newQACmd())
	cmd.AddCommand(newFacetsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig builds the effective configuration, honoring the
// persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debugMode {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
