package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/machinefabric/dcp-go/config"
)

var (
	// Global flags
	cfgFile  string
	logLevel string

	// Shared state set during PersistentPreRun
	cfg *config.Config
)

// rootCmd is the base command for dcpd.
var rootCmd = &cobra.Command{
	Use:   "dcpd",
	Short: "Binary tool-invocation daemon and client",
	Long: `dcpd hosts tools behind the dcp wire protocol. Invocations are
ed25519-signed, replay-checked, routed by tool id and answered with a
single response or a chunked stream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			cfg = config.Default()
		} else {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}
