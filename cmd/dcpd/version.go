package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/machinefabric/dcp-go/frame"
)

// set at build time via -ldflags "-X main.dcpdVersion=x.y.z"
var dcpdVersion = "0.4.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show dcpd and wire protocol versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "dcpd version %s\n", dcpdVersion)
		fmt.Fprintf(cmd.OutOrStdout(), "protocol version %d\n", frame.ProtocolVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
