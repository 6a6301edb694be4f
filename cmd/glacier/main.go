package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "glacier",
	Short: "Glacier - multi-tenant render farm backend",
	Long: `Glacier accepts uploaded scene files from authenticated clients,
schedules render jobs on the host (with CUDA acceleration when available),
tracks their lifecycle, and delivers the packaged output over a small
HTTP/JSON API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Glacier version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}
