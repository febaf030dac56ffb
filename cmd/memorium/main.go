package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "memorium",
	Short:   "Local memory palace store",
	Version: version,
	Long: `memorium keeps memory palaces — panoramic images with spatial
annotations — in encrypted local storage, and serves them to clients
over a local HTTP API and MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(palaceCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(annotationCmd)
	rootCmd.AddCommand(securityCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(wipeCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
