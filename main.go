package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version    = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "splitpay",
		Short:         "SplitPay - shared bill payments for restaurant tables",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default ./splitpay.yaml if present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
