package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yesqlkv/yesqlkv/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "yesqlkv",
	Short: "yesqlkv - a distributed transactional key-value store",
	Long: `yesqlkv is a storage server and client library implementing a
distributed transactional key-value store: per-object MVCC logs, a
two-phase-commit coordinator, a range-partitioned B-tree, and a
consistent client-side cache.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(startSplitterCmd)
	rootCmd.AddCommand(flushFileCmd)
	rootCmd.AddCommand(loadFileCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
