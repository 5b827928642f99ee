package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"steerbench/internal/logging"

	// Registered backends.
	_ "steerbench/adapters/fewshot"
	_ "steerbench/adapters/session"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "steerbench",
	Short: "Persona steerability evaluation for LLM-backed agents",
	Long: "Steerbench calibrates a steerable system to each persona in a dataset,\n" +
		"tests every steered instance against every persona's held-out observations,\n" +
		"and scores how sharply the system distinguishes its target persona.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logging.ParseLevel(rootFlags.logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, rootFlags.logFormat)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "pretty", "Log format (text|json|pretty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
