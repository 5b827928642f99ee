package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"steerbench/internal/eval"
)

var statusFlags struct {
	baseDir string
	name    string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted progress for an experiment",
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusFlags.baseDir, "experiment-dir", eval.DefaultOutputBaseDir, "Base directory holding experiment directories")
	f.StringVar(&statusFlags.name, "name", "", "Experiment name (required)")

	_ = statusCmd.MarkFlagRequired("name")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	dir := filepath.Join(statusFlags.baseDir, statusFlags.name)
	cfg, err := eval.ReadExperimentConfig(dir, statusFlags.name)
	if err != nil {
		return err
	}
	progress, err := eval.ReadProgress(dir, statusFlags.name)
	if err != nil {
		return err
	}

	// With max_personas unset the run uses every persona; calibration
	// snapshots then give the best available total.
	personas := cfg.MaxPersonas
	if personas == 0 {
		personas = progress.CalibratedPersonas
	}
	totalPairs := personas * personas

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Experiment: %s\n", statusFlags.name)
	fmt.Fprintf(out, "Backend:    %s\n", cfg.SteerableSystemType)
	fmt.Fprintf(out, "Calibrated: %d persona(s)\n", progress.CalibratedPersonas)
	if totalPairs > 0 {
		fmt.Fprintf(out, "Pairs:      %d / %d\n", progress.CompletedPairs, totalPairs)
	} else {
		fmt.Fprintf(out, "Pairs:      %d\n", progress.CompletedPairs)
	}
	if totalPairs > 0 && progress.CompletedPairs >= totalPairs {
		fmt.Fprintf(out, "Status:     complete\n")
		fmt.Fprintf(out, "Run 'steerbench score --name %s' to compute the scorecard.\n", statusFlags.name)
	} else {
		fmt.Fprintf(out, "Status:     in progress\n")
		fmt.Fprintf(out, "Re-run with --resume to continue.\n")
	}
	return nil
}
