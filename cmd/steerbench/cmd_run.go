package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"steerbench/internal/dataset"
	"steerbench/internal/eval"
	"steerbench/internal/steerable"
)

var runFlags struct {
	configPath string
	resume     bool
	name       string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an evaluation experiment from a config file",
	Long: "Loads the dataset, calibrates one steered instance per persona, then\n" +
		"evaluates every steered/test persona pair. All progress is persisted\n" +
		"per pair; an interrupted run continues with --resume.",
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.configPath, "config", "c", "", "Path to run config, YAML or JSON (required)")
	f.BoolVar(&runFlags.resume, "resume", false, "Resume an existing experiment directory")
	f.StringVar(&runFlags.name, "name", "", "Experiment name (overrides config)")

	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := eval.LoadConfig(runFlags.configPath)
	if err != nil {
		return err
	}
	if runFlags.resume {
		cfg.Resume = true
	}
	if runFlags.name != "" {
		cfg.ExperimentName = runFlags.name
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	backend, err := steerable.New(cfg.SteerableSystemType, cfg.SteerableSystemConfig)
	if err != nil {
		return err
	}

	data, err := dataset.Load(cfg.PersonasPath, cfg.ObservationsPath, cfg.MaxPersonas, cfg.RandomSeed)
	if err != nil {
		return err
	}

	engine, err := eval.NewEngine(cfg, backend, data)
	if err != nil {
		return err
	}
	if err := engine.Run(cmd.Context()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Experiment complete: %s\n", cfg.ExperimentName)
	fmt.Fprintf(out, "Personas:  %d\n", len(data.Personas()))
	fmt.Fprintf(out, "Pairs:     %d\n", engine.Experiment().NumScores())
	fmt.Fprintf(out, "Output:    %s\n", cfg.OutputBaseDir)
	fmt.Fprintf(out, "Run 'steerbench score --experiment-dir %s --name %s' to compute the scorecard.\n",
		cfg.OutputBaseDir, cfg.ExperimentName)
	return nil
}
