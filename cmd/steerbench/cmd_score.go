package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"steerbench/internal/dataset"
	"steerbench/internal/eval"
	"steerbench/internal/format"
	"steerbench/internal/score"
)

var scoreFlags struct {
	baseDir   string
	name      string
	aggregate string
	markdown  bool
	jsonOut   bool
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute sensitivity and specificity for a completed experiment",
	Long: "Reads the persisted score matrix and ranks each persona's diagonal cell\n" +
		"within its column (sensitivity) and row (specificity). Works on partial\n" +
		"matrices; personas without a diagonal cell are skipped.",
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.StringVar(&scoreFlags.baseDir, "experiment-dir", eval.DefaultOutputBaseDir, "Base directory holding experiment directories")
	f.StringVar(&scoreFlags.name, "name", "", "Experiment name (required)")
	f.StringVar(&scoreFlags.aggregate, "aggregate", "mean", "Aggregation across personas (mean|median)")
	f.BoolVar(&scoreFlags.markdown, "markdown", false, "Render the scorecard as a Markdown table")
	f.BoolVar(&scoreFlags.jsonOut, "json", false, "Emit the result as JSON instead of a table")

	_ = scoreCmd.MarkFlagRequired("name")
}

func runScore(cmd *cobra.Command, _ []string) error {
	agg, err := score.ParseAggregation(scoreFlags.aggregate)
	if err != nil {
		return err
	}

	dir := filepath.Join(scoreFlags.baseDir, scoreFlags.name)
	scores, err := eval.LoadScores(dir, scoreFlags.name)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		return fmt.Errorf("no scores found in %s", dir)
	}

	result, err := score.Compute(scores, agg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scoreFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	mode := format.ASCII
	if scoreFlags.markdown {
		mode = format.Markdown
	}
	fmt.Fprintln(out, score.RenderTable(result, personaDescriptions(dir, scoreFlags.name), mode))
	return nil
}

// personaDescriptions maps persona IDs to descriptions by reloading the
// dataset named in the persisted experiment config. Scoring works without it,
// so any failure here just leaves the description column empty.
func personaDescriptions(dir, name string) map[string]string {
	cfg, err := eval.ReadExperimentConfig(dir, name)
	if err != nil {
		return nil
	}
	data, err := dataset.Load(cfg.PersonasPath, cfg.ObservationsPath, cfg.MaxPersonas, cfg.RandomSeed)
	if err != nil {
		return nil
	}
	descriptions := make(map[string]string)
	for _, p := range data.Personas() {
		descriptions[p.ID] = p.Description
	}
	return descriptions
}
