package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"steerbench/internal/dataset"
	"steerbench/internal/eval"
	"steerbench/internal/format"
)

var datasetFlags struct {
	personasPath     string
	observationsPath string
	maxPersonas      int
	seed             int64
	markdown         bool
}

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Dataset utilities",
}

var datasetInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect a persona dataset and its label balance",
	Long: "Loads the persona and observation CSVs the way a run would and prints\n" +
		"the per-persona agree/disagree balance. Useful for checking that every\n" +
		"persona can support the configured steer-set size.",
	RunE: runDatasetInspect,
}

func init() {
	datasetCmd.AddCommand(datasetInspectCmd)

	f := datasetInspectCmd.Flags()
	f.StringVar(&datasetFlags.personasPath, "personas", "", "Personas CSV path (required)")
	f.StringVar(&datasetFlags.observationsPath, "observations", "", "Observations CSV path (required)")
	f.IntVar(&datasetFlags.maxPersonas, "max-personas", 0, "Sample at most this many personas (0 = all)")
	f.Int64Var(&datasetFlags.seed, "seed", eval.DefaultSeed, "Sampling seed")
	f.BoolVar(&datasetFlags.markdown, "markdown", false, "Render as a Markdown table")

	_ = datasetInspectCmd.MarkFlagRequired("personas")
	_ = datasetInspectCmd.MarkFlagRequired("observations")
}

func runDatasetInspect(cmd *cobra.Command, _ []string) error {
	data, err := dataset.Load(datasetFlags.personasPath, datasetFlags.observationsPath,
		datasetFlags.maxPersonas, datasetFlags.seed)
	if err != nil {
		return err
	}

	mode := format.ASCII
	if datasetFlags.markdown {
		mode = format.Markdown
	}
	tb := format.NewTable(mode)
	tb.Header("Persona", "Framework", "Description", "Agree", "Disagree")
	tb.Columns(
		format.ColumnConfig{Number: 3, MaxWidth: 40},
		format.ColumnConfig{Number: 4, Align: format.AlignRight},
		format.ColumnConfig{Number: 5, Align: format.AlignRight},
	)

	totalAgree, totalDisagree := 0, 0
	for _, p := range data.Personas() {
		agree, disagree := 0, 0
		for _, o := range data.Observations(p.ID) {
			if o.CorrectResponse == dataset.Agree {
				agree++
			} else {
				disagree++
			}
		}
		totalAgree += agree
		totalDisagree += disagree
		tb.Row(p.ID, p.Framework, format.Truncate(p.Description, 40), agree, disagree)
	}
	tb.Footer(fmt.Sprintf("%d personas", len(data.Personas())), "", "", totalAgree, totalDisagree)

	fmt.Fprintln(cmd.OutOrStdout(), tb.String())
	return nil
}
