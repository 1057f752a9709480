package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"spatialstat/adapters/plot"
	"spatialstat/domain/spatial"
)

func newReportCmd() *cobra.Command {
	var mdOut, htmlOut, scatterOut string

	cmd := &cobra.Command{
		Use:   "report [result.json]",
		Short: "Render reports from a saved analysis result",
		Long: `Render markdown, HTML or scatterplot output from a result written by
"analyze --json".

Example: spatialstat report result.json --html report.html --scatter moran.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read result: %w", err)
			}
			var result spatial.AnalysisResult
			if err := json.Unmarshal(data, &result); err != nil {
				return fmt.Errorf("invalid result file: %w", err)
			}
			if mdOut == "" && htmlOut == "" && scatterOut == "" {
				return fmt.Errorf("nothing to render; pass --md, --html or --scatter")
			}
			if err := writeReports(&result, mdOut, htmlOut); err != nil {
				return err
			}
			if scatterOut != "" {
				if err := plot.SavePNG(scatterOut, &result); err != nil {
					return fmt.Errorf("failed to write scatterplot: %w", err)
				}
				fmt.Printf("Scatterplot written to %s\n", scatterOut)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mdOut, "md", "", "Write a markdown report to this file")
	cmd.Flags().StringVar(&htmlOut, "html", "", "Write an HTML report to this file")
	cmd.Flags().StringVar(&scatterOut, "scatter", "", "Write the Moran scatterplot PNG to this file")
	return cmd
}
