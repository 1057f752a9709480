package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"spatialstat/adapters/excel"
	"spatialstat/adapters/geojson"
	"spatialstat/adapters/plot"
	"spatialstat/adapters/report"
	"spatialstat/adapters/rng"
	"spatialstat/adapters/stats/autocorr"
	"spatialstat/adapters/stats/transform"
	"spatialstat/adapters/weights"
	"spatialstat/app"
	"spatialstat/domain/spatial"
	"spatialstat/internal"
	"spatialstat/internal/config"
	"spatialstat/ports"
)

type analyzeOptions struct {
	columns      ports.ColumnMapping
	dataType     string
	neighbors    string
	k            int
	radius       float64
	alpha        float64
	permutations int
	global       bool
	local        bool
	seed         int64
	timeout      time.Duration
	jsonOut      string
	reportOut    string
	htmlOut      string
	scatterOut   string
}

func newAnalyzeCmd(appConfig *config.Config) *cobra.Command {
	opts := analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Run Moran's I and LISA on a CSV, Excel or GeoJSON file",
		Long: `Run Global Moran's I and Local Indicators of Spatial Association on the
observations in a file.

CSV and Excel files need x/y columns, or a WKT geometry column whose centroid
is used. GeoJSON features use their geometry centroid and the value property.

Example:
  spatialstat analyze counties.csv --x-col lon --y-col lat --value-col cases \
    --data-type count --neighbors knn --k 6 --report report.md --scatter moran.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), appConfig, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.columns.X, "x-col", "x", "Column holding the x coordinate")
	cmd.Flags().StringVar(&opts.columns.Y, "y-col", "y", "Column holding the y coordinate")
	cmd.Flags().StringVar(&opts.columns.Value, "value-col", "value", "Column or property holding the analysed value")
	cmd.Flags().StringVar(&opts.columns.ID, "id-col", "", "Optional column or property identifying each observation")
	cmd.Flags().StringVar(&opts.columns.Geometry, "geometry-col", "", "WKT column used instead of x/y")
	cmd.Flags().StringVar(&opts.dataType, "data-type", "continuous", "Data type: count|rate|continuous")
	cmd.Flags().StringVar(&opts.neighbors, "neighbors", "queen", "Neighbor definition: queen|rook|knn|radius")
	cmd.Flags().IntVar(&opts.k, "k", 4, "Neighbor count for knn")
	cmd.Flags().Float64Var(&opts.radius, "radius", 0, "Distance threshold for radius")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", appConfig.Analysis.DefaultSignificance, "Significance level")
	cmd.Flags().IntVar(&opts.permutations, "permutations", appConfig.Analysis.DefaultPermutations, "Requested permutation count")
	cmd.Flags().BoolVar(&opts.global, "global", true, "Run Global Moran's I")
	cmd.Flags().BoolVar(&opts.local, "local", true, "Run LISA")
	cmd.Flags().Int64Var(&opts.seed, "seed", appConfig.Analysis.Seed, "Random seed; 0 picks a time-based seed")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", appConfig.Analysis.Timeout, "Time limit for the permutation tests")
	cmd.Flags().StringVar(&opts.jsonOut, "json", "", "Write the full result as JSON to this file")
	cmd.Flags().StringVar(&opts.reportOut, "report", "", "Write a markdown report to this file")
	cmd.Flags().StringVar(&opts.htmlOut, "html", "", "Write an HTML report to this file")
	cmd.Flags().StringVar(&opts.scatterOut, "scatter", "", "Write the Moran scatterplot PNG to this file")

	return cmd
}

// readerFor picks the observation reader from the file extension
func readerFor(path string, logger *internal.Logger) ports.ObservationReader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return geojson.NewReader(logger)
	}
	return excel.NewObservationReader(logger)
}

func runAnalyze(ctx context.Context, appConfig *config.Config, path string, opts analyzeOptions) error {
	logger := appConfig.NewLogger()

	dataType, err := spatial.ParseDataType(opts.dataType)
	if err != nil {
		return err
	}
	definition, err := spatial.ParseNeighborDefinition(opts.neighbors)
	if err != nil {
		return err
	}

	loaded, err := readerFor(path, logger).Read(ctx, path, opts.columns, dataType)
	if err != nil {
		return fmt.Errorf("failed to load observations: %w", err)
	}

	rngPort := rng.NewAdapter()
	service := app.NewAnalysisService(
		transform.Transformer{},
		weights.NewBuilder(),
		autocorr.NewGlobalEstimator(rngPort),
		autocorr.NewLocalEstimator(rngPort),
		app.WithLogger(logger),
		app.WithMaxObservations(appConfig.Analysis.MaxObservations),
	)

	req := spatial.AnalysisRequest{
		DataType:          dataType,
		Neighbors:         spatial.NeighborParams{Definition: definition, K: opts.k, Radius: opts.radius},
		SignificanceLevel: opts.alpha,
		Permutations:      opts.permutations,
		RunGlobal:         opts.global,
		RunLocal:          opts.local,
		Seed:              opts.seed,
		Timeout:           opts.timeout,
	}

	progress := ports.ProgressFunc(func(e spatial.ProgressEvent) {
		fmt.Fprintf(os.Stderr, "[%3.0f%%] %s\n", e.Percent, e.Message)
	})

	startTime := time.Now()
	result, err := service.Run(ctx, loaded.Observations, req, progress)
	if err != nil {
		return err
	}

	printSummary(result, loaded, time.Since(startTime))
	return writeOutputs(result, opts)
}

func printSummary(result *spatial.AnalysisResult, loaded *ports.ReadResult, elapsed time.Duration) {
	fmt.Printf("\n📊 SPATIAL AUTOCORRELATION RESULTS\n")
	fmt.Printf("Source: %s\n", loaded.Source)
	fmt.Printf("Observations: %d (skipped %d)\n", len(result.Observations), loaded.SkippedCount)
	fmt.Printf("Processing Time: %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Seed: %d\n", result.Request.Seed)

	w := result.Weights
	fmt.Printf("\n🧭 WEIGHTS: %s", w.Definition.Definition)
	if w.FallbackUsed {
		fmt.Printf(" (fallback to %d nearest neighbors)", w.Definition.K)
	}
	fmt.Printf(", %d links, %.2f neighbors on average, %d isolated\n",
		w.Links, w.MeanNeighbors, len(w.IsolatedIndices))

	if m := result.Moran; m != nil {
		fmt.Printf("\n🌐 GLOBAL MORAN'S I\n")
		fmt.Printf("I = %.4f (E[I] = %.4f)\n", m.I, m.ExpectedI)
		fmt.Printf("z = %.3f, pseudo p = %.4f, normal p = %.4f\n", m.ZScore, m.PValue, m.NormalPValue)
		fmt.Printf("Permutations: %d of %d\n", m.ValidPermutations, m.RequestedPermutations)
		fmt.Printf("Verdict: %s\n", m.Interpretation)
		if m.Truncated {
			fmt.Printf("⚠️  permutation test stopped early; p-value rests on fewer trials\n")
		}
	}

	if result.Lisa != nil {
		fmt.Printf("\n📍 LISA (α = %.3f, no multiple-testing correction)\n", result.Request.SignificanceLevel)
		counts := result.PatternCounts()
		for _, p := range spatial.Patterns {
			fmt.Printf("• %s: %d\n", p, counts[p])
		}
		if truncated := result.TruncatedLisaCount(); truncated > 0 {
			fmt.Printf("⚠️  permutation test stopped early for %d observations\n", truncated)
		}
	}
}

func writeOutputs(result *spatial.AnalysisResult, opts analyzeOptions) error {
	if opts.jsonOut != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		if err := os.WriteFile(opts.jsonOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.jsonOut, err)
		}
		fmt.Printf("\nResult written to %s\n", opts.jsonOut)
	}

	if err := writeReports(result, opts.reportOut, opts.htmlOut); err != nil {
		return err
	}

	if opts.scatterOut != "" {
		if result.Lisa == nil {
			return fmt.Errorf("--scatter needs the local analysis")
		}
		if err := plot.SavePNG(opts.scatterOut, result); err != nil {
			return fmt.Errorf("failed to write scatterplot: %w", err)
		}
		fmt.Printf("Scatterplot written to %s\n", opts.scatterOut)
	}
	return nil
}

func writeReports(result *spatial.AnalysisResult, mdPath, htmlPath string) error {
	renderer := report.NewRenderer(4)
	if mdPath != "" {
		md, err := renderer.Markdown(result)
		if err != nil {
			return err
		}
		if err := os.WriteFile(mdPath, md, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", mdPath, err)
		}
		fmt.Printf("Markdown report written to %s\n", mdPath)
	}
	if htmlPath != "" {
		page, err := renderer.HTML(result)
		if err != nil {
			return err
		}
		if err := os.WriteFile(htmlPath, page, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", htmlPath, err)
		}
		fmt.Printf("HTML report written to %s\n", htmlPath)
	}
	return nil
}
