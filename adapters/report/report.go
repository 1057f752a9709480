// Package report renders an analysis result as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/montanaflynn/stats"

	"spatialstat/domain/spatial"
)

// Title heads every report
const Title = "Spatial Autocorrelation Report"

// Renderer produces human-readable reports
type Renderer struct {
	precision int
}

// NewRenderer creates a report renderer printing statistics with precision
// decimal places; values below 1 fall back to 6
func NewRenderer(precision int) *Renderer {
	if precision < 1 {
		precision = 6
	}
	return &Renderer{precision: precision}
}

// Markdown renders result as a Markdown document
func (r *Renderer) Markdown(result *spatial.AnalysisResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("report: nil result")
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", Title)
	fmt.Fprintf(&b, "Analysis `%s` created %s over %d observations (%s data).\n\n",
		result.ID, result.CreatedAt, len(result.Observations), result.Request.DataType)

	if err := r.writeValues(&b, result); err != nil {
		return nil, err
	}
	if result.Moran != nil {
		r.writeGlobal(&b, result.Moran)
	}
	if result.Lisa != nil {
		if err := r.writeLocal(&b, result); err != nil {
			return nil, err
		}
	}
	r.writeWeights(&b, result.Weights)
	return b.Bytes(), nil
}

// HTML renders result as a complete HTML page
func (r *Renderer) HTML(result *spatial.AnalysisResult) ([]byte, error) {
	md, err := r.Markdown(result)
	if err != nil {
		return nil, err
	}
	return RenderHTML(md), nil
}

// RenderHTML converts Markdown to a standalone HTML page
func RenderHTML(md []byte) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(md)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: Title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.Render(doc, renderer)
}

func (r *Renderer) f(v float64) string {
	return fmt.Sprintf("%.*f", r.precision, v)
}

func (r *Renderer) writeValues(b *bytes.Buffer, result *spatial.AnalysisResult) error {
	raw, err := summarize(result.OriginalValues)
	if err != nil {
		return fmt.Errorf("report: summarizing values: %w", err)
	}
	transformed, err := summarize(result.TransformedValues)
	if err != nil {
		return fmt.Errorf("report: summarizing transformed values: %w", err)
	}

	b.WriteString("## Values\n\n")
	b.WriteString("| | Mean | Median | Std. dev. | Min | Max |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, row := range []struct {
		label string
		s     summary
	}{{"Original", raw}, {"Transformed", transformed}} {
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s | %s |\n",
			row.label, r.f(row.s.mean), r.f(row.s.median), r.f(row.s.stdDev), r.f(row.s.min), r.f(row.s.max))
	}
	b.WriteString("\n")
	return nil
}

func (r *Renderer) writeGlobal(b *bytes.Buffer, m *spatial.MoranResult) {
	b.WriteString("## Global Moran's I\n\n")
	fmt.Fprintf(b, "- **Moran's I:** %s\n", r.f(m.I))
	fmt.Fprintf(b, "- **Expected value (H0):** %s\n", r.f(m.ExpectedI))
	fmt.Fprintf(b, "- **Variance (permutation):** %s\n", r.f(m.VarianceI))
	fmt.Fprintf(b, "- **Z-score:** %.4f\n", m.ZScore)
	fmt.Fprintf(b, "- **P-value (permutation):** %s\n", r.f(m.PValue))
	fmt.Fprintf(b, "- **P-value (normal approximation):** %s\n", r.f(m.NormalPValue))
	fmt.Fprintf(b, "- **Based on:** %d valid permutations of %d requested\n", m.ValidPermutations, m.RequestedPermutations)
	if m.Truncated {
		b.WriteString("- **Note:** the permutation test was stopped early; the p-value rests on fewer trials than requested\n")
	}

	b.WriteString("\n### Interpretation\n\n")
	switch m.Interpretation {
	case spatial.InterpretationPositive:
		fmt.Fprintf(b, "**Significant positive spatial autocorrelation** (α = %g). Similar values tend to cluster in space.\n\n", m.SignificanceLevel)
	case spatial.InterpretationNegative:
		fmt.Fprintf(b, "**Significant negative spatial autocorrelation** (α = %g). Dissimilar values tend to be neighbors.\n\n", m.SignificanceLevel)
	default:
		fmt.Fprintf(b, "**Spatially random distribution** (α = %g). There is no evidence of a significant spatial pattern.\n\n", m.SignificanceLevel)
	}
}

func (r *Renderer) writeLocal(b *bytes.Buffer, result *spatial.AnalysisResult) error {
	total := len(result.Lisa)
	counts := result.PatternCounts()

	b.WriteString("## Local Indicators of Spatial Association\n\n")
	b.WriteString("| Pattern | Observations | Share | Color | Description |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, p := range spatial.Patterns {
		share := 0.0
		if total > 0 {
			share = float64(counts[p]) / float64(total) * 100
		}
		fmt.Fprintf(b, "| %s | %d | %.1f%% | `%s` | %s |\n", p, counts[p], share, PatternHex(p), PatternDescription(p))
	}

	significant := result.SignificantCount()
	share := 0.0
	if total > 0 {
		share = float64(significant) / float64(total) * 100
	}
	fmt.Fprintf(b, "\n**Observations with a significant local pattern:** %d of %d (%.1f%%)\n\n", significant, total, share)
	fmt.Fprintf(b, "**Significance level:** α = %g, applied to each observation without multiple-testing correction.\n\n", result.Request.SignificanceLevel)
	if truncated := result.TruncatedLisaCount(); truncated > 0 {
		fmt.Fprintf(b, "**Note:** the permutation test was stopped early for %d observations; their p-values rest on fewer trials than requested\n\n", truncated)
	}

	localI := make([]float64, total)
	for i, l := range result.Lisa {
		localI[i] = l.LocalI
	}
	if total == 0 {
		return nil
	}
	q, err := stats.Quartile(localI)
	if err != nil {
		return fmt.Errorf("report: local I quartiles: %w", err)
	}
	fmt.Fprintf(b, "**Local I quartiles:** Q1 %s, median %s, Q3 %s\n\n", r.f(q.Q1), r.f(q.Q2), r.f(q.Q3))
	return nil
}

func (r *Renderer) writeWeights(b *bytes.Buffer, w spatial.WeightsSummary) {
	b.WriteString("## Spatial Weights\n\n")
	fmt.Fprintf(b, "- **Neighbor definition:** %s\n", describeNeighbors(w.Definition))
	fmt.Fprintf(b, "- **Links:** %d (mean %.2f neighbors per observation)\n", w.Links, w.MeanNeighbors)
	fmt.Fprintf(b, "- **Observations without neighbors:** %d\n", len(w.IsolatedIndices))
	if w.FallbackUsed {
		fmt.Fprintf(b, "- **Note:** Queen contiguity could not be triangulated; %d nearest neighbors were used instead\n", w.Definition.K)
	}
}

func describeNeighbors(p spatial.NeighborParams) string {
	switch p.Definition {
	case spatial.NeighborKNearest:
		return fmt.Sprintf("%s (k = %d)", p.Definition, p.K)
	case spatial.NeighborFixedRadius:
		return fmt.Sprintf("%s (radius = %g)", p.Definition, p.Radius)
	}
	return string(p.Definition)
}

type summary struct {
	mean, median, stdDev, min, max float64
}

// summarize returns the population summary of values
func summarize(values []float64) (summary, error) {
	var s summary
	data := stats.Float64Data(values)
	var err error
	if s.mean, err = data.Mean(); err != nil {
		return s, err
	}
	if s.median, err = data.Median(); err != nil {
		return s, err
	}
	if s.stdDev, err = data.StandardDeviation(); err != nil {
		return s, err
	}
	if s.min, err = data.Min(); err != nil {
		return s, err
	}
	if s.max, err = data.Max(); err != nil {
		return s, err
	}
	return s, nil
}
