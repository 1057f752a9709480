// Package plot draws the Moran scatterplot of an analysis: each observation's
// standardized value against its standardized spatial lag, colored by its
// LISA pattern.
package plot

import (
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/stat"
	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"spatialstat/adapters/report"
	"spatialstat/domain/spatial"
)

// DefaultSize is the edge length of saved plots
const DefaultSize = 6 * vg.Inch

// Point is one observation on the scatterplot
type Point struct {
	ID      string
	Value   float64 // standardized raw value
	Lag     float64 // standardized spatial lag
	Pattern spatial.Pattern
}

// Points places every observation relative to the mean of the raw values, so
// the quadrant of a point matches its LISA label.
func Points(result *spatial.AnalysisResult) ([]Point, error) {
	if result == nil || result.Lisa == nil {
		return nil, fmt.Errorf("scatterplot: the analysis has no local results")
	}
	if len(result.Lisa) != len(result.OriginalValues) {
		return nil, fmt.Errorf("scatterplot: %d local results for %d values", len(result.Lisa), len(result.OriginalValues))
	}

	mean, sd := stat.MeanStdDev(result.OriginalValues, nil)
	if !(sd > 0) {
		sd = 1
	}
	pts := make([]Point, len(result.Lisa))
	for i, l := range result.Lisa {
		pts[i] = Point{
			Value:   (result.OriginalValues[i] - mean) / sd,
			Lag:     (l.SpatialLag - mean) / sd,
			Pattern: l.Pattern,
		}
		if i < len(result.Observations) {
			pts[i].ID = result.Observations[i].ID
		}
	}
	return pts, nil
}

// Slope is the least-squares slope through the origin of lag on value
func Slope(pts []Point) float64 {
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i] = p.Value, p.Lag
	}
	_, beta := stat.LinearRegression(xs, ys, nil, true)
	return beta
}

// MoranScatter builds the scatterplot for result
func MoranScatter(result *spatial.AnalysisResult) (*gplot.Plot, error) {
	pts, err := Points(result)
	if err != nil {
		return nil, err
	}

	p := gplot.New()
	p.Title.Text = "Moran scatterplot"
	p.X.Label.Text = "Standardized value"
	p.Y.Label.Text = "Spatial lag"
	p.Add(plotter.NewGrid())

	for _, pattern := range spatial.Patterns {
		var xys plotter.XYs
		for _, pt := range pts {
			if pt.Pattern == pattern {
				xys = append(xys, plotter.XY{X: pt.Value, Y: pt.Lag})
			}
		}
		if len(xys) == 0 {
			continue
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("scatterplot: %s points: %w", pattern, err)
		}
		s.GlyphStyle.Color = report.PatternColor(pattern)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("%s (%d)", pattern, len(xys)), s)
	}

	slope := Slope(pts)
	fit := plotter.NewFunction(func(x float64) float64 { return slope * x })
	fit.Width = vg.Points(1)
	fit.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(fit)
	p.Legend.Add(fmt.Sprintf("slope %.3f", slope), fit)
	p.Legend.Top = true

	return p, nil
}

// WritePNG renders the scatterplot of result as a size×size PNG
func WritePNG(w io.Writer, result *spatial.AnalysisResult, size vg.Length) error {
	p, err := MoranScatter(result)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return fmt.Errorf("scatterplot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("scatterplot: writing png: %w", err)
	}
	return nil
}

// SavePNG writes the scatterplot of result to path
func SavePNG(path string, result *spatial.AnalysisResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("scatterplot: %w", err)
	}
	if err := WritePNG(f, result, DefaultSize); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
