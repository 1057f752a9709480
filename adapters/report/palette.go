package report

import (
	"image/color"

	"spatialstat/domain/spatial"
)

// patternStyle is how a LISA label is drawn and described
type patternStyle struct {
	hex         string
	rgba        color.RGBA
	description string
}

var patternStyles = map[spatial.Pattern]patternStyle{
	spatial.PatternHighHigh:       {"#FF0000", color.RGBA{R: 255, A: 255}, "Hotspots: high values surrounded by high values"},
	spatial.PatternLowLow:         {"#0000FF", color.RGBA{B: 255, A: 255}, "Coldspots: low values surrounded by low values"},
	spatial.PatternHighLow:        {"#FFA500", color.RGBA{R: 255, G: 165, A: 255}, "High outliers: high values in low-value areas"},
	spatial.PatternLowHigh:        {"#800080", color.RGBA{R: 128, B: 128, A: 255}, "Low outliers: low values in high-value areas"},
	spatial.PatternNotSignificant: {"#C8C8C8", color.RGBA{R: 200, G: 200, B: 200, A: 255}, "No significant local pattern"},
}

// PatternHex returns the map color of p as #RRGGBB
func PatternHex(p spatial.Pattern) string {
	return style(p).hex
}

// PatternColor returns the map color of p
func PatternColor(p spatial.Pattern) color.RGBA {
	return style(p).rgba
}

// PatternDescription explains p in one sentence
func PatternDescription(p spatial.Pattern) string {
	return style(p).description
}

func style(p spatial.Pattern) patternStyle {
	if s, ok := patternStyles[p]; ok {
		return s
	}
	return patternStyles[spatial.PatternNotSignificant]
}
