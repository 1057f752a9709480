package ports

import (
	"spatialstat/domain/spatial"
)

// ProgressSink receives progress events from a running analysis.
// Implementations must not block for long; the analysis waits on each call.
type ProgressSink interface {
	Publish(event spatial.ProgressEvent)
}

// ProgressFunc adapts a plain function to ProgressSink
type ProgressFunc func(event spatial.ProgressEvent)

// Publish calls f(event)
func (f ProgressFunc) Publish(event spatial.ProgressEvent) { f(event) }
