package api

import (
	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/ports"
)

// SSEProgressSink adapts the SSEHub to ports.ProgressSink for one analysis
type SSEProgressSink struct {
	hub *SSEHub
	id  core.AnalysisID
}

// NewSSEProgressSink creates a sink publishing the progress of analysis id
func NewSSEProgressSink(hub *SSEHub, id core.AnalysisID) *SSEProgressSink {
	return &SSEProgressSink{hub: hub, id: id}
}

var _ ports.ProgressSink = (*SSEProgressSink)(nil)

// Publish forwards a service progress event to the analysis' SSE clients
func (s *SSEProgressSink) Publish(event spatial.ProgressEvent) {
	s.hub.Broadcast(AnalysisEvent{
		AnalysisID: s.id.String(),
		Stage:      event.Stage,
		Percent:    event.Percent,
		Message:    event.Message,
	})
}

// Fail tells clients the analysis ended with err
func (s *SSEProgressSink) Fail(err error) {
	s.hub.Broadcast(AnalysisEvent{
		AnalysisID: s.id.String(),
		Stage:      spatial.StageDone,
		Percent:    100,
		Message:    "analysis failed",
		Error:      err.Error(),
	})
}
