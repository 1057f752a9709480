package ports

import (
	"context"

	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
)

// ResultStore keeps completed analyses for later retrieval
type ResultStore interface {
	Save(ctx context.Context, result *spatial.AnalysisResult) error
	Get(ctx context.Context, id core.AnalysisID) (*spatial.AnalysisResult, error)
	List(ctx context.Context, limit int) ([]*spatial.AnalysisResult, error)
}
