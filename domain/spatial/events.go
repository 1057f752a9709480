package spatial

// Stage names one phase of an analysis run
type Stage string

const (
	StageValidate  Stage = "validate"
	StageWeights   Stage = "weights"
	StageTransform Stage = "transform"
	StageGlobal    Stage = "global"
	StageLocal     Stage = "local"
	StageFallback  Stage = "fallback"
	StageDone      Stage = "done"
)

// ProgressEvent is streamed to the caller while an analysis runs
type ProgressEvent struct {
	Stage   Stage   `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}
