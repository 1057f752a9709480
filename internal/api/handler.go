package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"spatialstat/adapters/plot"
	"spatialstat/adapters/report"
	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/internal"
	"spatialstat/internal/errors"
	"spatialstat/ports"
)

const defaultListLimit = 20

// defaultJobCapacity bounds how many failed asynchronous runs are remembered
const defaultJobCapacity = 256

// Runner executes one analysis under a caller chosen ID
type Runner interface {
	RunWithID(ctx context.Context, id core.AnalysisID, set spatial.ObservationSet, req spatial.AnalysisRequest, sink ports.ProgressSink) (*spatial.AnalysisResult, error)
}

// job tracks an asynchronous analysis until its result is stored
type job struct {
	running bool
	err     error
}

// AnalysisHandler serves the analysis HTTP API
type AnalysisHandler struct {
	runner   Runner
	store    ports.ResultStore
	hub      *SSEHub
	renderer *report.Renderer
	defaults Defaults
	logger   *internal.Logger

	// baseCtx outlives individual requests so async runs survive the 202
	baseCtx     context.Context
	jobsMu      sync.RWMutex
	jobs        map[core.AnalysisID]*job
	failed      []core.AnalysisID
	jobCapacity int
	wg          sync.WaitGroup
}

// HandlerOption configures an AnalysisHandler
type HandlerOption func(*AnalysisHandler)

// WithJobCapacity keeps at most n failed asynchronous runs, dropping the
// oldest first; 0 keeps all of them
func WithJobCapacity(n int) HandlerOption {
	return func(h *AnalysisHandler) { h.jobCapacity = n }
}

// NewAnalysisHandler creates the handler. ctx bounds asynchronous runs.
func NewAnalysisHandler(
	ctx context.Context,
	runner Runner,
	store ports.ResultStore,
	hub *SSEHub,
	defaults Defaults,
	logger *internal.Logger,
	opts ...HandlerOption,
) *AnalysisHandler {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	h := &AnalysisHandler{
		runner:      runner,
		store:       store,
		hub:         hub,
		renderer:    report.NewRenderer(4),
		defaults:    defaults,
		logger:      logger.With("api"),
		baseCtx:     ctx,
		jobs:        make(map[core.AnalysisID]*job),
		jobCapacity: defaultJobCapacity,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the API on router
func (h *AnalysisHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1/analyses")
	v1.POST("", h.Create)
	v1.GET("", h.List)
	v1.GET("/:id", h.Get)
	v1.GET("/:id/report", h.Report)
	v1.GET("/:id/scatter.png", h.Scatter)
	v1.GET("/:id/events", h.Events)
}

// Wait blocks until every asynchronous run has finished
func (h *AnalysisHandler) Wait() {
	h.wg.Wait()
}

// Health reports liveness
func (h *AnalysisHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Create runs an analysis. With ?async=true it returns 202 at once and the
// progress is streamed on the events endpoint.
func (h *AnalysisHandler) Create(c *gin.Context) {
	var body CreateAnalysisRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, errors.InvalidInput(err.Error()))
		return
	}
	set, req, err := body.toDomain(h.defaults)
	if err != nil {
		h.respondError(c, err)
		return
	}

	id := core.NewAnalysisID()
	sink := NewSSEProgressSink(h.hub, id)

	if c.Query("async") != "true" {
		result, err := h.runner.RunWithID(c.Request.Context(), id, set, req, sink)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if err := h.store.Save(c.Request.Context(), result); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
		return
	}

	h.jobsMu.Lock()
	h.jobs[id] = &job{running: true}
	h.jobsMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runAsync(id, set, req, sink)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": "running",
		"events": "/api/v1/analyses/" + id.String() + "/events",
	})
}

func (h *AnalysisHandler) runAsync(id core.AnalysisID, set spatial.ObservationSet, req spatial.AnalysisRequest, sink *SSEProgressSink) {
	result, err := h.runner.RunWithID(h.baseCtx, id, set, req, sink)
	if err == nil {
		err = h.store.Save(h.baseCtx, result)
	}

	h.jobsMu.Lock()
	defer h.jobsMu.Unlock()
	if err != nil {
		h.logger.Warn("analysis %s failed: %v", id, err)
		h.jobs[id] = &job{err: err}
		h.failed = append(h.failed, id)
		for h.jobCapacity > 0 && len(h.failed) > h.jobCapacity {
			delete(h.jobs, h.failed[0])
			h.failed = h.failed[1:]
		}
		sink.Fail(err)
		return
	}
	delete(h.jobs, id)
}

// List returns summaries of stored analyses, newest first
func (h *AnalysisHandler) List(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(c, errors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}

	results, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	summaries := make([]AnalysisSummary, len(results))
	for i, r := range results {
		summaries[i] = summarizeResult(r)
	}
	c.JSON(http.StatusOK, gin.H{"analyses": summaries, "count": len(summaries)})
}

// Get returns one analysis, 202 while it is still running
func (h *AnalysisHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	if j := h.job(id); j != nil {
		if j.running {
			c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "running"})
			return
		}
		h.respondError(c, j.err)
		return
	}
	result, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Report renders the analysis as HTML, or markdown with ?format=md
func (h *AnalysisHandler) Report(c *gin.Context) {
	result, ok := h.lookup(c)
	if !ok {
		return
	}
	if c.Query("format") == "md" {
		md, err := h.renderer.Markdown(result)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", md)
		return
	}
	page, err := h.renderer.HTML(result)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// Scatter renders the Moran scatterplot as PNG
func (h *AnalysisHandler) Scatter(c *gin.Context) {
	result, ok := h.lookup(c)
	if !ok {
		return
	}
	if len(result.Lisa) == 0 {
		h.respondError(c, errors.InvalidInput("the scatterplot needs local results"))
		return
	}
	var buf bytes.Buffer
	if err := plot.WritePNG(&buf, result, plot.DefaultSize); err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// Events streams progress of a running analysis. A finished analysis gets
// its final event immediately.
func (h *AnalysisHandler) Events(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	if j := h.job(id); j != nil {
		if j.running {
			// the run may have published its last event before it is stored
			if final, ok := h.hub.Final(id); ok {
				h.writeFinal(c, final)
				return
			}
			h.hub.Stream(c, id)
			return
		}
		h.writeFinal(c, AnalysisEvent{
			AnalysisID: id.String(),
			Stage:      spatial.StageDone,
			Percent:    100,
			Message:    "analysis failed",
			Error:      j.err.Error(),
		})
		return
	}
	result, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.writeFinal(c, AnalysisEvent{
		AnalysisID: id.String(),
		Stage:      spatial.StageDone,
		Percent:    100,
		Message:    "analysis complete",
		Timestamp:  result.CreatedAt.Time(),
	})
}

func (h *AnalysisHandler) writeFinal(c *gin.Context, event AnalysisEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.SSEvent("progress", string(payload))
	c.Writer.Flush()
}

func (h *AnalysisHandler) job(id core.AnalysisID) *job {
	h.jobsMu.RLock()
	defer h.jobsMu.RUnlock()
	return h.jobs[id]
}

func (h *AnalysisHandler) parseID(c *gin.Context) (core.AnalysisID, bool) {
	id, err := core.ParseAnalysisID(c.Param("id"))
	if err != nil {
		h.respondError(c, errors.InvalidInput(err.Error()))
		return "", false
	}
	return id, true
}

// lookup resolves the :id parameter to a finished result
func (h *AnalysisHandler) lookup(c *gin.Context) (*spatial.AnalysisResult, bool) {
	id, ok := h.parseID(c)
	if !ok {
		return nil, false
	}
	if j := h.job(id); j != nil && j.running {
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "running"})
		return nil, false
	}
	result, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return result, true
}

func (h *AnalysisHandler) respondError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: errors.GetCode(err)})
}
