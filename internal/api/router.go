package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"spatialstat/internal"
)

// NewRouter builds the gin engine serving h
func NewRouter(h *AnalysisHandler, logger *internal.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	h.RegisterRoutes(router)
	return router
}

// requestLogger logs one line per request at debug level
func requestLogger(logger *internal.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	logger = logger.With("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
