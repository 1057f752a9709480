package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"spatialstat/adapters/rng"
	"spatialstat/adapters/stats/autocorr"
	"spatialstat/adapters/stats/transform"
	"spatialstat/adapters/weights"
	"spatialstat/app"
	"spatialstat/internal/api"
	"spatialstat/internal/config"
)

// resultCapacity bounds how many finished analyses the server keeps
const resultCapacity = 256

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := appConfig.NewLogger()
	gin.SetMode(appConfig.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rngPort := rng.NewAdapter()
	builder := weights.NewBuilder(weights.WithFallbackListener(func(reason error, k int) {
		logger.Debug("queen fallback to k=%d: %v", k, reason)
	}))
	service := app.NewAnalysisService(
		transform.Transformer{},
		builder,
		autocorr.NewGlobalEstimator(rngPort),
		autocorr.NewLocalEstimator(rngPort),
		app.WithLogger(logger),
		app.WithMaxObservations(appConfig.Analysis.MaxObservations),
	)

	hub := api.NewSSEHub(logger)
	defer hub.Close()

	handler := api.NewAnalysisHandler(ctx, service, api.NewMemoryStore(resultCapacity), hub, api.Defaults{
		Permutations:      appConfig.Analysis.DefaultPermutations,
		SignificanceLevel: appConfig.Analysis.DefaultSignificance,
		Seed:              appConfig.Analysis.Seed,
		Timeout:           appConfig.Analysis.Timeout,
	}, logger, api.WithJobCapacity(resultCapacity))

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           api.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("spatial analysis API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed: %v", err)
	}
	handler.Wait()
}
