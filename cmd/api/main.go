package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopreel/shopreel/internal/api"
	"github.com/shopreel/shopreel/internal/config"
	"github.com/shopreel/shopreel/internal/db"
	"github.com/shopreel/shopreel/internal/queue"
	"github.com/shopreel/shopreel/internal/services"
	"github.com/shopreel/shopreel/internal/storage"
	"github.com/shopreel/shopreel/internal/worker"
)

func main() {
	log.Println("Starting Shopreel API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize storage
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	log.Println("Initialized Supabase storage")

	// Initialize services
	openaiSvc := services.NewOpenAIService(cfg.OpenAIKey)
	geminiSvc := services.NewGeminiService(cfg.GeminiKey)
	veoSvc := services.NewVeoService(cfg.GeminiKey, cfg.VeoModel)
	ffmpegSvc := services.NewFFmpegService(cfg.TempDir)
	log.Printf("Veo video synthesis enabled (model: %s)", cfg.VeoModel)

	// The orchestrator serves both the worker loop and the synchronous
	// API operations (progress, single-asset regenerate/delete).
	orch := worker.NewOrchestrator(
		database, openaiSvc, geminiSvc, veoSvc, stor, ffmpegSvc,
		cfg.VeoDispatchSpacing, cfg.CompositeWaitTimeout,
	)

	// Create API handler
	handler := api.NewHandler(database, q, orch)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		w := worker.New(q, orch)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
