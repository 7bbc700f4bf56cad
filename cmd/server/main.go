// Package main is the entry point for the PDF Desk API server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/config"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/handlers"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/middleware"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/router"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/docai"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/payment"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/phonepe"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/printing"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/render"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/storage"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/webhook"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/worker"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("🚀 PDF Desk API %s starting...", Version)

	// Step 1: Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	log.Printf("📋 Config loaded: port=%s, workers=%d, gin_mode=%s, render_scale=%.2f",
		cfg.Port, cfg.WorkerCount, cfg.GinMode, cfg.RenderScale)

	os.Setenv("GIN_MODE", cfg.GinMode)

	// Step 2: Connect to Database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("✅ Database connected")

	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	// Step 3: Create Services
	webhookService := webhook.New(db)
	log.Println("✅ Webhook notification service initialized")

	gateway := phonepe.Shared(phonepe.Config{
		MerchantID: cfg.PhonePe.MerchantID,
		SaltKey:    cfg.PhonePe.SaltKey,
		SaltIndex:  cfg.PhonePe.SaltIndex,
		BaseURL:    cfg.PhonePe.BaseURL,
	})
	if cfg.PhonePe.SaltKey == "" {
		log.Println("⚠️  PHONEPE_SALT_KEY not set: payments cannot be created or verified")
	} else {
		log.Printf("✅ PhonePe gateway configured (merchant %s)", gateway.MerchantID())
	}
	payments := payment.New(db, gateway, webhookService, cfg.PublicBaseURL)

	ai := docai.New(cfg.OpenRouterAPIKey, cfg.OpenRouterModel)
	if cfg.OpenRouterAPIKey == "" {
		log.Println("⚠️  Document AI disabled (set OPENROUTER_API_KEY to enable)")
	}

	var objectStore *storage.S3
	if cfg.S3.Enabled() {
		objectStore, err = storage.NewS3(cfg.S3)
		if err != nil {
			log.Fatalf("❌ Failed to configure object storage: %v", err)
		}
		log.Printf("✅ Object storage configured (bucket %s)", cfg.S3.Bucket)
	} else {
		log.Println("⚠️  Object storage not configured: print uploads disabled (set S3_BUCKET)")
	}

	// Step 4: Create and Start Worker Pool
	wp := worker.NewPool(cfg.WorkerCount, cfg.JobQueueSize, db, ai, webhookService)
	wp.Start()

	// Step 5: Setup HTTP Router
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerHour)
	h := &handlers.Handler{
		DB:         db,
		Worker:     wp,
		Rasterizer: render.New(cfg.RenderScale, cfg.RenderMaxPixels),
		Payments:   payments,
		Storage:    objectStore,
		Pricing: printing.Pricing{
			PerPage:        cfg.PrintPricePerPage,
			ColorSurcharge: cfg.PrintColorSurcharge,
		},
		JWTSecret:   cfg.JWTSecret,
		FrontendURL: cfg.FrontendURL,
	}
	r := router.Setup(h, limiter, cfg.AllowedOrigins)

	// Step 6: Start the HTTP Server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://localhost:%s", cfg.Port)
		log.Printf("📖 Health check: http://localhost:%s/api/v1/health", cfg.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	// Step 7: Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("🛑 Received signal %v, shutting down gracefully...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// No new jobs can arrive once the server is down.
	wp.Stop()
	limiter.Stop()

	webhookService.Shutdown()
	log.Println("⏳ Webhook deliveries finished")

	log.Println("👋 Server stopped. Goodbye!")
}
