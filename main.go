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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/KarimAziev/elfai/api"
	"github.com/KarimAziev/elfai/config"
	"github.com/KarimAziev/elfai/document"
	"github.com/KarimAziev/elfai/engine"
	"github.com/KarimAziev/elfai/hub"
	"github.com/KarimAziev/elfai/openai"
	"github.com/KarimAziev/elfai/policy"
	"github.com/KarimAziev/elfai/store"
	"github.com/KarimAziev/elfai/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting elfai daemon...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Provider: %s", cfg.BaseURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize document registry
	docs := document.NewRegistry()

	// Initialize transport
	credential := openai.StaticCredential(cfg.APIKey)
	transport := openai.NewStreamOpener(cfg.BaseURL, credential, cfg.HTTPTimeout)

	// One-shot provider calls go through the concrete client; in mock mode
	// those routes report the provider as unavailable.
	var client *openai.Client
	if c, ok := transport.(*openai.Client); ok {
		client = c
	}

	// Initialize policy engine
	policyContent := policy.DefaultPolicy
	if cfg.PolicyPath != "" {
		data, err := os.ReadFile(cfg.PolicyPath)
		if err != nil {
			log.Fatalf("Failed to read policy file: %v", err)
		}
		policyContent = string(data)
	}
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize streaming engine
	eng := engine.New(db, docs, transport, cfg)

	// Initialize hub for WebSocket connections
	h := hub.NewHub()
	go h.Run()

	// Initialize handlers
	wsServer := ws.NewServer(cfg, h, eng, docs, policyEngine)
	handler := api.NewHandler(db, eng, docs, client, policyEngine, h, cfg)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	handler.RegisterRoutes(e)
	e.GET("/ws", wsServer.HandleWebSocket)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("elfai daemon started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down daemon...")

	// Roll back any half-applied responses before the documents go away
	if n := eng.AbortAll(); n > 0 {
		log.Printf("Aborted %d live stream(s)", n)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Daemon stopped")
}
