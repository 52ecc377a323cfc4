package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/presence-relay/backend/api/handlers"
	"github.com/presence-relay/backend/internal/config"
	"github.com/presence-relay/backend/internal/presence"
	"github.com/presence-relay/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Build the presence stack.
	wsService := ws.NewService(presence.Options{
		DefaultSession:      cfg.DefaultSession,
		TypingTimeout:       cfg.TypingTimeout,
		MessageMinInterval:  cfg.MessageMinInterval,
		LocationMinInterval: cfg.LocationMinInterval,
		GracePeriod:         cfg.GracePeriod,
		PongTimeout:         cfg.PongTimeout,
		PingIntervalInitial: cfg.PingIntervalInitial,
		PingIntervalMin:     cfg.PingIntervalMin,
		PingIntervalMax:     cfg.PingIntervalMax,
		StaleThreshold:      cfg.StaleThreshold,
		ForceCloseAfter:     cfg.ForceCloseAfter,
		WatchdogAfter:       cfg.WatchdogAfter,
		ExpectedDowntime:    cfg.ExpectedDowntime,
	})
	wsService.StartSweeper(cfg.SweepInterval)

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(wsService.Handler())
	sessionHandler := handlers.NewSessionHandler(wsService.Registry(), wsService.Hub(), wsService.Health())

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		wsHandler.RegisterRoutes(api)
		sessionHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// The coordinator owns process exit; it closes connections, then the
	// listener, then exits.
	coordinator := wsService.Coordinator()
	coordinator.SetCloseListener(func() {
		wsService.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		coordinator.Shutdown("signal: " + sig.String())
	}()

	log.Printf("Starting server on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}

	// The listener closed because a shutdown is in progress; wait for the
	// coordinator (or its watchdog) to exit the process.
	select {}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
