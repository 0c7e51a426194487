package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/voxgate/internal/app"
	"github.com/xpanvictor/voxgate/internal/config"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// This is the main entry point for the voice gateway server. It loads
// configuration, wires the application, registers transport routes,
// and serves until an interrupt signal arrives.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := Logger.New(cfg.Debug)
	logger.Info("logger initialized")

	application, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := router.Group("/")
	api.Use(application.Auth.Middleware())
	application.Browser.RegisterRoutes(api)
	application.Media.RegisterRoutes(api)

	logger.Info("application initialized successfully")

	startServer(router, application, logger)
}

func startServer(router *gin.Engine, application *app.App, logger *Logger.Logger) {
	port := 8088
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	addr := ":" + strconv.Itoa(port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.Handler(),
	}

	go func() {
		logger.Infof("server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("server forced to shutdown: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("application shutdown error: %v", err)
	}

	logger.Info("server shutdown complete")
}
