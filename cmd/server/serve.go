package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lot-ledger/internal/handler"
	"github.com/lot-ledger/internal/middleware"
	"github.com/lot-ledger/internal/worker"
	"go.uber.org/zap"
)

func runServe(ctx context.Context) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(a.cfg.Server.Mode)
	router := a.newRouter()

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var reprocessor *worker.ReprocessWorker
	if interval := a.cfg.Worker.ReprocessInterval(); interval > 0 {
		reprocessor = worker.NewReprocessWorker(a.trades, a.logger, interval, a.cfg.Worker.BatchSize)
		go reprocessor.Start()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server", zap.String("addr", addr), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")

	if reprocessor != nil {
		reprocessor.Stop()
	}

	// Graceful shutdown with 10 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("Server exited properly")
	return nil
}

func (a *app) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(a.logger))
	router.Use(corsMiddleware())

	handler.RegisterHealth(router, handler.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	}, a.cfg.Database.Driver)

	writeLimit := middleware.RateLimit(a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst)

	v1 := router.Group("/api/v1")
	{
		handler.NewTradeHandler(a.trades).RegisterRoutes(v1, writeLimit)
		handler.NewLedgerHandler(a.positions, a.pnl).RegisterRoutes(v1)
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, "+middleware.RequestIDHeader)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
