package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/receipt-analyzer/api/handlers"
	"github.com/feichai0017/receipt-analyzer/api/routes"
	"github.com/feichai0017/receipt-analyzer/config"
	"github.com/feichai0017/receipt-analyzer/internal/service/receipt"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
		logger.WithInitialFields(map[string]interface{}{"service": "receipt-server"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// init receipt service
	svc, closeService, err := receipt.GetService(cfg, log)
	if err != nil {
		log.Fatal("Failed to get receipt service", logger.Error(err))
	}
	defer func() {
		if err := closeService(); err != nil {
			log.Error("Failed to release service resources", logger.Error(err))
		}
	}()

	// init handlers
	h := handlers.NewHandlers(svc, cfg.Upload.MaxFileSize, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, cfg.Server.AllowOrigins)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// start server
	g.Go(func() error {
		log.Info("Server starting",
			logger.String("addr", cfg.Server.Addr),
			logger.Bool("async", svc.AsyncEnabled()),
			logger.String("provider", cfg.LLM.Provider),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 定期清理过期记录
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Store.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := svc.CleanupRecords(gctx); err != nil {
					log.Warn("Records cleanup failed", logger.Error(err))
				}
			}
		}
	})

	// wait for interrupt signal to gracefully shut down the server
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", logger.Error(err))
		return
	}
	log.Info("Server stopped")
}
