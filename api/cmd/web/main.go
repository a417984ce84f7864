package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/config"
	"homework-grader/api/internal/controller"
	"homework-grader/api/internal/grading"
	"homework-grader/api/internal/handle"
	"homework-grader/api/internal/logger"
	"homework-grader/api/internal/session"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	engs, def, err := grading.FromConfig(cfg)
	if err != nil {
		logger.Fatalf("engines: %v", err)
	}
	manager := grading.NewManager(def)

	// grading calls outlive the request that started them
	gradeCtx, stopGrading := context.WithCancel(context.Background())
	defer stopGrading()

	sessions := session.NewStore(func(key string) *controller.Controller {
		return controller.New(manager.For(key),
			controller.WithContext(gradeCtx),
			controller.WithName(key),
		)
	}, cfg.SessionTTL)
	if err := sessions.StartReaper(cfg.SweepSchedule()); err != nil {
		logger.Fatalf("session reaper: %v", err)
	}

	h := handle.New(engs, def, sessions, cfg.MaxUploadBytes)
	server := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      4 * time.Minute,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"address": cfg.ServerAddress(),
			"engine":  def.Name(),
			"model":   def.GetModel(),
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	sessions.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	stopGrading()

	logger.Info("Server exited")
}
