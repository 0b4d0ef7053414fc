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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/bootstrap"
	"github.com/campuspulse/console/internal/config"
	"github.com/campuspulse/console/internal/handlers"
	"github.com/campuspulse/console/internal/services"
)

// The worker follows report creation, runs the periodic sweeps and exposes
// them over HTTP for manual or external triggering.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := cfg.InitLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize runtime", zap.Error(err))
	}
	defer rt.Close(context.Background())

	if err := rt.Engine.Start(ctx); err != nil {
		logger.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	scheduler := services.NewSweepScheduler(logger.Named("scheduler"), cfg.SweepTimeout)
	sweeps := []struct {
		name     string
		schedule string
		run      services.SweepFunc
	}{
		{services.SweepActivation, cfg.ActivationSchedule, rt.Engine.SweepAnnouncementActivation},
		{services.SweepExpiry, cfg.ExpirySchedule, rt.Engine.SweepAnnouncementExpiry},
		{services.SweepPosts, cfg.PostExpirySchedule, rt.Engine.SweepPostExpiry},
	}
	for _, sw := range sweeps {
		if err := scheduler.Add(sw.name, sw.schedule, sw.run); err != nil {
			logger.Fatal("Failed to schedule sweep", zap.String("sweep", sw.name), zap.Error(err))
		}
	}
	scheduler.Start()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", rt.MetricsHandler())
	handlers.SweepRoutes(r, rt.Engine, rt.AdminAuth(cfg, logger.Named("auth")), logger.Named("sweeps"))

	srv := &http.Server{
		Addr:              cfg.WorkerAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SweepTimeout)
		defer cancel()
		scheduler.Stop(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Worker shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("moderation-worker listening", zap.String("address", cfg.WorkerAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Worker failed to start", zap.Error(err))
	}
	logger.Info("moderation-worker stopped")
}
