// Package bootstrap builds the runtime shared by the admin API server and
// the moderation worker.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/config"
	"github.com/campuspulse/console/internal/middleware"
	"github.com/campuspulse/console/internal/services"
	"github.com/campuspulse/console/internal/storage"
)

// Runtime holds the wired engine and the clients it was built from.
type Runtime struct {
	Store    storage.Store
	Engine   *services.Orchestrator
	Auth     *auth.Client
	Registry *prometheus.Registry

	closers []func(context.Context) error
}

// New opens the configured store and wires the orchestrator on top of it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{Registry: prometheus.NewRegistry()}
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var app *firebase.App
	if cfg.NeedsFirebase() {
		var err error
		app, err = services.NewFirebaseApp(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsJSON, cfg.FirebaseCredentialsFile)
		if err != nil {
			return nil, err
		}
	}

	store, err := rt.openStore(ctx, cfg, app, logger)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.Store = store

	var push services.PushSender
	if app != nil {
		msg, err := app.Messaging(ctx)
		if err != nil {
			logger.Warn("push delivery disabled", zap.Error(err))
		} else {
			push = services.NewFCMSender(msg)
		}
		if cfg.AuthMode == config.AuthFirebase {
			rt.Auth, err = app.Auth(ctx)
			if err != nil {
				rt.Close(ctx)
				return nil, fmt.Errorf("firebase auth client: %w", err)
			}
		}
	}

	var mailer services.AlertMailer
	if sg := services.NewSendGridMailer(cfg.SendGridAPIKey, cfg.AlertFromEmail, cfg.AlertRecipients()); sg.Configured() {
		mailer = sg
	} else {
		logger.Info("urgent alert e-mail disabled")
	}

	rt.Engine = services.NewOrchestrator(store, push, mailer, services.NewMetrics(rt.Registry), logger, services.Options{
		ResolveChunkSize: cfg.ResolveChunkSize,
		DeliveryTimeout:  cfg.PushTimeout,
	})
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg *config.Config, app *firebase.App, logger *zap.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendFirestore:
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		fs := storage.NewFirestoreStore(client)
		rt.closers = append(rt.closers, func(context.Context) error { return fs.Close() })
		logger.Info("using firestore store", zap.String("project_id", cfg.FirebaseProjectID))
		return fs, nil
	case config.BackendMongo:
		ms, err := storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, ms.Close)
		logger.Info("mongo connected", zap.String("db", cfg.MongoDBName))
		return ms, nil
	case config.BackendFile:
		fs, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		logger.Info("using file store", zap.String("data_dir", cfg.DataDir))
		return fs, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// AdminAuth returns the middleware that admits admins only, per the
// configured auth mode.
func (rt *Runtime) AdminAuth(cfg *config.Config, logger *zap.Logger) func(http.Handler) http.Handler {
	if cfg.AuthMode == config.AuthJWT {
		return middleware.JWTAuth(cfg.JWTSecret)
	}
	return middleware.FirebaseAuth(rt.Auth, logger)
}

// MetricsHandler serves the runtime's registry.
func (rt *Runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{})
}

// Close stops the engine and releases the store.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.Engine != nil {
		rt.Engine.Stop()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
