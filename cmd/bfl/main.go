package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/tayteboss/bfl/internal/catalog"
	"github.com/tayteboss/bfl/internal/commerce"
	"github.com/tayteboss/bfl/internal/handlers"
	"github.com/tayteboss/bfl/internal/platform/config"
	"github.com/tayteboss/bfl/internal/platform/events"
	"github.com/tayteboss/bfl/internal/platform/metrics"
	"github.com/tayteboss/bfl/internal/platform/observability"
	"github.com/tayteboss/bfl/internal/platform/secrets"
	"github.com/tayteboss/bfl/internal/platform/sessions"
	"github.com/tayteboss/bfl/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("bfl")
	ctx = observability.WithLogger(ctx, logger)

	resolver, err := secrets.NewResolver(ctx,
		secrets.WithProject(strings.TrimSpace(os.Getenv("BFL_SECRETS_PROJECT_ID"))),
		secrets.WithLogger(logger.Named("secrets")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	cat, err := loadCatalog(cfg.Catalog)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}
	if err := cat.ApplyOverrides(catalog.Overrides{
		PriceCeiling: cfg.Pricing.Ceiling,
		ReturnShipping: catalog.ReturnShipping{
			VariantID:    cfg.ReturnShipping.VariantID,
			TriggerKey:   catalog.CanonicalKey(cfg.ReturnShipping.TriggerGroup),
			TriggerValue: cfg.ReturnShipping.TriggerValue,
			PropertyName: cfg.ReturnShipping.PropertyName,
		},
	}); err != nil {
		logger.Fatal("failed to apply catalog overrides", zap.Error(err))
	}
	catalogLogger := logger.Named("catalog")
	for _, diag := range cat.Diagnostics {
		catalogLogger.Warn("rule ignored", zap.String("diagnostic", diag.Error()))
	}
	catalogLogger.Info("catalog loaded",
		zap.Int("services", len(cat.Services)),
		zap.Int("pools", len(cat.Pools)),
		zap.Int("diagnostics", len(cat.Diagnostics)),
	)

	registry := metrics.New()
	bus := events.NewBus()
	defer bus.Close()

	commerceClient, err := commerce.NewClient(commerce.Options{
		BaseURL:     cfg.Commerce.BaseURL,
		AccessToken: cfg.Commerce.AccessToken,
		Timeout:     cfg.Commerce.Timeout,
	})
	if err != nil {
		logger.Fatal("failed to initialise commerce client", zap.Error(err))
	}
	poolSource, err := commerce.NewPoolSource(commerceClient, cfg.Commerce.RefreshConcurrency)
	if err != nil {
		logger.Fatal("failed to initialise pool source", zap.Error(err))
	}

	variantResolver, err := services.NewVariantResolver(services.VariantResolverDeps{
		Pools:       cat.Pools,
		Source:      poolSource,
		HardCeiling: cat.PriceCeiling,
		Metrics:     registry,
		Logger:      observability.EventLogger(logger.Named("resolver"), "variant resolver"),
	})
	if err != nil {
		logger.Fatal("failed to initialise variant resolver", zap.Error(err))
	}

	submitter, err := services.NewSubmitter(services.SubmitterDeps{
		Catalog:     cat,
		Resolver:    variantResolver,
		Cart:        commerceClient,
		Events:      bus,
		Sections:    cfg.Commerce.Sections,
		SectionsURL: cfg.Commerce.SectionsURL,
		Metrics:     registry,
		Logger:      observability.EventLogger(logger.Named("submit"), "cart submission"),
	})
	if err != nil {
		logger.Fatal("failed to initialise submitter", zap.Error(err))
	}

	var guard *services.ReturnShippingGuard
	if cfg.Features.EnableCartGuard && cat.ReturnShipping.VariantID > 0 {
		guard, err = services.NewReturnShippingGuard(services.ReturnShippingGuardDeps{
			Cart:         commerceClient,
			VariantID:    cat.ReturnShipping.VariantID,
			PropertyName: cat.ReturnShipping.PropertyName,
			Events:       bus,
			Metrics:      registry,
			Logger:       observability.EventLogger(logger.Named("cart_guard"), "cart guard"),
		})
		if err != nil {
			logger.Fatal("failed to initialise return shipping guard", zap.Error(err))
		}
		unsubscribe := bus.SubscribeCartUpdated(guard.HandleCartUpdated)
		defer unsubscribe()
	} else {
		logger.Info("return shipping guard disabled")
	}

	if projectID := strings.TrimSpace(cfg.Events.ProjectID); projectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(cfg.Events.Topic)
		defer topic.Stop()
		forwarder, err := events.NewPubSubForwarder(topic, observability.EventLogger(logger.Named("events"), "cart event forward"))
		if err != nil {
			logger.Fatal("failed to initialise event forwarder", zap.Error(err))
		}
		detach := forwarder.Attach(bus)
		defer detach()
		logger.Info("forwarding cart events", zap.String("project", projectID), zap.String("topic", cfg.Events.Topic))
	}

	formStore := sessions.NewStore[*services.Form](cfg.Sessions.TTL)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	if cfg.Sessions.SweepInterval > 0 {
		ticker := time.NewTicker(cfg.Sessions.SweepInterval)
		sweepWG.Add(1)
		go func() {
			defer sweepWG.Done()
			defer ticker.Stop()
			sweepLogger := logger.Named("sessions")
			for {
				select {
				case <-ticker.C:
					runCtx, cancel := context.WithTimeout(sweepCtx, time.Minute)
					removed, err := formStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Sessions.SweepBatchSize)
					cancel()
					if err != nil {
						sweepLogger.Error("session sweep error", zap.Error(err))
						continue
					}
					registry.SetActiveForms(formStore.Len())
					if removed > 0 {
						sweepLogger.Info("session sweep removed forms", zap.Int("count", removed))
					}
				case <-sweepCtx.Done():
					return
				}
			}
		}()
	}

	formHandlers, err := handlers.NewFormHandlers(handlers.FormHandlerDeps{
		Catalog:     cat,
		Store:       formStore,
		Submitter:   submitter,
		Logger:      observability.EventLogger(logger.Named("forms"), "order form"),
		ActiveForms: registry.SetActiveForms,
	})
	if err != nil {
		logger.Fatal("failed to initialise form handlers", zap.Error(err))
	}

	var reconciler handlers.CartReconciler
	if guard != nil {
		reconciler = guard
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:   strings.TrimSpace(os.Getenv("BFL_VERSION")),
			CommitSHA: strings.TrimSpace(os.Getenv("BFL_COMMIT_SHA")),
			StartedAt: startedAt,
		}),
		handlers.WithReadinessCheck("catalog", func(context.Context) error {
			if len(cat.Services) == 0 {
				return errors.New("catalog has no services")
			}
			return nil
		}),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Events.ProjectID),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithMetricsHandler(registry.Handler()),
		handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(cat, catalog.NewDescriptionRenderer()).Routes()),
		handlers.WithFormRoutes(formHandlers.Routes()),
		handlers.WithCartRoutes(handlers.NewCartHandlers(reconciler).Routes()),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting bfl server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	bus.Wait()
	logger.Info("server stopped")
}

func loadCatalog(cfg config.CatalogConfig) (*catalog.Catalog, error) {
	if path := strings.TrimSpace(cfg.MarkupPath); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open catalog markup: %w", err)
		}
		defer f.Close()
		return catalog.ImportMarkup(f)
	}
	return catalog.LoadFile(cfg.Path)
}
