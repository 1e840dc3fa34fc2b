package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/handler"
	"github.com/noah-isme/tm-inbox-console/internal/middleware"
	"github.com/noah-isme/tm-inbox-console/internal/repository"
	"github.com/noah-isme/tm-inbox-console/internal/service"
	"github.com/noah-isme/tm-inbox-console/pkg/cache"
	"github.com/noah-isme/tm-inbox-console/pkg/config"
	"github.com/noah-isme/tm-inbox-console/pkg/logger"
	reqidmiddleware "github.com/noah-isme/tm-inbox-console/pkg/middleware/requestid"
)

// app holds the wired services shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	out      io.Writer
	metrics  *service.MetricsService
	tokens   *service.TokenService
	repo     *repository.InboxRepository
	cache    *service.CacheService
	redis    *redis.Client
	views    *repository.ViewRepository
	notifier service.Notifier
}

func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	a := &app{cfg: cfg, logger: logr, out: out, metrics: service.NewMetricsService()}

	a.tokens = service.NewTokenService(service.TokenConfig{
		Secret:   cfg.API.TokenSecret,
		TTL:      cfg.API.TokenTTL,
		Issuer:   cfg.API.TokenIssuer,
		Reviewer: a.reviewer(),
	})
	opts := []repository.InboxOption{
		repository.WithLogger(logr),
		repository.WithRequestObserver(a.metrics),
	}
	if a.tokens.Enabled() {
		opts = append(opts, repository.WithTokenSource(a.tokens))
	}
	a.repo = repository.NewInboxRepository(repository.InboxRepositoryConfig{
		BaseURL:          cfg.API.BaseURL,
		Timeout:          cfg.API.Timeout,
		Retries:          cfg.API.Retries,
		BreakerFailures:  cfg.API.BreakerFailures,
		BreakerTimeout:   cfg.API.BreakerTimeout,
		BreakerHalfOpens: cfg.API.BreakerHalfOpens,
	}, opts...)

	var cacheRepo service.CacheRepository = repository.NewMemoryCacheRepository()
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching lookups in memory", zap.Error(err))
		} else if client != nil {
			a.redis = client
			cacheRepo = repository.NewRedisCacheRepository(client, logr)
		}
	}
	a.cache = service.NewCacheService(cacheRepo, a.metrics, cfg.Lookup.CacheTTL, logr, cfg.Lookup.CacheEnabled)
	a.views = repository.NewViewRepository(cfg.Views.File)
	a.notifier = service.MultiNotifier{newColorNotifier(out), service.NewLogNotifier(logr)}
	return a, nil
}

func (a *app) reviewer() string {
	if a.cfg.Reviewer != "" {
		return a.cfg.Reviewer
	}
	return service.DefaultReviewer
}

func (a *app) newBulk(queue *service.ReviewQueue, notifier service.Notifier) *service.BulkCoordinator {
	return service.NewBulkCoordinator(a.repo, queue,
		service.WithBulkNotifier(notifier),
		service.WithBulkMetrics(a.metrics),
		service.WithBulkLogger(a.logger),
		service.WithBulkReviewer(a.reviewer()))
}

func (a *app) newConsolidation(notifier service.Notifier, opts ...service.ConsolidationOption) *service.ConsolidationService {
	opts = append([]service.ConsolidationOption{
		service.WithConsolidationNotifier(notifier),
		service.WithConsolidationMetrics(a.metrics),
		service.WithConsolidationLogger(a.logger),
	}, opts...)
	return service.NewConsolidationService(a.repo, service.ConsolidationConfig{
		Retries:    a.cfg.Consolidation.Retries,
		RetryDelay: a.cfg.Consolidation.RetryDelay,
	}, opts...)
}

func (a *app) newLookups() *service.LookupService {
	return service.NewLookupService(a.repo, a.cache, a.cfg.Lookup.CacheTTL, a.logger)
}

// serveMetrics exposes /metrics, /health and /queue when METRICS_ADDR is set.
// The returned function shuts the server down.
func (a *app) serveMetrics(queue *service.ReviewQueue) func() {
	if a.cfg.Metrics.Addr == "" {
		return func() {}
	}
	r := gin.New()
	r.Use(gin.Recovery(), reqidmiddleware.Middleware(), logger.GinMiddleware(a.logger), middleware.Metrics(a.metrics))
	h := handler.NewMetricsHandler(a.metrics, nil)
	if queue != nil {
		// Keep the interface nil when there is no queue.
		h = handler.NewMetricsHandler(a.metrics, queue)
	}
	h.Register(r)

	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.Info("metrics server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}
