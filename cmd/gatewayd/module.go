package main

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/iruldev/apigatewaycore/internal/apierrors"
	"github.com/iruldev/apigatewaycore/internal/balancer"
	"github.com/iruldev/apigatewaycore/internal/breaker"
	"github.com/iruldev/apigatewaycore/internal/cache"
	"github.com/iruldev/apigatewaycore/internal/config"
	"github.com/iruldev/apigatewaycore/internal/events"
	"github.com/iruldev/apigatewaycore/internal/gateway"
	"github.com/iruldev/apigatewaycore/internal/httpapi"
	"github.com/iruldev/apigatewaycore/internal/logging"
	"github.com/iruldev/apigatewaycore/internal/middleware"
	"github.com/iruldev/apigatewaycore/internal/observability"
)

// Module is the gateway's full dependency graph, composed as named
// fx.Options blocks grouped by concern.
var Module = fx.Options(
	ConfigModule,
	ObservabilityModule,
	CacheModule,
	ResilienceModule,
	MiddlewareModule,
	EventsModule,
	GatewayModule,
	TransportModule,
)

// ConfigModule loads configuration and wires it into every package
// that reads a package-level var instead of taking it as an argument.
var ConfigModule = fx.Options(
	fx.Provide(config.Load),
	fx.Invoke(func(cfg *config.Config) {
		apierrors.ProblemBaseURL = cfg.ProblemBaseURL
	}),
)

// ObservabilityModule provides the structured logger, Prometheus
// registry/metric set, and OTel tracer provider.
var ObservabilityModule = fx.Options(
	fx.Provide(logging.New),
	fx.Invoke(func(logger *slog.Logger) {
		slog.SetDefault(logger)
	}),
	fx.Provide(provideMetrics),
	fx.Provide(provideTracer),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

// MetricsResult carries both the raw registry and the typed metric set
// every other component records into. The admin router serves no
// /metrics endpoint for the registry.
type MetricsResult struct {
	fx.Out
	Registry *prometheus.Registry
	Metrics  *observability.GatewayMetrics
}

func provideMetrics() MetricsResult {
	reg := observability.NewRegistry()
	return MetricsResult{
		Registry: reg,
		Metrics:  observability.NewGatewayMetrics(reg),
	}
}

func provideTracer(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	tp, err := observability.InitTracer(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if cfg.OTELEnabled {
		logger.Info("tracing enabled", "endpoint", cfg.OTELExporterEndpoint)
	} else {
		logger.Info("tracing disabled")
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

// CacheModule provides the multi-level cache and starts its
// background expiry sweeper for the process lifetime.
var CacheModule = fx.Options(
	fx.Provide(provideMemoryTier),
	fx.Provide(provideSQLiteTier),
	fx.Provide(provideRedisTier),
	fx.Provide(provideCache),
)

func provideMemoryTier(cfg *config.Config) *cache.MemoryTier {
	return cache.NewMemoryTier(cfg.CacheMemoryMaxItems, cfg.CacheMemoryMaxBytes)
}

func provideSQLiteTier(lc fx.Lifecycle, cfg *config.Config) (*cache.SQLiteTier, error) {
	tier, err := cache.OpenSQLiteTier(cfg.CacheSQLitePath)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tier.Close()
		},
	})
	return tier, nil
}

func provideRedisTier(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) *cache.RedisTier {
	if !cfg.CacheRedisEnabled {
		return nil
	}
	tier := cache.NewRedisTier(cfg.CacheRedisAddr, cfg.CacheRedisDB)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := tier.Ping(ctx); err != nil {
				logger.Warn("redis tier unreachable at startup", "err", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return tier.Close()
		},
	})
	return tier
}

func provideCache(lc fx.Lifecycle, cfg *config.Config, memory *cache.MemoryTier, sqliteTier *cache.SQLiteTier, redisTier *cache.RedisTier, metrics *observability.GatewayMetrics) *cache.MultiLevelCache {
	mlc := cache.New(cache.Config{
		DefaultTTL:    cfg.CacheDefaultTTL,
		MinTTL:        cfg.CacheMinTTL,
		MaxTTL:        cfg.CacheMaxTTL,
		MemoryMaxItem: cfg.CacheMemoryMaxItems,
		MemoryMaxByte: cfg.CacheMemoryMaxBytes,
		Namespace:     cfg.CacheNamespace,
	}, memory, sqliteTier, redisTier, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go mlc.RunSweeper(ctx, cfg.CacheSweepInterval)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return mlc
}

// ResilienceModule provides the circuit breaker registry and load
// balancer shared by every provider.
var ResilienceModule = fx.Options(
	fx.Provide(provideBreakerRegistry),
	fx.Provide(provideBalancer),
)

func provideBreakerRegistry(cfg *config.Config, logger *slog.Logger, metrics *observability.GatewayMetrics) *breaker.Registry {
	return breaker.NewRegistry(breaker.Config{
		FailureThreshold:   cfg.CBFailureThreshold,
		SuccessThreshold:   cfg.CBSuccessThreshold,
		OpenDuration:       cfg.CBOpenDuration,
		HalfOpenProbeLimit: cfg.CBMaxRequests,
		Interval:           cfg.CBInterval,
	}, logger, metrics)
}

func provideBalancer(cfg *config.Config, metrics *observability.GatewayMetrics) *balancer.Balancer {
	return balancer.New(balancer.Strategy(cfg.BalancerStrategy), cfg.BalancerLatencyEWMAAlpha, metrics)
}

// MiddlewareModule provides the standard pipeline (metrics, error
// translation, logging, auth, rate limiting) that the gateway runs on
// each outbound request.
var MiddlewareModule = fx.Options(
	fx.Provide(providePipeline),
)

func providePipeline(cfg *config.Config, logger *slog.Logger, metrics *observability.GatewayMetrics) *middleware.Pipeline {
	return middleware.StandardPipeline(logger, metrics, cfg.MiddlewareDebug, cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurstSize, nil)
}

// EventsModule provides the event bus, opening the optional JSONL
// replay store when configured.
var EventsModule = fx.Options(
	fx.Provide(provideEventStore),
	fx.Provide(provideEventBus),
)

func provideEventStore(cfg *config.Config) (*events.Store, error) {
	if !cfg.EventStoreEnabled {
		return nil, nil
	}
	return events.OpenStore(cfg.EventStorePath, cfg.EventStoreMaxItems)
}

func provideEventBus(cfg *config.Config, logger *slog.Logger, store *events.Store, metrics *observability.GatewayMetrics) *events.Bus {
	bus := events.New(cfg.EventHistorySize, cfg.EventQueueSize, logger, store)
	events.Subscribe(bus, "metrics-exporter", []events.Type{"*"}, events.PriorityLow, nil, func(e events.Event) {
		metrics.RecordEvent(string(e.Type))
	})
	return bus
}

// GatewayModule provides the orchestrator itself and registers its
// start/stop hooks plus the balancer's background health-check loop.
var GatewayModule = fx.Options(
	fx.Provide(provideGateway),
)

func provideGateway(
	lc fx.Lifecycle,
	cfg *config.Config,
	registry *breaker.Registry,
	mlc *cache.MultiLevelCache,
	lb *balancer.Balancer,
	pipeline *middleware.Pipeline,
	bus *events.Bus,
	logger *slog.Logger,
) *gateway.Gateway {
	gw := gateway.New(registry, mlc, lb, pipeline, bus, logger)

	healthCtx, healthCancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gw.Start(ctx); err != nil {
				return err
			}
			if err := loadProviders(cfg.ProvidersConfigPath, gw); err != nil {
				return err
			}
			go lb.RunHealthChecks(healthCtx, cfg.BalancerHealthInterval, providerPing(gw, bus))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			healthCancel()
			return gw.Stop(ctx)
		},
	})
	return gw
}

// TransportModule provides the admin HTTP router/server and its
// lifecycle hooks.
var TransportModule = fx.Options(
	fx.Provide(provideRouter),
	fx.Invoke(registerServerHook),
)

func provideRouter(cfg *config.Config, logger *slog.Logger, registry *breaker.Registry, gw *gateway.Gateway) chi.Router {
	api := &httpapi.API{Gateway: gw, Breakers: registry}
	return httpapi.NewRouter(logger, api, cfg.AdminRateLimitRPS)
}
