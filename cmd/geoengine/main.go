package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animita-app/animitas-sub001/internal/analysis"
	"github.com/animita-app/animitas-sub001/internal/boundary"
	"github.com/animita-app/animitas-sub001/internal/cache"
	"github.com/animita-app/animitas-sub001/internal/cache/memstore"
	"github.com/animita-app/animitas-sub001/internal/cache/redisstore"
	"github.com/animita-app/animitas-sub001/internal/core/config"
	"github.com/animita-app/animitas-sub001/internal/core/health"
	"github.com/animita-app/animitas-sub001/internal/core/httpclient"
	"github.com/animita-app/animitas-sub001/internal/core/observability"
	"github.com/animita-app/animitas-sub001/internal/core/router"
	"github.com/animita-app/animitas-sub001/internal/core/server"
	"github.com/animita-app/animitas-sub001/internal/invalidation/kafkaconsumer"
	"github.com/animita-app/animitas-sub001/internal/layers"
	"github.com/animita-app/animitas-sub001/internal/logger"
	"github.com/animita-app/animitas-sub001/internal/metrics"
	"github.com/animita-app/animitas-sub001/internal/points"
	"github.com/animita-app/animitas-sub001/internal/session"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// flag overrides for local runs
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	providerFlag := flag.String("layers", "", "layer provider: overpass|mock (overrides LAYER_PROVIDER)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *providerFlag != "" {
		cfg.Layers.Provider = *providerFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "geoengine",
		Component: "server",
		Version:   Version,
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, appLog)
	appLog.Info("starting geoengine",
		"addr", cfg.Addr,
		"version", Version,
		"layer_provider", cfg.Layers.Provider,
		"points_source", cfg.PointsSource,
		"redis", cfg.RedisAddr != "")

	var checks []health.Check

	// tier 2 cache is optional
	var remote cache.Interface
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		ns := rc.Namespaced("geoengine:")
		remote = ns
		checks = append(checks, health.Check{Name: "redis", Ping: ns.Ping})
	}

	outbound := httpclient.NewOutbound(cfg.Boundary.Timeout)
	resolver := boundary.New([]boundary.Strategy{
		boundary.NewNominatim(cfg.Boundary.NominatimURL, cfg.Boundary.NominatimLimit, cfg.Boundary.NominatimRPS, outbound),
		boundary.NewOverpass(cfg.Boundary.OverpassURL, cfg.Boundary.Timeout, outbound),
	}, boundary.Options{
		Tolerance: cfg.Boundary.SimplifyTolerance,
		Timeout:   cfg.Boundary.Timeout,
		Memory:    memstore.Policy{MaxEntries: cfg.CacheMaxEntries, TTL: cfg.Boundary.CacheTTL},
		Remote:    remote,
		RemoteTTL: cfg.Boundary.CacheTTL,
		OpTimeout: cfg.CacheOpTimeout,
		Logger:    appLog.With("component", "boundary"),
	})

	var provider layers.Provider
	if cfg.Layers.Provider == "mock" {
		provider = layers.NewMockProvider(cfg.Layers.MockCount, cfg.Layers.MockSeed)
	} else {
		provider = layers.NewOverpassProvider(cfg.Layers.OverpassURL, 2, httpclient.NewOutbound(60*time.Second))
	}
	fetcher := layers.NewFetcher(provider, layers.Options{
		Memory:    memstore.Policy{MaxEntries: cfg.CacheMaxEntries, TTL: cfg.Layers.CacheTTL},
		Remote:    remote,
		RemoteTTL: cfg.Layers.CacheTTL,
		OpTimeout: cfg.CacheOpTimeout,
		Logger:    appLog.With("component", "layers"),
	})

	src, closeSrc, err := openPoints(ctx, cfg)
	if err != nil {
		appLog.Error("points source setup failed", "source", cfg.PointsSource, "err", err)
		return 1
	}
	defer closeSrc()
	if pg, ok := src.(*points.Postgres); ok {
		checks = append(checks, health.Check{Name: "postgres", Ping: pg.Ping})
	}
	base, err := src.Load(ctx)
	if err != nil {
		appLog.Error("loading base points failed", "source", src.Name(), "err", err)
		return 1
	}
	appLog.Info("base points loaded", "source", src.Name(), "count", len(base))

	sessions := session.NewRegistry(base, session.Options{
		IdleTTL:    cfg.SessionIdleTTL,
		MaxEntries: cfg.SessionMax,
		Logger:     appLog.With("component", "session"),
	})
	go sessions.RunJanitor(ctx, time.Minute)

	if cfg.Invalidation.Enabled {
		cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), appLog.With("component", "kafka_consumer"), resolver, fetcher)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("kafka consumer stopped", "err", err)
			}
		}()
	}

	deps := router.Deps{
		Boundaries: resolver,
		Layers:     fetcher,
		Analysis:   analysis.NewService(fetcher, analysis.Options{H3Res: cfg.DensityH3Res, Logger: appLog}),
		Sessions:   sessions,
		Logger:     appLog,
	}
	if err := server.Run(ctx, cfg, appLog, deps, checks...); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openPoints(ctx context.Context, cfg config.Config) (points.Source, func(), error) {
	switch cfg.PointsSource {
	case "file":
		return points.NewFile(cfg.PointsFile), func() {}, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for POINTS_SOURCE=postgres")
		}
		pg, err := points.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return points.Empty{}, func() {}, nil
	}
}

// startMetrics serves metrics on a dedicated listener when METRICS_ADDR is
// set; otherwise the API server exposes the default registry on /metrics.
func startMetrics(ctx context.Context, cfg config.Config, log *slog.Logger) {
	if !cfg.MetricsEnabled {
		observability.Init(nil, false)
		return
	}
	if cfg.MetricsAddr == "" {
		observability.Init(nil, true)
		observability.ExposeBuildInfo(Version)
		return
	}

	p := metrics.Init(metrics.Config{Addr: cfg.MetricsAddr, Version: Version})
	go func() {
		if err := p.Serve(ctx, log); err != nil {
			log.Error("metrics server exited", "err", err)
		}
	}()
}
