package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gftdcojp/storage-tiers/internal/activity"
	"github.com/gftdcojp/storage-tiers/internal/config"
	"github.com/gftdcojp/storage-tiers/internal/meta"
	"github.com/gftdcojp/storage-tiers/internal/metrics"
	"github.com/gftdcojp/storage-tiers/internal/serve"
	"github.com/gftdcojp/storage-tiers/internal/stats"
	"github.com/gftdcojp/storage-tiers/internal/tier"
	"github.com/gftdcojp/storage-tiers/pkg/natsutil"
	"github.com/gftdcojp/storage-tiers/pkg/s3util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tierd %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Connect to NATS
	nc, err := natsutil.Connect(cfg.NATS, logger.Named("nats"))
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer nc.Close()

	// Open config store and make sure the declared systems exist
	metaStore, err := meta.NewBoltStore(cfg.Metadata.Path, logger.Named("meta"))
	if err != nil {
		return fmt.Errorf("opening config store: %w", err)
	}
	defer metaStore.Close()

	if err := meta.Bootstrap(ctx, metaStore, seedsFromConfig(cfg.Systems)); err != nil {
		return err
	}

	// One S3 client per cloud pool, used by readiness probes
	clouds, err := s3util.NewClients(ctx, cfg.Systems)
	if err != nil {
		return fmt.Errorf("creating cloud pool clients: %w", err)
	}

	var dispatcher activity.Dispatcher = activity.NewLogDispatcher(logger.Named("activity"))
	if cfg.Activity.Enabled {
		dispatcher = activity.NewNATSDispatcher(nc, cfg.Activity.Subject, logger.Named("activity"))
	}

	cache := stats.NewCache(cfg.Stats.TTL.Duration())
	svc := tier.NewService(tier.ServiceConfig{
		Meta:     metaStore,
		Stats:    cache,
		Activity: dispatcher,
		Logger:   logger.Named("tier"),
	})

	g, gctx := errgroup.WithContext(ctx)

	// Live pool stats
	g.Go(func() error {
		return stats.RunSubscriber(gctx, nc, cache, cfg.Stats.SubjectPrefix, logger.Named("stats"))
	})

	// Start HTTP API
	if cfg.API.Enabled {
		g.Go(func() error {
			return serve.RunHTTP(gctx, cfg.API, svc, logger.Named("api"))
		})
	}

	// Start NATS responder
	if cfg.API.NATSResponder.Enabled {
		g.Go(func() error {
			return serve.RunNATSResponder(gctx, nc, cfg.API, svc, logger.Named("nats-responder"))
		})
	}

	// Start metrics server
	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
	}

	// Start health server
	if cfg.Observability.Health.Enabled {
		healthChecker := metrics.NewHealthChecker(nc, metaStore, clouds)
		g.Go(func() error {
			return metrics.RunHealthServer(gctx, cfg.Observability.Health, healthChecker)
		})
	}

	logger.Info("tierd started",
		zap.String("version", version),
		zap.Int("systems", len(cfg.Systems)),
		zap.Int("cloud_pools", len(clouds)),
		zap.String("nats_url", cfg.NATS.URL),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutting down")
	return nil
}

func seedsFromConfig(systems []config.SystemConfig) []meta.SystemSeed {
	seeds := make([]meta.SystemSeed, 0, len(systems))
	for _, sc := range systems {
		seed := meta.SystemSeed{ID: sc.ID, Name: sc.Name}
		for _, pc := range sc.Pools {
			ps := meta.PoolSeed{Name: pc.Name}
			if pc.Cloud != nil {
				ps.Cloud = &meta.CloudPoolDoc{
					Endpoint:     pc.Cloud.Endpoint,
					TargetBucket: pc.Cloud.Bucket,
					Region:       pc.Cloud.Region,
				}
			}
			seed.Pools = append(seed.Pools, ps)
		}
		for _, bc := range sc.Buckets {
			seed.Buckets = append(seed.Buckets, meta.BucketSeed{Name: bc.Name, TieringPolicy: bc.TieringPolicy})
		}
		seeds = append(seeds, seed)
	}
	return seeds
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	if cfg.Output != "" {
		zapCfg.OutputPaths = []string{cfg.Output}
	}

	return zapCfg.Build()
}
