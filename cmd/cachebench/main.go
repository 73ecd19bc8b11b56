package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rpccache/internal/bench"
	"rpccache/internal/config"
	"rpccache/internal/origin"
	"rpccache/pkg/cache"
	"rpccache/pkg/client"
	"rpccache/pkg/logger"
	"rpccache/pkg/ratelimit"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rpccache bench v%s\n", version)
		os.Exit(0)
	}

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Config file not found: %s\n", *configPath)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting rpccache bench",
		zap.String("version", version),
		zap.String("config", *configPath))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Bench failed", zap.Error(err))
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Origin.Enabled {
		server := origin.NewServer(cfg.Origin, log)
		if err := server.Listen(); err != nil {
			return err
		}

		originCtx, stopOrigin := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(originCtx)
		}()
		defer func() {
			stopOrigin()
			if err := <-errCh; err != nil {
				log.Error("Origin shutdown error", zap.Error(err))
			}
			log.Info("Origin stopped", zap.Int64("hits", server.Hits()))
		}()
	}

	httpClient := client.NewHTTPClient(
		client.WithTransport(client.NewTransport(
			client.WithMaxIdleConns(cfg.Client.MaxIdleConns),
			client.WithMaxIdleConnsPerHost(cfg.Client.MaxIdleConnsPerHost),
			client.WithIdleConnTimeout(cfg.Client.IdleConnTimeout),
		)),
		client.WithConnectTimeout(cfg.Client.ConnectTimeout),
		client.WithReadTimeout(cfg.Client.ReadTimeout),
		client.WithFollowRedirects(!cfg.Client.DisableRedirects),
	)

	var doer client.Doer = httpClient
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		sweeper := ratelimit.NewSweeper(limiter, cfg.RateLimit.CleanupInterval, cfg.RateLimit.IdleTimeout, log.Zap())
		sweeper.Start()
		defer sweeper.Stop()
		doer = ratelimit.Throttle(httpClient, limiter)
	}

	scenarios := []bench.Scenario{{Name: "direct", Client: client.NewDirectClient(doer)}}

	if cfg.Cache.Enabled {
		store := cache.NewCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		store.StartJanitor(cfg.Cache.CleanupInterval)
		defer store.Close()

		opts := []client.Option{
			client.WithKeyPolicy(cfg.KeyPolicy()),
			client.WithSingleFlight(cfg.Cache.SingleFlight),
			client.WithLogger(log.Zap()),
		}
		if len(cfg.Cache.Paths) > 0 {
			opts = append(opts, client.WithPredicate(client.PathPredicate(cfg.Cache.Paths...)))
		}

		scenarios = append(scenarios, bench.Scenario{
			Name:   "cached",
			Client: client.NewCachingClient(doer, store, opts...),
		})
	}

	runner, err := bench.NewRunner(cfg.Bench, cfg.Client.BaseURL, client.Options{
		ConnectTimeout: cfg.Client.ConnectTimeout,
		ReadTimeout:    cfg.Client.ReadTimeout,
	}, log)
	if err != nil {
		return err
	}

	results, err := runner.Compare(ctx, scenarios...)
	if err != nil {
		return err
	}

	if len(results) == 2 && results[0].Throughput > 0 {
		log.Info("Comparison",
			zap.Float64("speedup", results[1].Throughput/results[0].Throughput),
			zap.Duration("direct_p50", results[0].P50),
			zap.Duration("cached_p50", results[1].P50))
	}

	return nil
}
