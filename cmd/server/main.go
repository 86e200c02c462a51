package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Monthlyaway/short-link-analytics/config"
	"github.com/Monthlyaway/short-link-analytics/internal/cache"
	"github.com/Monthlyaway/short-link-analytics/internal/filter"
	"github.com/Monthlyaway/short-link-analytics/internal/handler"
	"github.com/Monthlyaway/short-link-analytics/internal/logger"
	"github.com/Monthlyaway/short-link-analytics/internal/middleware"
	"github.com/Monthlyaway/short-link-analytics/internal/repository"
	"github.com/Monthlyaway/short-link-analytics/internal/service"
	"github.com/Monthlyaway/short-link-analytics/internal/shortcode"
	"github.com/Monthlyaway/short-link-analytics/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	codes, err := shortcode.NewGenerator(cfg.Snowflake.DatacenterID, cfg.Snowflake.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to initialize snowflake: %w", err)
	}

	repo, err := repository.NewLinkRepository(
		cfg.MySQL.DSN(),
		cfg.MySQL.MaxIdleConns,
		cfg.MySQL.MaxOpenConns,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	redisCache, err := cache.NewRedisCache(
		cfg.Redis.Addr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis cache: %w", err)
	}
	defer redisCache.Close()

	var bloom *filter.CodeFilter
	if cfg.BloomFilter.Enabled {
		bloom = filter.NewCodeFilter(cfg.BloomFilter.Capacity, cfg.BloomFilter.FalsePositiveRate)
	}

	promoter := service.NewPromoter(redisCache, cfg.Link.PopularThreshold, log)
	resolver := service.NewResolver(redisCache, repo, bloom, promoter, log)
	links := service.NewLinkService(repo, redisCache, bloom, codes, promoter, service.LinkOptions{
		CacheTTL:       cfg.Link.CacheTTL(),
		AliasMinLength: cfg.Link.AliasMinLength,
		AliasMaxLength: cfg.Link.AliasMaxLength,
	}, log)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := links.InitBloomFilter(initCtx); err != nil {
		log.Warn().Err(err).Msg("failed to initialize bloom filter")
	}
	cancel()

	supervisor := worker.NewSupervisor(cfg.Workers.Grace(), log,
		worker.Task{
			Name:      "expiry-sweep",
			Interval:  cfg.Workers.SweepEvery(),
			Immediate: true,
			Run:       worker.NewSweeper(redisCache, repo, log).Run,
		},
		worker.Task{
			Name:     "reconcile",
			Interval: cfg.Workers.ReconcileEvery(),
			Run:      worker.NewReconciler(redisCache, repo, promoter, cfg.Workers.ClickBatchSize, log).Run,
		},
	)

	gin.SetMode(cfg.Server.Mode)
	linkHandler := handler.NewLinkHandler(resolver, links, cfg.Server.BaseURL, log)
	routerOpts, err := buildRouterOptions(cfg, redisCache.GetClient(), log)
	if err != nil {
		return err
	}
	router := handler.NewRouter(linkHandler, routerOpts)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	stop, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- supervisor.Run(stop)
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err := <-serverErr:
		runErr = fmt.Errorf("failed to start server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	stopWorkers()
	if err := <-workersDone; err != nil {
		log.Warn().Err(err).Msg("background tasks stopped uncleanly")
	}

	log.Info().Msg("server exited")
	return runErr
}

// buildRouterOptions turns the rate_limit section into gin middleware
func buildRouterOptions(cfg *config.Config, client *redis.Client, log zerolog.Logger) (handler.RouterOptions, error) {
	opts := handler.RouterOptions{
		Global:   []gin.HandlerFunc{middleware.RequestLogger(log)},
		Endpoint: map[string][]gin.HandlerFunc{},
	}
	if !cfg.RateLimit.Enabled {
		return opts, nil
	}

	strategy, err := middleware.ParseStrategy(cfg.RateLimit.Strategy)
	if err != nil {
		return opts, err
	}
	log.Info().Str("strategy", string(strategy)).Msg("rate limiting enabled")

	if cfg.RateLimit.Global.Limit > 0 {
		global := middleware.NewRateLimiter(client, &middleware.RateLimitConfig{
			Strategy: strategy,
			Limit:    cfg.RateLimit.Global.Limit,
			Window:   time.Duration(cfg.RateLimit.Global.Window) * time.Second,
			Scope:    "global",
			KeyFunc:  middleware.IPBasedKey,
			SkipFunc: middleware.SkipHealthCheck,
		}, log)
		opts.Global = append(opts.Global, global.Middleware())
	}

	for _, endpoint := range cfg.RateLimit.Endpoints {
		switch endpoint.Path {
		case handler.RouteRedirect, handler.RouteShorten:
		default:
			log.Warn().Str("path", endpoint.Path).Msg("no route for endpoint rate limit")
			continue
		}
		limiter := middleware.NewRateLimiter(client, &middleware.RateLimitConfig{
			Strategy: strategy,
			Limit:    endpoint.Limit,
			Window:   time.Duration(endpoint.Window) * time.Second,
			Scope:    endpoint.Path,
		}, log)
		opts.Endpoint[endpoint.Path] = append(opts.Endpoint[endpoint.Path], limiter.Middleware())
	}

	return opts, nil
}
