package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/gateway/comfy"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/middleware"
	"server/internal/settlement"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	accounts := repo.NewAccountRepository(dbpool)
	jobs := repo.NewJobRepository(dbpool)

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	var lookup middleware.CountryLookup
	if resolver != nil {
		lookup = resolver.CountryCode
	}

	gateway := comfy.NewClient(comfy.Options{
		BaseURL: cfg.ComfyBaseURL,
		APIKey:  cfg.ComfyAPIKey,
	})

	// Tracking loops survive the originating requests; they stop on
	// engineCtx during shutdown.
	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()
	engine := settlement.NewEngine(engineCtx, accounts, jobs, gateway, store, engineConfig(cfg), logger)
	sweeper := settlement.NewSweeper(jobs, engine, cfg.SweepStaleAfter, cfg.SweepPause, cfg.SweepBatchLimit, logger)

	app := &handlers.App{
		Generations: engine,
		Accounts:    accounts,
		Jobs:        jobs,
		Sweeper:     sweeper,
		Cfg:         cfg,
		Logger:      logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		StaticDir:     store.BasePath(),
		CountryLookup: lookup,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	stopEngine()
	engine.Wait()
	logger.Info().Msg("server stopped")
}

func engineConfig(cfg *infra.Config) settlement.Config {
	deployments := make(map[domain.JobType]string, len(cfg.Deployments))
	for jobType, id := range cfg.Deployments {
		if id != "" {
			deployments[domain.JobType(jobType)] = id
		}
	}
	costs := make(map[domain.JobType]int64, len(cfg.CreditCosts))
	for jobType, cost := range cfg.CreditCosts {
		costs[domain.JobType(jobType)] = cost
	}
	return settlement.Config{
		Deployments:     deployments,
		CreditCosts:     costs,
		DefaultCost:     cfg.DefaultCreditCost,
		ArtifactBaseURL: cfg.StorageBaseURL,
		PollInterval:    cfg.PollInterval,
		MaxPollAttempts: cfg.MaxPollAttempts,
	}
}
