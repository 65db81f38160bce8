package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/gateway/comfy"
	"server/internal/infra"
	"server/internal/settlement"
	"server/internal/storage"
)

// The sweeper re-drives jobs stuck in processing, typically after an API
// restart dropped their tracking loops. It runs either once (-once) or on the
// configured cron schedule.
func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "sweeper").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	gateway := comfy.NewClient(comfy.Options{
		BaseURL: cfg.ComfyBaseURL,
		APIKey:  cfg.ComfyAPIKey,
	})

	engine := settlement.NewEngine(ctx, accounts, jobs, gateway, store, engineConfig(cfg), logger)
	sweeper := settlement.NewSweeper(jobs, engine, cfg.SweepStaleAfter, cfg.SweepPause, cfg.SweepBatchLimit, logger)

	if *once {
		summary, err := sweeper.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("sweep failed")
			os.Exit(1)
		}
		logger.Info().
			Int("found", summary.Found).
			Int("fixed", summary.Fixed).
			Int("failed", summary.Failed).
			Int("still_processing", summary.StillProcessing).
			Msg("sweep complete")
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		if _, err := sweeper.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduled sweep failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("invalid sweep schedule")
	}
	scheduler.Start()
	logger.Info().Str("schedule", cfg.SweepSchedule).Msg("sweeper started")

	<-ctx.Done()
	<-scheduler.Stop().Done()
	logger.Info().Msg("sweeper stopped")
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
