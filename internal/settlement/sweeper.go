package settlement

import (
	"context"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/metrics"
)

// Finalizer is the slice of the engine the sweeper needs.
type Finalizer interface {
	Finalize(ctx context.Context, jobID string) (domain.JobStatus, error)
}

// Summary reports the outcome of one recovery sweep.
type Summary struct {
	Found           int `json:"found"`
	Fixed           int `json:"fixed"`
	Failed          int `json:"failed"`
	StillProcessing int `json:"still_processing"`
}

// Sweeper re-drives jobs stuck in processing through the engine's
// finalization path. It may run concurrently with live tracking loops for
// the same jobs; it relies entirely on Finalize's idempotency.
type Sweeper struct {
	jobs       domain.JobRepository
	finalizer  Finalizer
	staleAfter time.Duration
	pause      time.Duration
	batchLimit int
	logger     infra.Logger
}

func NewSweeper(jobs domain.JobRepository, finalizer Finalizer, staleAfter, pause time.Duration, batchLimit int, logger infra.Logger) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Sweeper{
		jobs:       jobs,
		finalizer:  finalizer,
		staleAfter: staleAfter,
		pause:      pause,
		batchLimit: batchLimit,
		logger:     logger,
	}
}

// Run scans for stale processing jobs and finalizes each. The pause between
// jobs keeps the vendor rate limits honest.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	cutoff := time.Now().Add(-s.staleAfter)
	jobs, err := s.jobs.ListStaleProcessing(ctx, cutoff, s.batchLimit)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Found: len(jobs)}
	metrics.SweepRuns.Inc()
	metrics.SweepJobsFound.Add(float64(len(jobs)))
	s.logger.Info().Int("found", len(jobs)).Msg("sweeper: scan complete")

	for i, job := range jobs {
		if i > 0 && s.pause > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(s.pause):
			}
		}

		status, err := s.finalizer.Finalize(ctx, job.ID)
		if err != nil {
			summary.StillProcessing++
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("sweeper: finalize attempt failed")
			continue
		}
		switch status {
		case domain.JobStatusCompleted:
			summary.Fixed++
		case domain.JobStatusFailed:
			summary.Failed++
		default:
			summary.StillProcessing++
		}
	}

	s.logger.Info().
		Int("found", summary.Found).
		Int("fixed", summary.Fixed).
		Int("failed", summary.Failed).
		Int("still_processing", summary.StillProcessing).
		Msg("sweeper: run finished")
	return summary, nil
}
