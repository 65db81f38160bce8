package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/gateway/comfy"
	"server/internal/infra"
	"server/internal/metrics"
)

// Gateway is the external async compute API consumed by the engine. No
// retries happen behind this interface; the tracking loop and the sweeper
// own retry policy.
type Gateway interface {
	Submit(ctx context.Context, deploymentID string, inputs map[string]any) (string, error)
	PollStatus(ctx context.Context, runID string) (comfy.RunStatus, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// ArtifactStore persists generated artifacts and returns the canonical key.
type ArtifactStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Config carries the engine's tunables.
type Config struct {
	// Deployments maps a job type to the vendor deployment serving it.
	Deployments map[domain.JobType]string
	// CreditCosts maps a job type to its price; DefaultCost applies to
	// types without an entry.
	CreditCosts map[domain.JobType]int64
	DefaultCost int64
	// ArtifactBaseURL prefixes stored artifact keys to form retrieval URLs.
	ArtifactBaseURL string
	PollInterval    time.Duration
	MaxPollAttempts int
}

// Engine orchestrates the submit -> reserve -> track -> finalize lifecycle
// of a generation job. All collaborators are constructor-injected.
type Engine struct {
	accounts domain.AccountRepository
	jobs     domain.JobRepository
	gateway  Gateway
	store    ArtifactStore
	cfg      Config
	logger   infra.Logger

	trackCtx context.Context
	wg       sync.WaitGroup
}

// NewEngine builds an engine. Tracking loops started by SubmitGeneration are
// bound to ctx, not to the originating request.
func NewEngine(ctx context.Context, accounts domain.AccountRepository, jobs domain.JobRepository, gateway Gateway, store ArtifactStore, cfg Config, logger infra.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 60
	}
	if cfg.DefaultCost <= 0 {
		cfg.DefaultCost = 15
	}
	return &Engine{
		accounts: accounts,
		jobs:     jobs,
		gateway:  gateway,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		trackCtx: ctx,
	}
}

// CostFor returns the credit price of a job type.
func (e *Engine) CostFor(jobType domain.JobType) int64 {
	if cost, ok := e.cfg.CreditCosts[jobType]; ok {
		return cost
	}
	return e.cfg.DefaultCost
}

// SubmitGeneration reserves credits, queues the job with the gateway,
// persists the job record and starts its tracking loop. A gateway or
// persistence failure after the debit is compensated with a refund before
// the error is returned, so the caller's balance is untouched on any error
// path.
func (e *Engine) SubmitGeneration(ctx context.Context, accountID string, jobType domain.JobType, inputs map[string]any) (*domain.Job, error) {
	deploymentID, ok := e.cfg.Deployments[jobType]
	if !ok || strings.TrimSpace(deploymentID) == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedJobType, jobType)
	}
	if _, err := e.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}

	cost := e.CostFor(jobType)
	if _, err := e.accounts.AdjustBalance(ctx, accountID, -cost); err != nil {
		return nil, err
	}

	runID, err := e.gateway.Submit(ctx, deploymentID, inputs)
	if err != nil {
		e.refund(accountID, "", cost)
		return nil, err
	}

	job := &domain.Job{
		ID:           uuid.NewString(),
		ExternalID:   runID,
		OwnerID:      accountID,
		Type:         jobType,
		Status:       domain.JobStatusProcessing,
		Prompt:       stringInput(inputs, "input_text"),
		InputURL:     stringInput(inputs, "input_image"),
		CostReserved: cost,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		e.refund(accountID, runID, cost)
		return nil, fmt.Errorf("create job record: %w", err)
	}

	metrics.JobsSubmitted.Inc()
	e.logger.Info().
		Str("job_id", job.ID).
		Str("run_id", runID).
		Str("account_id", accountID).
		Int64("cost", cost).
		Msg("settlement: job submitted")

	e.trackJob(job.ID)
	return job, nil
}

// Finalize drives one job toward a terminal state. It is idempotent: a job
// already terminal is a no-op, and the conditional terminal updates in the
// job repository guarantee that of any number of racing finalizers exactly
// one applies the completion write or the refund.
func (e *Engine) Finalize(ctx context.Context, jobID string) (domain.JobStatus, error) {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status.Terminal() {
		return job.Status, nil
	}

	status, err := e.gateway.PollStatus(ctx, job.ExternalID)
	if err != nil {
		return domain.JobStatusProcessing, err
	}

	switch status.State {
	case comfy.StateSucceeded:
		return e.complete(ctx, job, status.ArtifactURL)
	case comfy.StateFailed:
		return e.fail(ctx, job, status.ErrorReason)
	default:
		return domain.JobStatusProcessing, nil
	}
}

// complete downloads and persists the artifact before the terminal write. A
// download or persist failure leaves the job processing so a later finalize
// can retry; no partial-success state is ever recorded.
func (e *Engine) complete(ctx context.Context, job *domain.Job, artifactURL string) (domain.JobStatus, error) {
	data, err := e.gateway.Download(ctx, artifactURL)
	if err != nil {
		return domain.JobStatusProcessing, fmt.Errorf("download artifact: %w", err)
	}
	key := fmt.Sprintf("users/%s/outputs/%s.png", job.OwnerID, job.ExternalID)
	savedKey, err := e.store.Write(ctx, key, data)
	if err != nil {
		return domain.JobStatusProcessing, fmt.Errorf("persist artifact: %w", err)
	}

	if err := e.jobs.MarkCompleted(ctx, job.ID, savedKey, e.artifactURL(savedKey)); err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			return e.currentStatus(ctx, job.ID)
		}
		return domain.JobStatusProcessing, err
	}

	metrics.JobsSettled.WithLabelValues(string(domain.JobStatusCompleted)).Inc()
	e.logger.Info().Str("job_id", job.ID).Str("artifact_key", savedKey).Msg("settlement: job completed")
	return domain.JobStatusCompleted, nil
}

// fail applies the terminal failure write and, only when that write wins the
// race, refunds the reserved credits.
func (e *Engine) fail(ctx context.Context, job *domain.Job, reason string) (domain.JobStatus, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "AI generation failed"
	}
	if err := e.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			return e.currentStatus(ctx, job.ID)
		}
		return domain.JobStatusProcessing, err
	}

	e.refund(job.OwnerID, job.ExternalID, job.CostReserved)
	metrics.JobsSettled.WithLabelValues(string(domain.JobStatusFailed)).Inc()
	e.logger.Info().Str("job_id", job.ID).Str("reason", reason).Msg("settlement: job failed, credits refunded")
	return domain.JobStatusFailed, nil
}

func (e *Engine) currentStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// refund compensates a reserved debit. It runs detached from the request
// context: a refund must not be lost to a caller hanging up.
func (e *Engine) refund(accountID, runID string, amount int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := e.accounts.AdjustBalance(ctx, accountID, amount); err != nil {
		e.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("run_id", runID).
			Int64("amount", amount).
			Msg("settlement: refund failed")
		return
	}
	metrics.CreditsRefunded.Add(float64(amount))
}

// trackJob starts the detached polling loop for a submitted job. It outlives
// the originating request and stops on engine shutdown, terminal status, or
// attempt exhaustion; an exhausted job stays processing and becomes the
// sweeper's responsibility.
func (e *Engine) trackJob(jobID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		for attempt := 1; attempt <= e.cfg.MaxPollAttempts; attempt++ {
			select {
			case <-e.trackCtx.Done():
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(e.trackCtx, time.Minute)
			status, err := e.Finalize(ctx, jobID)
			cancel()
			if err != nil {
				// Transient; retried on the next tick.
				e.logger.Debug().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("settlement: poll attempt failed")
				continue
			}
			if status.Terminal() {
				return
			}
		}
		e.logger.Warn().Str("job_id", jobID).Msg("settlement: polling attempts exhausted, leaving job to sweeper")
	}()
}

// Wait blocks until all tracking loops have stopped.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) artifactURL(key string) string {
	base := strings.TrimRight(e.cfg.ArtifactBaseURL, "/")
	if base == "" {
		return key
	}
	return base + "/" + strings.TrimLeft(key, "/")
}

func stringInput(inputs map[string]any, key string) string {
	if inputs == nil {
		return ""
	}
	if v, ok := inputs[key].(string); ok {
		return v
	}
	return ""
}
