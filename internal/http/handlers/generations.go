package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/gateway/comfy"
)

type generateRequest struct {
	JobType  string         `json:"job_type"`
	Prompt   string         `json:"prompt"`
	ImageURL string         `json:"image_url"`
	Inputs   map[string]any `json:"inputs"`
}

type submitResponse struct {
	JobID            string `json:"job_id"`
	ExternalJobID    string `json:"external_job_id"`
	Status           string `json:"status"`
	Cost             int64  `json:"cost"`
	RemainingCredits int64  `json:"remaining_credits"`
}

type generationResponse struct {
	JobID       string     `json:"job_id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Prompt      string     `json:"prompt,omitempty"`
	InputURL    string     `json:"input_url,omitempty"`
	Cost        int64      `json:"cost"`
	ArtifactURL string     `json:"artifact_url,omitempty"`
	ErrorReason string     `json:"error_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toGenerationResponse(job *domain.Job) generationResponse {
	return generationResponse{
		JobID:       job.ID,
		Type:        string(job.Type),
		Status:      string(job.Status),
		Prompt:      job.Prompt,
		InputURL:    job.InputURL,
		Cost:        job.CostReserved,
		ArtifactURL: job.ArtifactURL,
		ErrorReason: job.ErrorReason,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
}

// GenerationsCreate queues a new generation job. The reserved credits are
// refunded automatically if the job ends in failure.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	jobType := domain.JobType(strings.TrimSpace(req.JobType))
	if jobType == "" {
		jobType = domain.JobTypeBackgroundChanger
	}

	inputs := make(map[string]any, len(req.Inputs)+2)
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	if req.Prompt != "" {
		inputs["input_text"] = req.Prompt
	}
	if req.ImageURL != "" {
		inputs["input_image"] = req.ImageURL
	}

	// First authenticated touch provisions the account with the signup
	// credit grant.
	if _, err := a.Accounts.GetOrCreate(r.Context(), &domain.Account{ID: accountID}, a.Cfg.SignupCreditGrant); err != nil {
		a.Logger.Error().Err(err).Str("account_id", accountID).Msg("handlers: account provisioning failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to load account")
		return
	}

	job, err := a.Generations.SubmitGeneration(r.Context(), accountID, jobType, inputs)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnsupportedJobType):
			a.error(w, r, http.StatusBadRequest, "bad_request", "unsupported job type")
		case errors.Is(err, domain.ErrInsufficientCredits):
			a.error(w, r, http.StatusPaymentRequired, "insufficient_credits", "not enough credits")
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, r, http.StatusNotFound, "not_found", "account not found")
		case errors.Is(err, comfy.ErrRejected):
			a.error(w, r, http.StatusBadGateway, "upstream_rejected", "generation request rejected")
		case errors.Is(err, comfy.ErrUnavailable):
			a.error(w, r, http.StatusBadGateway, "upstream_unavailable", "generation service unavailable")
		default:
			a.Logger.Error().Err(err).Str("account_id", accountID).Msg("handlers: submit generation failed")
			a.error(w, r, http.StatusInternalServerError, "internal", "failed to queue job")
		}
		return
	}

	resp := submitResponse{
		JobID:         job.ID,
		ExternalJobID: job.ExternalID,
		Status:        string(job.Status),
		Cost:          job.CostReserved,
	}
	if account, err := a.Accounts.GetByID(r.Context(), accountID); err == nil {
		resp.RemainingCredits = account.CreditBalance
	}
	a.json(w, http.StatusAccepted, resp)
}

// GenerationsGet returns one of the caller's jobs.
func (a *App) GenerationsGet(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, r, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil || job.OwnerID != accountID {
		a.error(w, r, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, toGenerationResponse(job))
}

// GenerationsList returns the caller's jobs, newest first.
func (a *App) GenerationsList(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	jobs, err := a.Jobs.ListByOwner(r.Context(), accountID, limit, offset)
	if err != nil {
		a.Logger.Error().Err(err).Str("account_id", accountID).Msg("handlers: list jobs failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to load jobs")
		return
	}

	items := make([]generationResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, toGenerationResponse(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
