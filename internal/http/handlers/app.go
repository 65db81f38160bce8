package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/settlement"
)

// GenerationService is the slice of the settlement engine the HTTP surface
// depends on.
type GenerationService interface {
	SubmitGeneration(ctx context.Context, accountID string, jobType domain.JobType, inputs map[string]any) (*domain.Job, error)
	CostFor(jobType domain.JobType) int64
}

// SweepRunner triggers one recovery sweep on demand.
type SweepRunner interface {
	Run(ctx context.Context) (settlement.Summary, error)
}

type App struct {
	Generations GenerationService
	Accounts    domain.AccountRepository
	Jobs        domain.JobRepository
	Sweeper     SweepRunner
	Cfg         *infra.Config
	Logger      infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error writes an error body, localizing the message when the catalog has an
// entry for the caller's locale.
func (a *App) error(w http.ResponseWriter, r *http.Request, code int, errCode, message string) {
	locale := middleware.LocaleFromContext(r.Context())
	a.json(w, code, map[string]string{"error": errCode, "message": localizedMessage(locale, errCode, message)})
}

func (a *App) currentAccountID(r *http.Request) string {
	return middleware.AccountIDFromContext(r.Context())
}
