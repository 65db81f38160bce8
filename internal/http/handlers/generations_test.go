package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/settlement"
)

type stubGenerations struct {
	submitted map[string]int
	job       *domain.Job
	err       error
	cost      int64
}

func (s *stubGenerations) SubmitGeneration(ctx context.Context, accountID string, jobType domain.JobType, inputs map[string]any) (*domain.Job, error) {
	if s.submitted == nil {
		s.submitted = make(map[string]int)
	}
	s.submitted[accountID]++
	if s.err != nil {
		return nil, s.err
	}
	if s.job != nil {
		return s.job, nil
	}
	return &domain.Job{
		ID:           "job-1",
		ExternalID:   "run-1",
		OwnerID:      accountID,
		Type:         jobType,
		Status:       domain.JobStatusProcessing,
		Prompt:       stringOrEmpty(inputs["input_text"]),
		CostReserved: s.cost,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (s *stubGenerations) CostFor(jobType domain.JobType) int64 { return s.cost }

func stringOrEmpty(v any) string {
	str, _ := v.(string)
	return str
}

type stubAccounts struct {
	accounts map[string]*domain.Account
	err      error
}

func (s *stubAccounts) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	if acc, ok := s.accounts[id]; ok {
		return acc, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubAccounts) GetOrCreate(ctx context.Context, account *domain.Account, startingBalance int64) (*domain.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.accounts == nil {
		s.accounts = make(map[string]*domain.Account)
	}
	if acc, ok := s.accounts[account.ID]; ok {
		return acc, nil
	}
	copied := *account
	copied.CreditBalance = startingBalance
	copied.CreatedAt = time.Now().UTC()
	s.accounts[account.ID] = &copied
	return &copied, nil
}

func (s *stubAccounts) AdjustBalance(ctx context.Context, id string, delta int64) (int64, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	acc.CreditBalance += delta
	return acc.CreditBalance, nil
}

type stubJobs struct {
	jobs map[string]*domain.Job
	err  error
}

func (s *stubJobs) Create(ctx context.Context, job *domain.Job) error { return nil }

func (s *stubJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if job, ok := s.jobs[jobID]; ok {
		return job, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubJobs) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Job
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *stubJobs) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (s *stubJobs) MarkCompleted(ctx context.Context, jobID, artifactKey, artifactURL string) error {
	return nil
}

func (s *stubJobs) MarkFailed(ctx context.Context, jobID, reason string) error { return nil }

type stubSweeper struct {
	summary settlement.Summary
	err     error
	runs    int
}

func (s *stubSweeper) Run(ctx context.Context) (settlement.Summary, error) {
	s.runs++
	return s.summary, s.err
}

func testApp() (*App, *stubGenerations, *stubAccounts, *stubJobs, *stubSweeper) {
	generations := &stubGenerations{cost: 15}
	accounts := &stubAccounts{}
	jobs := &stubJobs{jobs: make(map[string]*domain.Job)}
	sweeper := &stubSweeper{}
	app := &App{
		Generations: generations,
		Accounts:    accounts,
		Jobs:        jobs,
		Sweeper:     sweeper,
		Cfg: &infra.Config{
			AdminToken:        "admin-secret",
			SignupCreditGrant: 200,
		},
		Logger: zerolog.Nop(),
	}
	return app, generations, accounts, jobs, sweeper
}

func authed(r *http.Request, accountID string) *http.Request {
	return r.WithContext(middleware.ContextWithAccountID(r.Context(), accountID))
}

func authedGet(path, accountID string) *http.Request {
	return authed(httptest.NewRequest(http.MethodGet, path, nil), accountID)
}

// newTestRouter mounts the routes that need URL params resolved.
func newTestRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/generations/{job_id}", app.GenerationsGet)
	return r
}

func TestGenerationsCreate(t *testing.T) {
	app, generations, accounts, _, _ := testApp()

	body, _ := json.Marshal(map[string]any{
		"job_type":  "background-changer",
		"prompt":    "studio backdrop",
		"image_url": "https://cdn.example.com/in.png",
	})
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/generations", bytes.NewReader(body)), "acct-1")
	rec := httptest.NewRecorder()
	app.GenerationsCreate(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || resp.Status != "processing" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ExternalJobID != "run-1" {
		t.Fatalf("external job id = %q", resp.ExternalJobID)
	}
	if resp.RemainingCredits != 200 {
		t.Fatalf("remaining credits = %d, want 200", resp.RemainingCredits)
	}
	if generations.submitted["acct-1"] != 1 {
		t.Fatalf("engine not invoked")
	}
	if _, ok := accounts.accounts["acct-1"]; !ok {
		t.Fatalf("account not provisioned on first touch")
	}
}

func TestGenerationsCreateRequiresAuth(t *testing.T) {
	app, generations, _, _, _ := testApp()
	req := httptest.NewRequest(http.MethodPost, "/v1/generations", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	app.GenerationsCreate(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(generations.submitted) != 0 {
		t.Fatalf("engine invoked without auth")
	}
}

func TestGenerationsCreateInsufficientCredits(t *testing.T) {
	app, generations, _, _, _ := testApp()
	generations.err = domain.ErrInsufficientCredits

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/generations", bytes.NewReader([]byte(`{"prompt":"x"}`))), "acct-1")
	rec := httptest.NewRecorder()
	app.GenerationsCreate(rec, req)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402, body %s", rec.Code, rec.Body.String())
	}
}

func TestGenerationsCreateUnsupportedType(t *testing.T) {
	app, generations, _, _, _ := testApp()
	generations.err = domain.ErrUnsupportedJobType

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/generations", bytes.NewReader([]byte(`{"job_type":"watercolor"}`))), "acct-1")
	rec := httptest.NewRecorder()
	app.GenerationsCreate(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerationsGetScopedToOwner(t *testing.T) {
	app, _, _, jobs, _ := testApp()
	jobs.jobs["job-1"] = &domain.Job{ID: "job-1", OwnerID: "acct-1", Status: domain.JobStatusCompleted, ArtifactURL: "http://localhost:8080/static/users/acct-1/outputs/run-1.png"}

	router := newTestRouter(app)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedGet("/v1/generations/job-1", "acct-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("owner fetch status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp generationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ArtifactURL == "" {
		t.Fatalf("artifact url missing: %+v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedGet("/v1/generations/job-1", "acct-2"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign fetch status = %d, want 404", rec.Code)
	}
}

func TestGenerationsList(t *testing.T) {
	app, _, _, jobs, _ := testApp()
	jobs.jobs["job-1"] = &domain.Job{ID: "job-1", OwnerID: "acct-1", Status: domain.JobStatusProcessing}
	jobs.jobs["job-2"] = &domain.Job{ID: "job-2", OwnerID: "acct-2", Status: domain.JobStatusProcessing}

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/generations", nil), "acct-1")
	rec := httptest.NewRecorder()
	app.GenerationsList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Items []generationResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].JobID != "job-1" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
}
