package handlers

import (
	"net/http"
	"time"

	"server/internal/domain"
	"server/internal/middleware"
)

type accountResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email,omitempty"`
	DisplayName   string    `json:"display_name,omitempty"`
	Country       string    `json:"country,omitempty"`
	CreditBalance int64     `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

// Me returns the caller's account, creating it with the signup credit grant
// on first touch.
func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}

	account := &domain.Account{
		ID:      accountID,
		Country: middleware.CountryFromContext(r.Context()),
	}
	account, err := a.Accounts.GetOrCreate(r.Context(), account, a.Cfg.SignupCreditGrant)
	if err != nil {
		a.Logger.Error().Err(err).Str("account_id", accountID).Msg("handlers: account provisioning failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to load account")
		return
	}

	a.json(w, http.StatusOK, accountResponse{
		ID:            account.ID,
		Email:         account.Email,
		DisplayName:   account.DisplayName,
		Country:       account.Country,
		CreditBalance: account.CreditBalance,
		CreatedAt:     account.CreatedAt,
	})
}
