package handlers

import (
	"crypto/subtle"
	"net/http"
)

// AdminSweep runs one recovery sweep for stale processing jobs. Guarded by a
// static admin token, not by user JWTs.
func (a *App) AdminSweep(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Admin-Token")
	if a.Cfg.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.Cfg.AdminToken)) != 1 {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "invalid admin token")
		return
	}

	summary, err := a.Sweeper.Run(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: sweep failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "sweep failed")
		return
	}
	a.json(w, http.StatusOK, summary)
}
