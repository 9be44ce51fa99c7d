package handler

import (
	"net/http"

	"github.com/mbecker/billminder/internal/config"
)

// Config returns the public configuration descriptor the SPA reads at
// startup to decide which surfaces to render.
func Config(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cfg.Public())
	}
}
