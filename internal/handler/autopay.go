package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mbecker/billminder/internal/autopay"
)

// AutopayHandler triggers the sweep on demand; the same sweep also runs
// on a background ticker.
type AutopayHandler struct {
	processor *autopay.Processor
	logger    *slog.Logger
}

func NewAutopayHandler(p *autopay.Processor, logger *slog.Logger) *AutopayHandler {
	return &AutopayHandler{processor: p, logger: logger}
}

func (h *AutopayHandler) Process(w http.ResponseWriter, r *http.Request) {
	n, err := h.processor.RunOnce(time.Now())
	if err != nil {
		h.logger.Error("process auto-payments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process auto-payments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": n})
}
