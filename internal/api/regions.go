package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/httputil"
)

// ListRegions returns the configured provider regions.
func (h *Handlers) ListRegions(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{"data": h.registry.ListRegions()})
}

// UpsertRegion creates or replaces one region's dispatch settings: the
// send-rate budget, the transactional quota split and the four tracking
// configuration sets.
func (h *Handlers) UpsertRegion(w http.ResponseWriter, r *http.Request) {
	var setting domain.RegionSetting
	if !httputil.Decode(w, r, &setting) {
		return
	}
	setting.Region = chi.URLParam(r, "region")

	if setting.SendRate <= 0 {
		httputil.BadRequest(w, "send_rate must be positive")
		return
	}
	if setting.TransactionalQuotaPercent < 0 || setting.TransactionalQuotaPercent > 100 {
		httputil.BadRequest(w, "transactional_quota_percent must be in [0,100]")
		return
	}

	if err := h.registry.UpsertSetting(r.Context(), &setting); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, setting)
}
