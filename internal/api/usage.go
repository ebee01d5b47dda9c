package api

import (
	"net/http"

	"github.com/ignite/dispatch/internal/pkg/httputil"
)

// GetUsage returns billing-period volume split by traffic type, billable
// units, and the projected cost.
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	mtd, err := h.usage.MonthToDate(r.Context(), requestTeamID(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, mtd)
}

// GetDailyUsage returns per-day counters for a date range. Dates are
// YYYY-MM-DD inclusive.
func (h *Handlers) GetDailyUsage(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	rows, err := h.usage.Daily(r.Context(), requestTeamID(r), from, to)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]interface{}{"data": rows})
}
