package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/httputil"
	"github.com/ignite/dispatch/internal/suppression"
)

// ListSuppressions returns a page of the team's suppression list.
// Supports reason and search filters plus limit/offset pagination.
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := suppression.ListFilter{
		Search: q.Get("search"),
		Reason: domain.SuppressionReason(q.Get("reason")),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	entries, total, err := h.suppressions.List(r.Context(), requestTeamID(r), filter)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"data":  entries,
		"total": total,
	})
}

// AddSuppression puts one address on the suppression list.
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string                   `json:"email"`
		Reason domain.SuppressionReason `json:"reason"`
		Source string                   `json:"source,omitempty"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = domain.ReasonManual
	}
	if req.Source == "" {
		req.Source = "api"
	}

	if err := h.suppressions.Add(r.Context(), requestTeamID(r), req.Email, req.Reason, req.Source); err != nil {
		writeSuppressionError(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{"email": domain.NormalizeEmail(req.Email)})
}

// BulkAddSuppressions adds up to suppression.MaxBulkAdd entries in one
// call and reports per-item outcomes.
func (h *Handlers) BulkAddSuppressions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []suppression.BulkEntry `json:"entries"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	results, err := h.suppressions.BulkAdd(r.Context(), requestTeamID(r), req.Entries)
	if err != nil {
		writeSuppressionError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"data": results})
}

// RemoveSuppression takes an address off the list. Removing an address
// that is not listed succeeds.
func (h *Handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if err := h.suppressions.Remove(r.Context(), requestTeamID(r), email); err != nil {
		writeSuppressionError(w, err)
		return
	}
	httputil.NoContent(w)
}

// SuppressionStats returns entry counts per reason.
func (h *Handlers) SuppressionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.suppressions.Stats(r.Context(), requestTeamID(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

func writeSuppressionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, suppression.ErrEmailRequired),
		errors.Is(err, suppression.ErrBadReason),
		errors.Is(err, suppression.ErrBatchTooLarge):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
