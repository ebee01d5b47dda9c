package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/dispatch/internal/domains"
	"github.com/ignite/dispatch/internal/pkg/httputil"
	"github.com/ignite/dispatch/internal/region"
)

// CreateDomain registers a sending domain in a provider region and returns
// the DNS records the customer must publish.
func (h *Handlers) CreateDomain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Region string `json:"region"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	d, err := h.domains.Create(r.Context(), requestTeamID(r), req.Name, req.Region)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.Created(w, map[string]interface{}{
		"domain":  d,
		"records": h.domains.Records(d),
	})
}

// ListDomains returns the team's sending domains.
func (h *Handlers) ListDomains(w http.ResponseWriter, r *http.Request) {
	list, err := h.domains.List(r.Context(), requestTeamID(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"data": list})
}

// GetDomain returns one domain with its DNS records.
func (h *Handlers) GetDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := domainID(w, r)
	if !ok {
		return
	}

	d, err := h.domains.Get(r.Context(), requestTeamID(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"domain":  d,
		"records": h.domains.Records(d),
	})
}

// VerifyDomain polls the provider for DNS verification progress.
func (h *Handlers) VerifyDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := domainID(w, r)
	if !ok {
		return
	}

	d, err := h.domains.Verify(r.Context(), requestTeamID(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.OK(w, d)
}

// UpdateDomainTracking toggles open and click tracking for a domain.
func (h *Handlers) UpdateDomainTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := domainID(w, r)
	if !ok {
		return
	}

	var req struct {
		ClickTracking bool `json:"click_tracking"`
		OpenTracking  bool `json:"open_tracking"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	if err := h.domains.UpdateTracking(r.Context(), requestTeamID(r), id, req.ClickTracking, req.OpenTracking); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.NoContent(w)
}

// DeleteDomain removes a sending domain and its provider identity.
func (h *Handlers) DeleteDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := domainID(w, r)
	if !ok {
		return
	}

	if err := h.domains.Delete(r.Context(), requestTeamID(r), id); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.NoContent(w)
}

// GetDomainReputation reports lifetime bounce and complaint rates with the
// derived health level.
func (h *Handlers) GetDomainReputation(w http.ResponseWriter, r *http.Request) {
	id, ok := domainID(w, r)
	if !ok {
		return
	}

	rep, err := h.usage.DomainReputation(r.Context(), requestTeamID(r), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rep)
}

func domainID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid domain id")
		return 0, false
	}
	return id, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domains.ErrNotFound):
		httputil.NotFound(w, "domain not found")
	case errors.Is(err, domains.ErrBadName), errors.Is(err, region.ErrUnknownRegion):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, domains.ErrDuplicate):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domains.ErrPlanLimit):
		httputil.Error(w, http.StatusForbidden, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
