package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/httputil"
	"github.com/ignite/dispatch/internal/webhook"
)

type webhookEndpointRequest struct {
	URL        string   `json:"url"`
	DomainID   *int64   `json:"domain_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
}

func (req *webhookEndpointRequest) validate(w http.ResponseWriter) bool {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		httputil.BadRequest(w, "url must be an absolute http(s) URL")
		return false
	}
	for _, t := range req.EventTypes {
		if !domain.ValidEmailStatus(domain.EmailStatus(t)) {
			httputil.BadRequest(w, "unknown event type: "+t)
			return false
		}
	}
	return true
}

// CreateWebhookEndpoint registers an outbound webhook subscription.
func (h *Handlers) CreateWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	var req webhookEndpointRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if !req.validate(w) {
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ep := &domain.WebhookEndpoint{
		ID:         uuid.New().String(),
		TeamID:     requestTeamID(r),
		URL:        req.URL,
		DomainID:   req.DomainID,
		EventTypes: req.EventTypes,
		Enabled:    enabled,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.endpoints.Create(r.Context(), ep); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, ep)
}

// ListWebhookEndpoints returns the team's webhook subscriptions.
func (h *Handlers) ListWebhookEndpoints(w http.ResponseWriter, r *http.Request) {
	list, err := h.endpoints.ListByTeam(r.Context(), requestTeamID(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"data": list})
}

// GetWebhookEndpoint returns one webhook subscription.
func (h *Handlers) GetWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := h.endpoints.Get(r.Context(), requestTeamID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeEndpointError(w, err)
		return
	}
	httputil.OK(w, ep)
}

// UpdateWebhookEndpoint replaces a subscription's url, filters and enabled
// flag.
func (h *Handlers) UpdateWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	var req webhookEndpointRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if !req.validate(w) {
		return
	}

	ep, err := h.endpoints.Get(r.Context(), requestTeamID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeEndpointError(w, err)
		return
	}

	ep.URL = req.URL
	ep.DomainID = req.DomainID
	ep.EventTypes = req.EventTypes
	if req.Enabled != nil {
		ep.Enabled = *req.Enabled
	}

	if err := h.endpoints.Update(r.Context(), ep); err != nil {
		writeEndpointError(w, err)
		return
	}
	httputil.OK(w, ep)
}

// DeleteWebhookEndpoint removes a subscription.
func (h *Handlers) DeleteWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.endpoints.Delete(r.Context(), requestTeamID(r), chi.URLParam(r, "id")); err != nil {
		writeEndpointError(w, err)
		return
	}
	httputil.NoContent(w)
}

func writeEndpointError(w http.ResponseWriter, err error) {
	if errors.Is(err, webhook.ErrEndpointNotFound) {
		httputil.NotFound(w, "webhook endpoint not found")
		return
	}
	httputil.InternalError(w, err)
}
