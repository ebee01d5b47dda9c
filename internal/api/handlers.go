// Package api exposes the dispatch platform over HTTP: the send API,
// domain and suppression management, usage reporting, webhook endpoint
// administration, the provider event callback, and the public unsubscribe
// surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/domains"
	"github.com/ignite/dispatch/internal/pkg/httputil"
	"github.com/ignite/dispatch/internal/queue"
	"github.com/ignite/dispatch/internal/region"
	"github.com/ignite/dispatch/internal/suppression"
	"github.com/ignite/dispatch/internal/usage"
)

// EmailService accepts, queries and cancels send requests.
type EmailService interface {
	Enqueue(ctx context.Context, teamID int64, req queue.EnqueueRequest) (*domain.Email, error)
	EnqueueBatch(ctx context.Context, teamID int64, reqs []queue.EnqueueRequest) ([]queue.BatchResult, error)
	Get(ctx context.Context, teamID int64, id string) (*domain.Email, []domain.EmailEvent, error)
	Cancel(ctx context.Context, teamID int64, id string) error
}

// DomainService manages sending domains.
type DomainService interface {
	Create(ctx context.Context, teamID int64, name, regionCode string) (*domain.SendingDomain, error)
	Get(ctx context.Context, teamID, id int64) (*domain.SendingDomain, error)
	List(ctx context.Context, teamID int64) ([]domain.SendingDomain, error)
	Records(d *domain.SendingDomain) []domains.DNSRecord
	Verify(ctx context.Context, teamID, id int64) (*domain.SendingDomain, error)
	UpdateTracking(ctx context.Context, teamID, id int64, clickTracking, openTracking bool) error
	Delete(ctx context.Context, teamID, id int64) error
}

// SuppressionService manages the team suppression list.
type SuppressionService interface {
	Add(ctx context.Context, teamID int64, email string, reason domain.SuppressionReason, source string) error
	Remove(ctx context.Context, teamID int64, email string) error
	BulkAdd(ctx context.Context, teamID int64, entries []suppression.BulkEntry) ([]suppression.BulkResult, error)
	List(ctx context.Context, teamID int64, filter suppression.ListFilter) ([]domain.Suppression, int, error)
	Stats(ctx context.Context, teamID int64) (map[domain.SuppressionReason]int, error)
}

// UsageService reports send volume, billing units and reputation.
type UsageService interface {
	MonthToDate(ctx context.Context, teamID int64) (*usage.MonthToDate, error)
	Daily(ctx context.Context, teamID int64, from, to string) ([]domain.DailyUsage, error)
	DomainReputation(ctx context.Context, teamID, domainID int64) (*usage.Reputation, error)
}

// UnsubscribeService serves the signed one-click unsubscribe flow.
type UnsubscribeService interface {
	Verify(contactID, campaignID, hash string) bool
	Unsubscribe(ctx context.Context, contactID, campaignID, hash string) error
	Resubscribe(ctx context.Context, contactID, campaignID, hash string) error
}

// EndpointStore is the durable store for customer webhook endpoints.
type EndpointStore interface {
	Create(ctx context.Context, w *domain.WebhookEndpoint) error
	Get(ctx context.Context, teamID int64, id string) (*domain.WebhookEndpoint, error)
	ListByTeam(ctx context.Context, teamID int64) ([]domain.WebhookEndpoint, error)
	Update(ctx context.Context, w *domain.WebhookEndpoint) error
	Delete(ctx context.Context, teamID int64, id string) error
}

// CallbackProcessor consumes raw provider event payloads.
type CallbackProcessor interface {
	Process(ctx context.Context, body []byte) error
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	emails       EmailService
	domains      DomainService
	suppressions SuppressionService
	usage        UsageService
	unsub        UnsubscribeService
	endpoints    EndpointStore
	processor    CallbackProcessor
	registry     *region.Registry
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(emails EmailService, domainSvc DomainService, supp SuppressionService,
	usageSvc UsageService, unsub UnsubscribeService, endpoints EndpointStore,
	processor CallbackProcessor, registry *region.Registry) *Handlers {
	return &Handlers{
		emails:       emails,
		domains:      domainSvc,
		suppressions: supp,
		usage:        usageSvc,
		unsub:        unsub,
		endpoints:    endpoints,
		processor:    processor,
		registry:     registry,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
