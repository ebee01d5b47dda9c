package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/httpretry"
	"github.com/ignite/dispatch/internal/pkg/logger"
)

// ErrEndpointNotFound is returned for unknown webhook endpoints.
var ErrEndpointNotFound = errors.New("webhook endpoint not found")

// EndpointStore lists a team's registered webhook endpoints.
type EndpointStore interface {
	ListByTeam(ctx context.Context, teamID int64) ([]domain.WebhookEndpoint, error)
}

// Event is the payload forwarded to customer endpoints.
type Event struct {
	EmailID   string             `json:"email_id"`
	Status    domain.EmailStatus `json:"status"`
	To        []string           `json:"to"`
	From      string             `json:"from"`
	Subject   string             `json:"subject"`
	Timestamp time.Time          `json:"timestamp"`
}

// Forwarder pushes normalized delivery events to customer endpoints,
// fire-and-forget: delivery failures are logged, never retried past the
// HTTP client's own retry budget, and never block event processing.
type Forwarder struct {
	endpoints EndpointStore
	client    httpretry.HTTPDoer
	timeout   time.Duration
}

// NewForwarder creates a forwarder. A nil client gets a retrying default.
func NewForwarder(endpoints EndpointStore, client httpretry.HTTPDoer) *Forwarder {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 2)
	}
	return &Forwarder{endpoints: endpoints, client: client, timeout: 15 * time.Second}
}

// Forward fans the event out to every matching endpoint in the background.
func (f *Forwarder) Forward(ctx context.Context, e *domain.Email, status domain.EmailStatus) {
	endpoints, err := f.endpoints.ListByTeam(ctx, e.TeamID)
	if err != nil {
		logger.Error("list webhook endpoints", "team_id", e.TeamID, "error", err.Error())
		return
	}

	event := Event{
		EmailID:   e.ID,
		Status:    status,
		To:        e.To,
		From:      e.From,
		Subject:   e.Subject,
		Timestamp: time.Now().UTC(),
	}

	for _, ep := range endpoints {
		if !ep.Matches(status, e.DomainID) {
			continue
		}
		go f.deliver(ep, event)
	}
}

func (f *Forwarder) deliver(ep domain.WebhookEndpoint, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	body, err := json.Marshal(event)
	if err != nil {
		logger.Error("marshal webhook event", "endpoint_id", ep.ID, "error", err.Error())
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		logger.Error("build webhook request", "endpoint_id", ep.ID, "error", err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		logger.Warn("webhook delivery failed",
			"endpoint_id", ep.ID,
			"status", string(event.Status),
			"error", err.Error(),
		)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		logger.Warn("webhook endpoint rejected event",
			"endpoint_id", ep.ID,
			"http_status", fmt.Sprintf("%d", resp.StatusCode),
		)
	}
}
