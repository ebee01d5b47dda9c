package domain

import "time"

// WebhookEndpoint is a customer-facing outbound webhook subscription. The
// pipeline forwards normalized delivery events to matching endpoints on a
// best-effort, fire-and-forget basis.
type WebhookEndpoint struct {
	ID       string `json:"id" db:"id"`
	TeamID   int64  `json:"team_id" db:"team_id"`
	URL      string `json:"url" db:"url"`
	DomainID *int64 `json:"domain_id,omitempty" db:"domain_id"`
	// EventTypes holds the subscribed statuses, e.g. DELIVERED, BOUNCED.
	EventTypes []string  `json:"event_types" db:"event_types"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Matches reports whether an event for the given status and domain should
// be forwarded to this endpoint.
func (w *WebhookEndpoint) Matches(status EmailStatus, domainID *int64) bool {
	if !w.Enabled {
		return false
	}
	if w.DomainID != nil {
		if domainID == nil || *domainID != *w.DomainID {
			return false
		}
	}
	if len(w.EventTypes) == 0 {
		return true
	}
	for _, t := range w.EventTypes {
		if t == string(status) {
			return true
		}
	}
	return false
}
