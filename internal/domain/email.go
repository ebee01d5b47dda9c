package domain

import "time"

// EmailStatus is the per-email delivery state machine state.
type EmailStatus string

const (
	StatusQueued           EmailStatus = "QUEUED"
	StatusScheduled        EmailStatus = "SCHEDULED"
	StatusSending          EmailStatus = "SENDING"
	StatusSent             EmailStatus = "SENT"
	StatusDelivered        EmailStatus = "DELIVERED"
	StatusDeliveryDelayed  EmailStatus = "DELIVERY_DELAYED"
	StatusBounced          EmailStatus = "BOUNCED"
	StatusRejected         EmailStatus = "REJECTED"
	StatusComplained       EmailStatus = "COMPLAINED"
	StatusRenderingFailure EmailStatus = "RENDERING_FAILURE"
	StatusCancelled        EmailStatus = "CANCELLED"
	StatusFailed           EmailStatus = "FAILED"

	// StatusOpened and StatusClicked are event annotations layered on top
	// of DELIVERED. They never become the email's status; they exist so
	// events and counters share one vocabulary.
	StatusOpened  EmailStatus = "OPENED"
	StatusClicked EmailStatus = "CLICKED"
)

// legalPredecessors maps each status to the set of statuses it may be
// entered from. A transition whose current status is not in the set is
// illegal and must be dropped (never applied, never fatal).
var legalPredecessors = map[EmailStatus][]EmailStatus{
	StatusScheduled:        {StatusQueued},
	StatusSending:          {StatusQueued, StatusScheduled},
	StatusSent:             {StatusSending},
	StatusDelivered:        {StatusSent, StatusDeliveryDelayed},
	StatusDeliveryDelayed:  {StatusSent, StatusDeliveryDelayed},
	StatusBounced:          {StatusSent, StatusDeliveryDelayed},
	StatusRejected:         {StatusSending, StatusSent},
	StatusComplained:       {StatusSent, StatusDelivered},
	StatusRenderingFailure: {StatusSending, StatusSent},
	StatusCancelled:        {StatusQueued, StatusScheduled},
	StatusFailed:           {StatusQueued, StatusScheduled, StatusSending},
}

// CanTransition reports whether moving from to next is a legal edge of the
// delivery state machine. Self-transitions are legal only for
// DELIVERY_DELAYED (the provider may re-notify a delay).
func CanTransition(from, next EmailStatus) bool {
	if from == next {
		return next == StatusDeliveryDelayed
	}
	for _, p := range legalPredecessors[next] {
		if p == from {
			return true
		}
	}
	return false
}

// LegalPredecessors returns the statuses from which next may be entered.
// The returned slice must not be mutated.
func LegalPredecessors(next EmailStatus) []EmailStatus {
	return legalPredecessors[next]
}

// ValidEmailStatus reports whether s is a known status value, including
// the OPENED and CLICKED event annotations.
func ValidEmailStatus(s EmailStatus) bool {
	switch s {
	case StatusQueued, StatusScheduled, StatusSending, StatusSent,
		StatusDelivered, StatusDeliveryDelayed, StatusBounced, StatusRejected,
		StatusComplained, StatusRenderingFailure, StatusCancelled, StatusFailed,
		StatusOpened, StatusClicked:
		return true
	}
	return false
}

// IsTerminal reports whether a status admits no further outbound work.
// DELIVERED is terminal for dispatch but still accepts OPENED/CLICKED
// annotations and a COMPLAINED transition from the webhook side.
func (s EmailStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusBounced, StatusRejected, StatusComplained,
		StatusRenderingFailure, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// TrafficType distinguishes marketing from transactional traffic for
// quota splits and billing-unit conversion.
type TrafficType string

const (
	TrafficMarketing     TrafficType = "MARKETING"
	TrafficTransactional TrafficType = "TRANSACTIONAL"
)

// Attachment is a file attached to an outbound email, content base64-encoded.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// MaxAttachments caps how many attachments a single send may carry.
const MaxAttachments = 10

// Email is one row per send attempt.
type Email struct {
	ID          string       `json:"id" db:"id"`
	TeamID      int64        `json:"team_id" db:"team_id"`
	APIKeyID    *string      `json:"api_key_id,omitempty" db:"api_key_id"`
	DomainID    *int64       `json:"domain_id,omitempty" db:"domain_id"`
	CampaignID  *string      `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID   *string      `json:"contact_id,omitempty" db:"contact_id"`
	TemplateID  *string      `json:"template_id,omitempty" db:"template_id"`
	// Variables feed template rendering at dispatch time.
	Variables   map[string]any `json:"variables,omitempty" db:"variables"`
	To          []string     `json:"to" db:"to"`
	From        string       `json:"from" db:"from"`
	CC          []string     `json:"cc,omitempty" db:"cc"`
	BCC         []string     `json:"bcc,omitempty" db:"bcc"`
	ReplyTo     []string     `json:"reply_to,omitempty" db:"reply_to"`
	Subject     string       `json:"subject" db:"subject"`
	Text        string       `json:"text,omitempty" db:"text"`
	HTML        string       `json:"html,omitempty" db:"html"`
	Attachments []Attachment `json:"attachments,omitempty" db:"attachments"`
	Status      EmailStatus  `json:"status" db:"status"`
	// ProviderMessageID links the email to asynchronous provider events.
	ProviderMessageID string     `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	OpenedAt          *time.Time `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt         *time.Time `json:"clicked_at,omitempty" db:"clicked_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Recipients returns every address the send will reach, To plus CC and
// BCC, in that order.
func (e *Email) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.CC)+len(e.BCC))
	out = append(out, e.To...)
	out = append(out, e.CC...)
	out = append(out, e.BCC...)
	return out
}

// TrafficType derives the billing traffic class: campaign sends are
// marketing, everything else is transactional.
func (e *Email) TrafficType() TrafficType {
	if e.CampaignID != nil && *e.CampaignID != "" {
		return TrafficMarketing
	}
	return TrafficTransactional
}

// EmailEvent records one state-machine transition with the raw provider
// payload that caused it. The (EmailID, Status) pair is unique, which is
// what makes at-least-once webhook delivery idempotent.
type EmailEvent struct {
	ID        string      `json:"id" db:"id"`
	EmailID   string      `json:"email_id" db:"email_id"`
	Status    EmailStatus `json:"status" db:"status"`
	Data      string      `json:"data,omitempty" db:"data"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
