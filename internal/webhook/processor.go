// Package webhook ingests asynchronous provider notifications: the SNS
// envelope unwrap, per-message dedupe, the delivery state machine update,
// suppression and usage side effects, and outbound fan-out to customer
// endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/httpretry"
	"github.com/ignite/dispatch/internal/pkg/logger"
	"github.com/ignite/dispatch/internal/ses"
)

// EmailStore is the slice of the email repository the processor needs.
type EmailStore interface {
	ByID(ctx context.Context, id string) (*domain.Email, error)
	ByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error)
	Transition(ctx context.Context, id string, next domain.EmailStatus) (bool, error)
	RecordEvent(ctx context.Context, ev *domain.EmailEvent) (bool, error)
	SetOpenedAt(ctx context.Context, id string, at time.Time) (bool, error)
	SetClickedAt(ctx context.Context, id string, at time.Time) (bool, error)
}

// Suppressor adds addresses to the team suppression list.
type Suppressor interface {
	Add(ctx context.Context, teamID int64, email string, reason domain.SuppressionReason, source string) error
}

// UsageSink receives per-event counter updates.
type UsageSink interface {
	RecordDelivery(ctx context.Context, e *domain.Email) error
	RecordHardBounce(ctx context.Context, e *domain.Email) error
	RecordSoftBounce(ctx context.Context, e *domain.Email) error
	RecordComplaint(ctx context.Context, e *domain.Email) error
	RecordOpen(ctx context.Context, e *domain.Email) error
	RecordClick(ctx context.Context, e *domain.Email) error
}

// ContactFlipper auto-unsubscribes contacts on bounces and complaints.
type ContactFlipper interface {
	SetSubscribed(ctx context.Context, id string, subscribed bool, reason *domain.UnsubscribeReason) error
}

// Processor applies one provider notification to the system.
type Processor struct {
	emails      EmailStore
	suppression Suppressor
	usage       UsageSink
	contacts    ContactFlipper
	forwarder   *Forwarder
	dedupe      Deduper
	client      httpretry.HTTPDoer
}

// NewProcessor wires the notification processor. A nil client gets a
// retrying default for the subscription handshake.
func NewProcessor(emails EmailStore, supp Suppressor, usage UsageSink,
	contacts ContactFlipper, forwarder *Forwarder, dedupe Deduper, client httpretry.HTTPDoer) *Processor {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 2)
	}
	return &Processor{
		emails:      emails,
		suppression: supp,
		usage:       usage,
		contacts:    contacts,
		forwarder:   forwarder,
		dedupe:      dedupe,
		client:      client,
	}
}

// Process handles one callback body. Errors are for the caller's log; the
// HTTP handler acknowledges regardless so the provider never redelivers
// a poison message forever.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	var env ses.SNSEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parse envelope: %w", err)
	}

	switch env.Type {
	case ses.EnvelopeSubscriptionConfirmation:
		return p.confirmSubscription(ctx, env.SubscribeURL)
	case ses.EnvelopeNotification:
	default:
		return fmt.Errorf("unknown envelope type %q", env.Type)
	}

	if env.MessageID != "" {
		seen, err := p.dedupe.Seen(ctx, env.MessageID)
		if err != nil {
			return err
		}
		if seen {
			logger.Debug("duplicate notification dropped", "sns_message_id", env.MessageID)
			return nil
		}
	}

	var n ses.Notification
	if err := json.Unmarshal([]byte(env.Message), &n); err != nil {
		return fmt.Errorf("parse notification: %w", err)
	}

	email, err := p.resolveEmail(ctx, &n)
	if err != nil {
		return err
	}

	return p.apply(ctx, email, &n, env.Message)
}

// confirmSubscription completes the SNS handshake by fetching the
// subscribe URL once.
func (p *Processor) confirmSubscription(ctx context.Context, subscribeURL string) error {
	if subscribeURL == "" {
		return fmt.Errorf("subscription confirmation without subscribe URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return fmt.Errorf("build confirmation request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}
	resp.Body.Close()
	logger.Info("sns subscription confirmed")
	return nil
}

// resolveEmail finds the email row a notification refers to: the id header
// stamped at send time first, the provider message id as fallback.
func (p *Processor) resolveEmail(ctx context.Context, n *ses.Notification) (*domain.Email, error) {
	if id := n.Mail.Header(ses.EmailIDHeader); id != "" {
		e, err := p.emails.ByID(ctx, id)
		if err == nil {
			return e, nil
		}
		logger.Warn("email id header did not resolve", "email_id", id)
	}
	if n.Mail.MessageID != "" {
		e, err := p.emails.ByProviderMessageID(ctx, n.Mail.MessageID)
		if err == nil {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no email for provider message %s", n.Mail.MessageID)
}

func (p *Processor) apply(ctx context.Context, e *domain.Email, n *ses.Notification, raw string) error {
	switch n.EventType {
	case ses.EventSend:
		return p.transition(ctx, e, domain.StatusSent, raw)
	case ses.EventDelivery:
		if err := p.transition(ctx, e, domain.StatusDelivered, raw); err != nil {
			return err
		}
		return p.usage.RecordDelivery(ctx, e)
	case ses.EventBounce:
		return p.applyBounce(ctx, e, n, raw)
	case ses.EventComplaint:
		return p.applyComplaint(ctx, e, n, raw)
	case ses.EventReject:
		return p.transition(ctx, e, domain.StatusRejected, raw)
	case ses.EventRenderingFailure:
		return p.transition(ctx, e, domain.StatusRenderingFailure, raw)
	case ses.EventDeliveryDelay:
		return p.transition(ctx, e, domain.StatusDeliveryDelayed, raw)
	case ses.EventOpen:
		return p.applyOpen(ctx, e, n, raw)
	case ses.EventClick:
		return p.applyClick(ctx, e, n, raw)
	case ses.EventSubscription:
		// Preference-change events carry no state transition.
		p.recordEvent(ctx, e.ID, domain.EmailStatus("SUBSCRIPTION"), raw)
		return nil
	default:
		return fmt.Errorf("unknown event type %q", n.EventType)
	}
}

// transition applies a guarded status update plus its event row, then
// forwards to customer endpoints. Illegal transitions are dropped quietly:
// provider events arrive out of order and late.
func (p *Processor) transition(ctx context.Context, e *domain.Email, next domain.EmailStatus, raw string) error {
	ok, err := p.emails.Transition(ctx, e.ID, next)
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", e.ID, next, err)
	}
	if !ok {
		logger.Debug("transition dropped",
			"email_id", e.ID,
			"from", string(e.Status),
			"to", string(next),
		)
		return nil
	}
	p.recordEvent(ctx, e.ID, next, raw)
	p.forwarder.Forward(ctx, e, next)
	return nil
}

func (p *Processor) applyBounce(ctx context.Context, e *domain.Email, n *ses.Notification, raw string) error {
	if err := p.transition(ctx, e, domain.StatusBounced, raw); err != nil {
		return err
	}

	hard := n.Bounce != nil && n.Bounce.BounceType == ses.BounceTypePermanent
	if !hard {
		return p.usage.RecordSoftBounce(ctx, e)
	}

	for _, rec := range n.Bounce.BouncedRecipients {
		if err := p.suppression.Add(ctx, e.TeamID, rec.EmailAddress, domain.ReasonHardBounce, e.ID); err != nil {
			logger.Error("suppress bounced recipient", "email_id", e.ID, "error", err.Error())
		}
	}
	p.flipContact(ctx, e, domain.UnsubscribedByBounce)
	return p.usage.RecordHardBounce(ctx, e)
}

func (p *Processor) applyComplaint(ctx context.Context, e *domain.Email, n *ses.Notification, raw string) error {
	if err := p.transition(ctx, e, domain.StatusComplained, raw); err != nil {
		return err
	}

	recipients := e.To
	if n.Complaint != nil && len(n.Complaint.ComplainedRecipients) > 0 {
		recipients = recipients[:0:0]
		for _, rec := range n.Complaint.ComplainedRecipients {
			recipients = append(recipients, rec.EmailAddress)
		}
	}
	for _, addr := range recipients {
		if err := p.suppression.Add(ctx, e.TeamID, addr, domain.ReasonComplaint, e.ID); err != nil {
			logger.Error("suppress complaining recipient", "email_id", e.ID, "error", err.Error())
		}
	}
	p.flipContact(ctx, e, domain.UnsubscribedByComplaint)
	return p.usage.RecordComplaint(ctx, e)
}

// applyOpen stamps the first open and counts it once; later opens only
// refresh nothing. The OPENED event row exists at most once per email.
func (p *Processor) applyOpen(ctx context.Context, e *domain.Email, n *ses.Notification, raw string) error {
	first, err := p.emails.SetOpenedAt(ctx, e.ID, eventTime(n))
	if err != nil {
		return fmt.Errorf("stamp open: %w", err)
	}
	if !first {
		return nil
	}
	p.recordEvent(ctx, e.ID, domain.StatusOpened, raw)
	p.forwarder.Forward(ctx, e, domain.StatusOpened)
	return p.usage.RecordOpen(ctx, e)
}

// applyClick counts every deduped click; only the first stamps ClickedAt
// and records the event row.
func (p *Processor) applyClick(ctx context.Context, e *domain.Email, n *ses.Notification, raw string) error {
	first, err := p.emails.SetClickedAt(ctx, e.ID, eventTime(n))
	if err != nil {
		return fmt.Errorf("stamp click: %w", err)
	}
	if first {
		p.recordEvent(ctx, e.ID, domain.StatusClicked, raw)
		p.forwarder.Forward(ctx, e, domain.StatusClicked)
	}
	return p.usage.RecordClick(ctx, e)
}

func (p *Processor) flipContact(ctx context.Context, e *domain.Email, reason domain.UnsubscribeReason) {
	if e.ContactID == nil {
		return
	}
	if err := p.contacts.SetSubscribed(ctx, *e.ContactID, false, &reason); err != nil {
		logger.Error("auto-unsubscribe contact",
			"contact_id", *e.ContactID,
			"reason", string(reason),
			"error", err.Error(),
		)
	}
}

func (p *Processor) recordEvent(ctx context.Context, emailID string, status domain.EmailStatus, raw string) {
	if _, err := p.emails.RecordEvent(ctx, &domain.EmailEvent{
		ID:        uuid.New().String(),
		EmailID:   emailID,
		Status:    status,
		Data:      raw,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		logger.Error("record event", "email_id", emailID, "status", string(status), "error", err.Error())
	}
}

func eventTime(n *ses.Notification) time.Time {
	switch {
	case n.Open != nil && !n.Open.Timestamp.IsZero():
		return n.Open.Timestamp
	case n.Click != nil && !n.Click.Timestamp.IsZero():
		return n.Click.Timestamp
	default:
		return time.Now().UTC()
	}
}
