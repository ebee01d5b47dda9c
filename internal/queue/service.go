package queue

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/logger"
)

// MaxBatchSize caps how many emails one batch enqueue may carry.
const MaxBatchSize = 100

// DomainReader resolves sending domains for from-address validation.
type DomainReader interface {
	// ByName returns the team's domain with that name, or nil when the
	// team owns no such domain.
	ByName(ctx context.Context, teamID int64, name string) (*domain.SendingDomain, error)
}

// EnqueueRequest is one send submission, already decoded from transport.
type EnqueueRequest struct {
	To          []string
	From        string
	CC          []string
	BCC         []string
	ReplyTo     []string
	Subject     string
	Text        string
	HTML        string
	TemplateID  string
	Variables   map[string]any
	Attachments []domain.Attachment
	ScheduledAt *time.Time
	CampaignID  string
	ContactID   string
	APIKeyID    string
}

// Service accepts, queries and cancels queued emails.
type Service struct {
	repo    Repository
	domains DomainReader
}

// NewService creates the queue service.
func NewService(repo Repository, domains DomainReader) *Service {
	return &Service{repo: repo, domains: domains}
}

// Enqueue validates a send request and persists it for dispatch. The email
// starts QUEUED, or SCHEDULED when a future ScheduledAt is given.
func (s *Service) Enqueue(ctx context.Context, teamID int64, req EnqueueRequest) (*domain.Email, error) {
	sd, err := s.validate(ctx, teamID, &req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := &domain.Email{
		ID:          uuid.New().String(),
		TeamID:      teamID,
		DomainID:    &sd.ID,
		To:          req.To,
		From:        req.From,
		CC:          req.CC,
		BCC:         req.BCC,
		ReplyTo:     req.ReplyTo,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		Variables:   req.Variables,
		Attachments: req.Attachments,
		Status:      domain.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.APIKeyID != "" {
		e.APIKeyID = &req.APIKeyID
	}
	if req.TemplateID != "" {
		e.TemplateID = &req.TemplateID
	}
	if req.CampaignID != "" {
		e.CampaignID = &req.CampaignID
	}
	if req.ContactID != "" {
		e.ContactID = &req.ContactID
	}
	if req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		t := req.ScheduledAt.UTC()
		e.ScheduledAt = &t
		e.Status = domain.StatusScheduled
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("enqueue email: %w", err)
	}

	logger.Info("email enqueued",
		"email_id", e.ID,
		"team_id", e.TeamID,
		"status", string(e.Status),
	)
	return e, nil
}

// BatchResult is the per-item outcome of EnqueueBatch.
type BatchResult struct {
	Email *domain.Email
	Err   error
}

// EnqueueBatch enqueues up to MaxBatchSize emails. Items are independent:
// one rejected email never blocks the rest.
func (s *Service) EnqueueBatch(ctx context.Context, teamID int64, reqs []EnqueueRequest) ([]BatchResult, error) {
	if len(reqs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		e, err := s.Enqueue(ctx, teamID, req)
		results[i] = BatchResult{Email: e, Err: err}
	}
	return results, nil
}

// Get returns an email with its recorded transition events.
func (s *Service) Get(ctx context.Context, teamID int64, id string) (*domain.Email, []domain.EmailEvent, error) {
	e, err := s.repo.Get(ctx, teamID, id)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.repo.Events(ctx, e.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	return e, events, nil
}

// Cancel aborts a not-yet-dispatched email. Emails past QUEUED/SCHEDULED
// return ErrAlreadySent.
func (s *Service) Cancel(ctx context.Context, teamID int64, id string) error {
	ok, err := s.repo.Cancel(ctx, teamID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadySent
	}

	if _, err := s.repo.RecordEvent(ctx, &domain.EmailEvent{
		ID:        uuid.New().String(),
		EmailID:   id,
		Status:    domain.StatusCancelled,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		logger.Warn("record cancel event", "email_id", id, "error", err.Error())
	}
	return nil
}

func (s *Service) validate(ctx context.Context, teamID int64, req *EnqueueRequest) (*domain.SendingDomain, error) {
	if len(req.To) == 0 {
		return nil, &ValidationError{Field: "to", Reason: "at least one recipient is required"}
	}
	for _, to := range req.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return nil, &ValidationError{Field: "to", Reason: fmt.Sprintf("%q is not a valid address", to)}
		}
	}
	for _, cc := range append(append([]string{}, req.CC...), req.BCC...) {
		if _, err := mail.ParseAddress(cc); err != nil {
			return nil, &ValidationError{Field: "cc", Reason: fmt.Sprintf("%q is not a valid address", cc)}
		}
	}

	addr, err := mail.ParseAddress(req.From)
	if err != nil {
		return nil, &ValidationError{Field: "from", Reason: "not a valid address"}
	}
	fromDomain := domainOf(addr.Address)

	if req.Subject == "" && req.TemplateID == "" {
		return nil, &ValidationError{Field: "subject", Reason: "subject is required unless a template is used"}
	}
	if req.Text == "" && req.HTML == "" && req.TemplateID == "" {
		return nil, &ValidationError{Field: "body", Reason: "text, html or template_id is required"}
	}
	if len(req.Attachments) > domain.MaxAttachments {
		return nil, &ValidationError{Field: "attachments", Reason: fmt.Sprintf("at most %d attachments", domain.MaxAttachments)}
	}
	for _, att := range req.Attachments {
		if att.Filename == "" {
			return nil, &ValidationError{Field: "attachments", Reason: "attachment filename is required"}
		}
	}

	sd, err := s.domains.ByName(ctx, teamID, fromDomain)
	if err != nil {
		return nil, fmt.Errorf("resolve domain: %w", err)
	}
	if sd == nil {
		return nil, &ValidationError{Field: "from", Reason: fmt.Sprintf("domain %s is not registered for this team", fromDomain)}
	}
	return sd, nil
}

func domainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
