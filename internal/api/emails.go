package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/httputil"
	"github.com/ignite/dispatch/internal/queue"
)

// sendEmailRequest is the wire shape of a send submission.
type sendEmailRequest struct {
	To          []string            `json:"to"`
	From        string              `json:"from"`
	CC          []string            `json:"cc,omitempty"`
	BCC         []string            `json:"bcc,omitempty"`
	ReplyTo     []string            `json:"reply_to,omitempty"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text,omitempty"`
	HTML        string              `json:"html,omitempty"`
	TemplateID  string              `json:"template_id,omitempty"`
	Variables   map[string]any      `json:"variables,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"`
	CampaignID  string              `json:"campaign_id,omitempty"`
	ContactID   string              `json:"contact_id,omitempty"`
}

func (req *sendEmailRequest) toEnqueue(apiKeyID string) queue.EnqueueRequest {
	return queue.EnqueueRequest{
		To:          req.To,
		From:        req.From,
		CC:          req.CC,
		BCC:         req.BCC,
		ReplyTo:     req.ReplyTo,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		TemplateID:  req.TemplateID,
		Variables:   req.Variables,
		Attachments: req.Attachments,
		ScheduledAt: req.ScheduledAt,
		CampaignID:  req.CampaignID,
		ContactID:   req.ContactID,
		APIKeyID:    apiKeyID,
	}
}

// SendEmail accepts one email for dispatch.
func (h *Handlers) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	key := requestKey(r)
	email, err := h.emails.Enqueue(r.Context(), key.TeamID, req.toEnqueue(key.ID))
	if err != nil {
		writeQueueError(w, err)
		return
	}

	httputil.Created(w, map[string]interface{}{
		"id":     email.ID,
		"status": email.Status,
	})
}

// SendBatch accepts up to queue.MaxBatchSize emails in one call. Items are
// independent; the response carries one result per item in order.
func (h *Handlers) SendBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []sendEmailRequest
	if !httputil.Decode(w, r, &reqs) {
		return
	}

	key := requestKey(r)
	enq := make([]queue.EnqueueRequest, len(reqs))
	for i := range reqs {
		enq[i] = reqs[i].toEnqueue(key.ID)
	}

	results, err := h.emails.EnqueueBatch(r.Context(), key.TeamID, enq)
	if err != nil {
		writeQueueError(w, err)
		return
	}

	type itemResult struct {
		ID     string             `json:"id,omitempty"`
		Status domain.EmailStatus `json:"status,omitempty"`
		Error  string             `json:"error,omitempty"`
	}
	out := make([]itemResult, len(results))
	for i, res := range results {
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}
		out[i].ID = res.Email.ID
		out[i].Status = res.Email.Status
	}

	httputil.OK(w, map[string]interface{}{"data": out})
}

// GetEmail returns an email with its full event history.
func (h *Handlers) GetEmail(w http.ResponseWriter, r *http.Request) {
	email, events, err := h.emails.Get(r.Context(), requestTeamID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeQueueError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"email":  email,
		"events": events,
	})
}

// CancelEmail cancels a queued or scheduled email. Emails already handed
// to the provider answer 409.
func (h *Handlers) CancelEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.emails.Cancel(r.Context(), requestTeamID(r), id); err != nil {
		writeQueueError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"id":     id,
		"status": domain.StatusCancelled,
	})
}

func writeQueueError(w http.ResponseWriter, err error) {
	var (
		validation  *queue.ValidationError
		notVerified *queue.DomainNotVerifiedError
		quota       *queue.QuotaDeniedError
		suppressed  *queue.SuppressedError
	)
	switch {
	case errors.As(err, &validation):
		httputil.ErrorCode(w, http.StatusBadRequest, httputil.CodeValidation,
			validation.Error(), map[string]string{"field": validation.Field})
	case errors.As(err, &notVerified):
		httputil.ErrorCode(w, http.StatusForbidden, httputil.CodeDomainNotVerified,
			notVerified.Error(), nil)
	case errors.As(err, &quota):
		httputil.ErrorCode(w, http.StatusForbidden, httputil.CodeQuotaDenied,
			quota.Error(), nil)
	case errors.As(err, &suppressed):
		httputil.ErrorCode(w, http.StatusBadRequest, httputil.CodeSuppressed,
			suppressed.Error(), nil)
	case errors.Is(err, queue.ErrNotFound):
		httputil.NotFound(w, "email not found")
	case errors.Is(err, queue.ErrAlreadySent):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrBatchTooLarge):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
