package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/limiter"
	"github.com/ignite/dispatch/internal/pkg/logger"
	"github.com/ignite/dispatch/internal/region"
	"github.com/ignite/dispatch/internal/ses"
)

// DomainResolver loads sending domains by id for dispatch.
type DomainResolver interface {
	ByID(ctx context.Context, id int64) (*domain.SendingDomain, error)
}

// SuppressionChecker answers per-recipient block checks.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, teamID int64, email string) (bool, error)
}

// RateReserver allocates send tokens and enforces plan quotas.
type RateReserver interface {
	Reserve(ctx context.Context, regionCode string, traffic domain.TrafficType, teamID int64) (limiter.Reservation, error)
}

// Sender hands one email to the provider and returns its message id.
type Sender interface {
	Send(ctx context.Context, regionCode string, req ses.SendRequest) (string, error)
}

// UsageRecorder increments the sent counter for billing.
type UsageRecorder interface {
	RecordSent(ctx context.Context, e *domain.Email) error
}

// UnsubscribeHeaderer builds List-Unsubscribe headers for campaign mail.
type UnsubscribeHeaderer interface {
	Headers(contactID, campaignID string) map[string]string
}

// WorkerConfig tunes the dispatch loop.
type WorkerConfig struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	// RequeueDelay spaces retries after transient provider errors.
	RequeueDelay time.Duration
	// MaxSendRetries bounds retries against provider rate rejections
	// inside a single dispatch pass; past it the email requeues.
	MaxSendRetries int
}

// Worker claims due emails and drives them through suppression, quota,
// rendering and the provider send.
type Worker struct {
	cfg         WorkerConfig
	repo        Repository
	renderer    *Renderer
	domains     DomainResolver
	suppression SuppressionChecker
	limiter     RateReserver
	registry    *region.Registry
	sender      Sender
	usage       UsageRecorder
	unsubscribe UnsubscribeHeaderer

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWorker wires the dispatch worker. Zero config fields get defaults.
func NewWorker(cfg WorkerConfig, repo Repository, renderer *Renderer, domains DomainResolver,
	supp SuppressionChecker, lim RateReserver, registry *region.Registry,
	sender Sender, usage UsageRecorder, unsub UnsubscribeHeaderer) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = time.Minute
	}
	if cfg.MaxSendRetries <= 0 {
		cfg.MaxSendRetries = 3
	}
	return &Worker{
		cfg:         cfg,
		repo:        repo,
		renderer:    renderer,
		domains:     domains,
		suppression: supp,
		limiter:     lim,
		registry:    registry,
		sender:      sender,
		usage:       usage,
		unsubscribe: unsub,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the claim loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.mu.Unlock()

	logger.Info("dispatch worker starting",
		"concurrency", w.cfg.Concurrency,
		"batch_size", w.cfg.BatchSize,
	)

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop halts claiming and waits for in-flight sends.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	logger.Info("dispatch worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	emails, err := w.repo.Claim(ctx, w.cfg.BatchSize)
	if err != nil {
		logger.Error("claim batch", "error", err.Error())
		return
	}
	if len(emails) == 0 {
		return
	}

	jobs := make(chan *domain.Email)
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				w.dispatch(ctx, e)
			}
		}()
	}
	for _, e := range emails {
		jobs <- e
	}
	close(jobs)
	wg.Wait()
}

// dispatch drives one claimed email to SENT or a terminal failure. The
// email arrives in SENDING state.
func (w *Worker) dispatch(ctx context.Context, e *domain.Email) {
	sd, err := w.resolveDomain(ctx, e)
	if err != nil {
		w.fail(ctx, e, err)
		return
	}

	for _, rcpt := range e.Recipients() {
		blocked, err := w.suppression.IsSuppressed(ctx, e.TeamID, rcpt)
		if err != nil {
			logger.Error("suppression check", "email_id", e.ID, "error", err.Error())
			w.requeue(ctx, e, w.cfg.RequeueDelay)
			return
		}
		if blocked {
			w.fail(ctx, e, &SuppressedError{Email: rcpt})
			return
		}
	}

	res, err := w.limiter.Reserve(ctx, sd.Region, e.TrafficType(), e.TeamID)
	if err != nil {
		logger.Error("reserve send token", "email_id", e.ID, "error", err.Error())
		w.requeue(ctx, e, w.cfg.RequeueDelay)
		return
	}
	switch res.Outcome {
	case limiter.Denied:
		w.fail(ctx, e, &QuotaDeniedError{Reason: res.LimitReason, Limit: res.Limit})
		return
	case limiter.Deferred:
		w.requeue(ctx, e, res.RetryAfter)
		return
	}

	if err := w.renderer.Render(ctx, e); err != nil {
		w.renderingFailure(ctx, e, err)
		return
	}

	configSet, err := w.registry.ResolveConfigSet(sd.Region, sd.ClickTracking, sd.OpenTracking)
	if err != nil {
		w.fail(ctx, e, err)
		return
	}

	req := ses.SendRequest{
		EmailID:          e.ID,
		From:             e.From,
		To:               e.To,
		CC:               e.CC,
		BCC:              e.BCC,
		ReplyTo:          e.ReplyTo,
		Subject:          e.Subject,
		Text:             e.Text,
		HTML:             e.HTML,
		Attachments:      e.Attachments,
		ConfigurationSet: configSet,
	}
	if e.ContactID != nil && e.CampaignID != nil {
		req.Headers = w.unsubscribe.Headers(*e.ContactID, *e.CampaignID)
	}

	messageID, err := w.sendWithRetry(ctx, sd.Region, req)
	if err != nil {
		var perm *ses.PermanentError
		if errors.As(err, &perm) {
			w.fail(ctx, e, err)
			return
		}
		logger.Warn("provider send deferred",
			"email_id", e.ID,
			"error", err.Error(),
		)
		w.requeue(ctx, e, w.cfg.RequeueDelay)
		return
	}

	if err := w.repo.MarkSent(ctx, e.ID, messageID); err != nil {
		logger.Error("mark sent", "email_id", e.ID, "error", err.Error())
		return
	}
	w.recordEvent(ctx, e.ID, domain.StatusSent, map[string]any{"provider_message_id": messageID})

	if err := w.usage.RecordSent(ctx, e); err != nil {
		logger.Error("record sent usage", "email_id", e.ID, "error", err.Error())
	}
}

func (w *Worker) resolveDomain(ctx context.Context, e *domain.Email) (*domain.SendingDomain, error) {
	if e.DomainID == nil {
		return nil, &ValidationError{Field: "from", Reason: "email has no sending domain"}
	}
	sd, err := w.domains.ByID(ctx, *e.DomainID)
	if err != nil {
		return nil, fmt.Errorf("load domain %d: %w", *e.DomainID, err)
	}
	if sd.Status != domain.DomainSuccess {
		return nil, &DomainNotVerifiedError{Domain: sd.Name, Status: sd.Status}
	}
	return sd, nil
}

// sendWithRetry retries only account-level throttles, with a short linear
// backoff. Everything else surfaces to the caller for classification.
func (w *Worker) sendWithRetry(ctx context.Context, regionCode string, req ses.SendRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxSendRetries; attempt++ {
		messageID, err := w.sender.Send(ctx, regionCode, req)
		if err == nil {
			return messageID, nil
		}
		if !errors.Is(err, ses.ErrThrottled) {
			return "", err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	return "", &ses.TransientError{Err: lastErr}
}

func (w *Worker) requeue(ctx context.Context, e *domain.Email, delay time.Duration) {
	if err := w.repo.Requeue(ctx, e.ID, time.Now().UTC().Add(delay)); err != nil {
		logger.Error("requeue email", "email_id", e.ID, "error", err.Error())
	}
}

func (w *Worker) renderingFailure(ctx context.Context, e *domain.Email, cause error) {
	ok, err := w.repo.Transition(ctx, e.ID, domain.StatusRenderingFailure)
	if err != nil {
		logger.Error("transition to rendering failure", "email_id", e.ID, "error", err.Error())
		return
	}
	if ok {
		w.recordEvent(ctx, e.ID, domain.StatusRenderingFailure, map[string]any{"error": cause.Error()})
	}
	logger.Warn("template rendering failed", "email_id", e.ID, "error", cause.Error())
}

// fail terminally marks an email FAILED with the cause recorded on the
// event row.
func (w *Worker) fail(ctx context.Context, e *domain.Email, cause error) {
	ok, err := w.repo.Transition(ctx, e.ID, domain.StatusFailed)
	if err != nil {
		logger.Error("transition to failed", "email_id", e.ID, "error", err.Error())
		return
	}
	if ok {
		w.recordEvent(ctx, e.ID, domain.StatusFailed, map[string]any{"error": cause.Error(), "code": failureCode(cause)})
	}
	logger.Warn("email failed",
		"email_id", e.ID,
		"code", failureCode(cause),
		"error", cause.Error(),
	)
}

func failureCode(err error) string {
	var (
		suppressed  *SuppressedError
		quota       *QuotaDeniedError
		notVerified *DomainNotVerifiedError
		validation  *ValidationError
		permanent   *ses.PermanentError
	)
	switch {
	case errors.As(err, &suppressed):
		return "SUPPRESSED"
	case errors.As(err, &quota):
		return "QUOTA_DENIED"
	case errors.As(err, &notVerified):
		return "DOMAIN_NOT_VERIFIED"
	case errors.As(err, &validation):
		return "VALIDATION"
	case errors.As(err, &permanent):
		return "PROVIDER_PERMANENT"
	default:
		return "INTERNAL"
	}
}

func (w *Worker) recordEvent(ctx context.Context, emailID string, status domain.EmailStatus, data map[string]any) {
	payload := ""
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = string(b)
		}
	}
	if _, err := w.repo.RecordEvent(ctx, &domain.EmailEvent{
		ID:        uuid.New().String(),
		EmailID:   emailID,
		Status:    status,
		Data:      payload,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		logger.Error("record event", "email_id", emailID, "status", string(status), "error", err.Error())
	}
}
