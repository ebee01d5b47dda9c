package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/limiter"
	"github.com/ignite/dispatch/internal/region"
	"github.com/ignite/dispatch/internal/ses"
)

type stubSuppression struct{ blocked map[string]bool }

func (s *stubSuppression) IsSuppressed(ctx context.Context, teamID int64, email string) (bool, error) {
	return s.blocked[email], nil
}

type stubLimiter struct {
	res limiter.Reservation
	err error
}

func (s *stubLimiter) Reserve(ctx context.Context, regionCode string, traffic domain.TrafficType, teamID int64) (limiter.Reservation, error) {
	return s.res, s.err
}

type stubSender struct {
	mu        sync.Mutex
	calls     int
	errs      []error
	messageID string
	lastReq   ses.SendRequest
	lastRgn   string
}

func (s *stubSender) Send(ctx context.Context, regionCode string, req ses.SendRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReq = req
	s.lastRgn = regionCode
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if s.messageID == "" {
		return "provider-msg-1", nil
	}
	return s.messageID, nil
}

type stubUsage struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubUsage) RecordSent(ctx context.Context, e *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, e.ID)
	return nil
}

type stubUnsub struct{}

func (stubUnsub) Headers(contactID, campaignID string) map[string]string {
	return map[string]string{
		"List-Unsubscribe":      "<https://unsub.example.com/" + contactID + "-" + campaignID + ">",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}

type stubTemplates struct{ tpl *domain.Template }

func (s *stubTemplates) Template(ctx context.Context, teamID int64, id string) (*domain.Template, error) {
	if s.tpl == nil {
		return nil, errors.New("template not found")
	}
	return s.tpl, nil
}

type workerFixture struct {
	repo        *fakeRepo
	domains     *fakeDomains
	suppression *stubSuppression
	limiter     *stubLimiter
	sender      *stubSender
	usage       *stubUsage
	templates   *stubTemplates
	worker      *Worker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	repo := newFakeRepo()
	domains := verifiedDomains()
	supp := &stubSuppression{blocked: map[string]bool{}}
	lim := &stubLimiter{res: limiter.Reservation{Outcome: limiter.Grant}}
	sender := &stubSender{}
	usage := &stubUsage{}
	templates := &stubTemplates{}

	regionRepo := &staticRegionRepo{settings: []domain.RegionSetting{{
		Region:        "us-east-1",
		SendRate:      10,
		ConfigGeneral: "cs-general",
		ConfigOpen:    "cs-open",
		ConfigClick:   "cs-click",
		ConfigFull:    "cs-full",
	}}}
	registry, err := region.NewRegistry(context.Background(), regionRepo)
	require.NoError(t, err)

	w := NewWorker(WorkerConfig{Concurrency: 1, BatchSize: 10},
		repo, NewRenderer(templates), domains, supp, lim, registry, sender, usage, stubUnsub{})

	return &workerFixture{
		repo: repo, domains: domains, suppression: supp, limiter: lim,
		sender: sender, usage: usage, templates: templates, worker: w,
	}
}

type staticRegionRepo struct{ settings []domain.RegionSetting }

func (s *staticRegionRepo) All(ctx context.Context) ([]domain.RegionSetting, error) {
	return s.settings, nil
}

func (s *staticRegionRepo) Upsert(ctx context.Context, setting *domain.RegionSetting) error {
	return nil
}

func claimOne(t *testing.T, f *workerFixture) *domain.Email {
	t.Helper()
	claimed, err := f.repo.Claim(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func enqueueTestEmail(t *testing.T, f *workerFixture, mutate func(*EnqueueRequest)) *domain.Email {
	t.Helper()
	svc := NewService(f.repo, f.domains)
	req := validRequest()
	if mutate != nil {
		mutate(&req)
	}
	e, err := svc.Enqueue(context.Background(), 1, req)
	require.NoError(t, err)
	return e
}

func TestDispatchSendsAndMarksSent(t *testing.T) {
	f := newWorkerFixture(t)
	e := enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	stored := f.repo.get(e.ID)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, "provider-msg-1", stored.ProviderMessageID)
	assert.Equal(t, "us-east-1", f.sender.lastRgn)
	assert.Equal(t, "cs-general", f.sender.lastReq.ConfigurationSet)
	assert.Equal(t, []string{e.ID}, f.usage.sent)

	events, err := f.repo.Events(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusSent, events[0].Status)
}

func TestDispatchPicksTrackingConfigSet(t *testing.T) {
	f := newWorkerFixture(t)
	f.domains.domains["example.com"].ClickTracking = true
	f.domains.domains["example.com"].OpenTracking = true
	enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, "cs-full", f.sender.lastReq.ConfigurationSet)
}

func TestDispatchFailsSuppressedRecipient(t *testing.T) {
	f := newWorkerFixture(t)
	f.suppression.blocked["reader@acme.test"] = true
	e := enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, domain.StatusFailed, f.repo.get(e.ID).Status)
	assert.Equal(t, 0, f.sender.calls)

	events, _ := f.repo.Events(context.Background(), e.ID)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data, "SUPPRESSED")
}

func TestDispatchFailsSuppressedCCAndBCC(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*EnqueueRequest)
	}{
		{"cc", func(r *EnqueueRequest) { r.CC = []string{"copied@acme.test"} }},
		{"bcc", func(r *EnqueueRequest) { r.BCC = []string{"copied@acme.test"} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newWorkerFixture(t)
			f.suppression.blocked["copied@acme.test"] = true
			e := enqueueTestEmail(t, f, tc.mutate)

			f.worker.dispatch(context.Background(), claimOne(t, f))

			assert.Equal(t, domain.StatusFailed, f.repo.get(e.ID).Status)
			assert.Equal(t, 0, f.sender.calls)
		})
	}
}

func TestDispatchFailsUnverifiedDomain(t *testing.T) {
	f := newWorkerFixture(t)
	e := enqueueTestEmail(t, f, nil)
	f.domains.domains["example.com"].Status = domain.DomainPending

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, domain.StatusFailed, f.repo.get(e.ID).Status)
	assert.Equal(t, 0, f.sender.calls)
}

func TestDispatchQuotaDenied(t *testing.T) {
	f := newWorkerFixture(t)
	f.limiter.res = limiter.Reservation{Outcome: limiter.Denied, LimitReason: domain.LimitEmail, Limit: 100}
	e := enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, domain.StatusFailed, f.repo.get(e.ID).Status)
	events, _ := f.repo.Events(context.Background(), e.ID)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data, "QUOTA_DENIED")
}

func TestDispatchRateDeferredRequeues(t *testing.T) {
	f := newWorkerFixture(t)
	f.limiter.res = limiter.Reservation{Outcome: limiter.Deferred, RetryAfter: 500 * time.Millisecond}
	e := enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	stored := f.repo.get(e.ID)
	assert.Equal(t, domain.StatusQueued, stored.Status)
	require.NotNil(t, stored.ScheduledAt)
	assert.Equal(t, 0, f.sender.calls)
}

func TestDispatchRenderingFailure(t *testing.T) {
	f := newWorkerFixture(t)
	f.templates.tpl = nil
	e := enqueueTestEmail(t, f, func(r *EnqueueRequest) {
		r.TemplateID = "tpl-1"
		r.Subject = ""
		r.HTML = ""
	})

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, domain.StatusRenderingFailure, f.repo.get(e.ID).Status)
	assert.Equal(t, 0, f.sender.calls)
}

func TestDispatchRendersTemplate(t *testing.T) {
	f := newWorkerFixture(t)
	f.templates.tpl = &domain.Template{
		ID:      "tpl-1",
		Subject: "Welcome {{ name }}",
		HTML:    "<p>Hello {{ name }}</p>",
	}
	enqueueTestEmail(t, f, func(r *EnqueueRequest) {
		r.TemplateID = "tpl-1"
		r.Subject = ""
		r.HTML = ""
		r.Variables = map[string]any{"name": "Ada"}
	})

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, "Welcome Ada", f.sender.lastReq.Subject)
	assert.Equal(t, "<p>Hello Ada</p>", f.sender.lastReq.HTML)
}

func TestDispatchRetriesThrottle(t *testing.T) {
	f := newWorkerFixture(t)
	f.sender.errs = []error{ses.ErrThrottled, ses.ErrThrottled}
	e := enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, 3, f.sender.calls)
	assert.Equal(t, domain.StatusSent, f.repo.get(e.ID).Status)
}

func TestDispatchExhaustedThrottleRequeues(t *testing.T) {
	f := newWorkerFixture(t)
	f.sender.errs = []error{ses.ErrThrottled, ses.ErrThrottled, ses.ErrThrottled}
	e := enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, domain.StatusQueued, f.repo.get(e.ID).Status)
}

func TestDispatchMaxSendRetriesConfigurable(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker = NewWorker(WorkerConfig{Concurrency: 1, BatchSize: 10, MaxSendRetries: 1},
		f.repo, NewRenderer(f.templates), f.domains, f.suppression, f.limiter,
		f.worker.registry, f.sender, f.usage, stubUnsub{})
	f.sender.errs = []error{ses.ErrThrottled}
	e := enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, 1, f.sender.calls)
	assert.Equal(t, domain.StatusQueued, f.repo.get(e.ID).Status)
}

func TestDispatchPermanentProviderError(t *testing.T) {
	f := newWorkerFixture(t)
	f.sender.errs = []error{&ses.PermanentError{Err: errors.New("address blacklisted")}}
	e := enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, domain.StatusFailed, f.repo.get(e.ID).Status)
	events, _ := f.repo.Events(context.Background(), e.ID)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data, "PROVIDER_PERMANENT")
}

func TestDispatchTransientProviderErrorRequeues(t *testing.T) {
	f := newWorkerFixture(t)
	f.sender.errs = []error{&ses.TransientError{Err: errors.New("sending paused")}}
	e := enqueueTestEmail(t, f, nil)

	f.worker.dispatch(context.Background(), claimOne(t, f))

	assert.Equal(t, domain.StatusQueued, f.repo.get(e.ID).Status)
}

func TestDispatchCampaignMailCarriesUnsubscribeHeaders(t *testing.T) {
	f := newWorkerFixture(t)
	enqueueTestEmail(t, f, func(r *EnqueueRequest) {
		r.CampaignID = "camp-1"
		r.ContactID = "contact-1"
	})

	f.worker.dispatch(context.Background(), claimOne(t, f))

	require.Contains(t, f.sender.lastReq.Headers, "List-Unsubscribe")
	assert.Equal(t, "List-Unsubscribe=One-Click", f.sender.lastReq.Headers["List-Unsubscribe-Post"])
}

func TestWorkerStartStop(t *testing.T) {
	f := newWorkerFixture(t)
	enqueueTestEmail(t, f, nil)

	ctx := context.Background()
	require.NoError(t, f.worker.Start(ctx))
	assert.Error(t, f.worker.Start(ctx), "second start must be rejected")

	time.Sleep(1500 * time.Millisecond)
	f.worker.Stop()

	f.sender.mu.Lock()
	calls := f.sender.calls
	f.sender.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 1)
}
