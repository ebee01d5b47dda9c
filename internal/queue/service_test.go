package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch/internal/domain"
)

// fakeRepo is an in-memory Repository for service and worker tests.
type fakeRepo struct {
	mu     sync.Mutex
	emails map[string]*domain.Email
	events []domain.EmailEvent
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{emails: make(map[string]*domain.Email)}
}

func (r *fakeRepo) Create(ctx context.Context, e *domain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.emails[e.ID] = &cp
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, teamID int64, id string) (*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok || e.TeamID != teamID {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeRepo) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.emails {
		if e.ProviderMessageID == providerMessageID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) Events(ctx context.Context, emailID string) ([]domain.EmailEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EmailEvent
	for _, ev := range r.events {
		if ev.EmailID == emailID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeRepo) Claim(ctx context.Context, limit int) ([]*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []*domain.Email
	for _, e := range r.emails {
		if len(out) >= limit {
			break
		}
		due := e.Status == domain.StatusQueued ||
			(e.Status == domain.StatusScheduled && e.ScheduledAt != nil && e.ScheduledAt.Before(now))
		if due && (e.ScheduledAt == nil || e.ScheduledAt.Before(now)) {
			e.Status = domain.StatusSending
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) Transition(ctx context.Context, id string, next domain.EmailStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok {
		return false, nil
	}
	if !domain.CanTransition(e.Status, next) {
		return false, nil
	}
	e.Status = next
	return true, nil
}

func (r *fakeRepo) MarkSent(ctx context.Context, id, providerMessageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = domain.StatusSent
	e.ProviderMessageID = providerMessageID
	return nil
}

func (r *fakeRepo) Requeue(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = domain.StatusQueued
	e.ScheduledAt = &at
	return nil
}

func (r *fakeRepo) Cancel(ctx context.Context, teamID int64, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok || e.TeamID != teamID {
		return false, ErrNotFound
	}
	if e.Status != domain.StatusQueued && e.Status != domain.StatusScheduled {
		return false, nil
	}
	e.Status = domain.StatusCancelled
	return true, nil
}

func (r *fakeRepo) RecordEvent(ctx context.Context, ev *domain.EmailEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.events {
		if existing.EmailID == ev.EmailID && existing.Status == ev.Status {
			return false, nil
		}
	}
	r.events = append(r.events, *ev)
	return true, nil
}

func (r *fakeRepo) SetOpenedAt(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok || e.OpenedAt != nil {
		return false, nil
	}
	e.OpenedAt = &at
	return true, nil
}

func (r *fakeRepo) SetClickedAt(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok || e.ClickedAt != nil {
		return false, nil
	}
	e.ClickedAt = &at
	return true, nil
}

func (r *fakeRepo) get(id string) *domain.Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emails[id]
}

// fakeDomains serves a single verified domain for a team.
type fakeDomains struct {
	domains map[string]*domain.SendingDomain
}

func (f *fakeDomains) ByName(ctx context.Context, teamID int64, name string) (*domain.SendingDomain, error) {
	sd, ok := f.domains[name]
	if !ok || sd.TeamID != teamID {
		return nil, nil
	}
	return sd, nil
}

func (f *fakeDomains) ByID(ctx context.Context, id int64) (*domain.SendingDomain, error) {
	for _, sd := range f.domains {
		if sd.ID == id {
			return sd, nil
		}
	}
	return nil, ErrNotFound
}

func verifiedDomains() *fakeDomains {
	return &fakeDomains{domains: map[string]*domain.SendingDomain{
		"example.com": {
			ID:     7,
			TeamID: 1,
			Name:   "example.com",
			Region: "us-east-1",
			Status: domain.DomainSuccess,
		},
	}}
}

func validRequest() EnqueueRequest {
	return EnqueueRequest{
		To:      []string{"reader@acme.test"},
		From:    "news@example.com",
		Subject: "Hello",
		HTML:    "<p>Hi</p>",
	}
}

func TestEnqueueValidation(t *testing.T) {
	svc := NewService(newFakeRepo(), verifiedDomains())
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*EnqueueRequest)
		field  string
	}{
		{"missing to", func(r *EnqueueRequest) { r.To = nil }, "to"},
		{"bad to address", func(r *EnqueueRequest) { r.To = []string{"not-an-address"} }, "to"},
		{"bad from address", func(r *EnqueueRequest) { r.From = "broken" }, "from"},
		{"unregistered domain", func(r *EnqueueRequest) { r.From = "a@other.com" }, "from"},
		{"no subject no template", func(r *EnqueueRequest) { r.Subject = "" }, "subject"},
		{"no body no template", func(r *EnqueueRequest) { r.HTML = "" }, "body"},
		{"too many attachments", func(r *EnqueueRequest) {
			r.Attachments = make([]domain.Attachment, domain.MaxAttachments+1)
			for i := range r.Attachments {
				r.Attachments[i] = domain.Attachment{Filename: "f.txt", Content: "aGk="}
			}
		}, "attachments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			_, err := svc.Enqueue(ctx, 1, req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestEnqueueQueuesImmediately(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, verifiedDomains())

	e, err := svc.Enqueue(context.Background(), 1, validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusQueued, e.Status)
	assert.NotEmpty(t, e.ID)
	require.NotNil(t, e.DomainID)
	assert.Equal(t, int64(7), *e.DomainID)
	assert.Nil(t, e.ScheduledAt)
}

func TestEnqueueSchedulesFutureSends(t *testing.T) {
	svc := NewService(newFakeRepo(), verifiedDomains())

	req := validRequest()
	at := time.Now().Add(2 * time.Hour)
	req.ScheduledAt = &at

	e, err := svc.Enqueue(context.Background(), 1, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, e.Status)
	require.NotNil(t, e.ScheduledAt)
}

func TestEnqueuePastScheduleQueuesNow(t *testing.T) {
	svc := NewService(newFakeRepo(), verifiedDomains())

	req := validRequest()
	at := time.Now().Add(-time.Hour)
	req.ScheduledAt = &at

	e, err := svc.Enqueue(context.Background(), 1, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, e.Status)
}

func TestEnqueueBatchIndependentResults(t *testing.T) {
	svc := NewService(newFakeRepo(), verifiedDomains())

	bad := validRequest()
	bad.From = "broken"

	results, err := svc.EnqueueBatch(context.Background(), 1, []EnqueueRequest{validRequest(), bad, validRequest()})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}

func TestEnqueueBatchTooLarge(t *testing.T) {
	svc := NewService(newFakeRepo(), verifiedDomains())

	reqs := make([]EnqueueRequest, MaxBatchSize+1)
	for i := range reqs {
		reqs[i] = validRequest()
	}

	_, err := svc.EnqueueBatch(context.Background(), 1, reqs)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestCancelQueuedEmail(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, verifiedDomains())

	e, err := svc.Enqueue(context.Background(), 1, validRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), 1, e.ID))
	assert.Equal(t, domain.StatusCancelled, repo.get(e.ID).Status)
}

func TestCancelAfterDispatchFails(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, verifiedDomains())

	e, err := svc.Enqueue(context.Background(), 1, validRequest())
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(context.Background(), e.ID, "msg-1"))

	err = svc.Cancel(context.Background(), 1, e.ID)
	assert.ErrorIs(t, err, ErrAlreadySent)
}

func TestCancelUnknownEmail(t *testing.T) {
	svc := NewService(newFakeRepo(), verifiedDomains())

	err := svc.Cancel(context.Background(), 1, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsEvents(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, verifiedDomains())
	ctx := context.Background()

	e, err := svc.Enqueue(ctx, 1, validRequest())
	require.NoError(t, err)

	_, err = repo.RecordEvent(ctx, &domain.EmailEvent{ID: "ev1", EmailID: e.ID, Status: domain.StatusSent})
	require.NoError(t, err)

	got, events, err := svc.Get(ctx, 1, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusSent, events[0].Status)
}
