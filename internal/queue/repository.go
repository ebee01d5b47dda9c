package queue

import (
	"context"
	"time"

	"github.com/ignite/dispatch/internal/domain"
)

// Repository is the durable email store. The queue is the emails table
// itself: workers claim due rows instead of consuming a separate broker.
type Repository interface {
	// Create persists a new email in QUEUED or SCHEDULED state.
	Create(ctx context.Context, e *domain.Email) error

	// Get returns an email scoped to the team, or ErrNotFound.
	Get(ctx context.Context, teamID int64, id string) (*domain.Email, error)

	// GetByProviderMessageID resolves an email from the provider's id.
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error)

	// Events returns the recorded transitions for an email, oldest first.
	Events(ctx context.Context, emailID string) ([]domain.EmailEvent, error)

	// Claim atomically moves up to limit due emails (QUEUED, or SCHEDULED
	// with scheduled_at in the past) to SENDING and returns them. Claimed
	// rows are invisible to concurrent claimers.
	Claim(ctx context.Context, limit int) ([]*domain.Email, error)

	// Transition applies a compare-and-set status update: the row moves to
	// next only if its current status is a legal predecessor. Returns
	// false when the guard rejects the update.
	Transition(ctx context.Context, id string, next domain.EmailStatus) (bool, error)

	// MarkSent moves SENDING to SENT and records the provider message id.
	MarkSent(ctx context.Context, id, providerMessageID string) error

	// Requeue returns a SENDING email to QUEUED with a future due time,
	// used for rate deferral and transient provider errors.
	Requeue(ctx context.Context, id string, at time.Time) error

	// Cancel moves QUEUED or SCHEDULED to CANCELLED. Returns false when
	// the email exists but is past the cancellable states.
	Cancel(ctx context.Context, teamID int64, id string) (bool, error)

	// RecordEvent inserts a transition event. Returns false without error
	// when an event with the same (email, status) already exists.
	RecordEvent(ctx context.Context, ev *domain.EmailEvent) (bool, error)

	// SetOpenedAt stamps the first open. Returns false when already set.
	SetOpenedAt(ctx context.Context, id string, at time.Time) (bool, error)

	// SetClickedAt stamps the first click. Returns false when already set.
	SetClickedAt(ctx context.Context, id string, at time.Time) (bool, error)
}
