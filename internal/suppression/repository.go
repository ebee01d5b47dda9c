package suppression

import (
	"context"

	"github.com/ignite/dispatch/internal/domain"
)

// Repository defines the data access contract for the suppression list.
// Implementations key every lookup on (team id, normalized email).
type Repository interface {
	// IsSuppressed returns true if the normalized email is suppressed
	// for the team.
	IsSuppressed(ctx context.Context, teamID int64, email string) (bool, error)

	// Upsert adds or refreshes an entry. Re-adding updates reason and
	// source; it never errors on conflict.
	Upsert(ctx context.Context, s *domain.Suppression) error

	// Remove deletes an entry. Returns ErrNotFound if it doesn't exist.
	Remove(ctx context.Context, teamID int64, email string) error

	// List returns entries matching the filter plus the total count.
	List(ctx context.Context, teamID int64, filter ListFilter) ([]domain.Suppression, int, error)

	// CountByReason returns entry counts grouped by reason.
	CountByReason(ctx context.Context, teamID int64) (map[domain.SuppressionReason]int, error)
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Search string
	Reason domain.SuppressionReason
	Limit  int
	Offset int
}
