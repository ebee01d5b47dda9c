package suppression

import (
	"context"
	"fmt"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/logger"
)

// MaxBulkAdd caps a single bulk-add call.
const MaxBulkAdd = 1000

// Service implements suppression business logic. It is safe for concurrent
// use; Upsert races are resolved by the repository's conflict handling.
type Service struct {
	repo Repository
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// IsSuppressed checks whether an address is blocked for the team. Checked
// synchronously before every dispatch attempt. On repository error it fails
// open (returns the error; callers decide), never silently suppresses.
func (s *Service) IsSuppressed(ctx context.Context, teamID int64, email string) (bool, error) {
	return s.repo.IsSuppressed(ctx, teamID, domain.NormalizeEmail(email))
}

// Add puts an address on the team's suppression list. Idempotent: re-adding
// updates reason and source.
func (s *Service) Add(ctx context.Context, teamID int64, email string, reason domain.SuppressionReason, source string) error {
	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		return ErrEmailRequired
	}
	if !domain.ValidSuppressionReason(reason) {
		return fmt.Errorf("%w: %s", ErrBadReason, reason)
	}

	entry := &domain.Suppression{
		TeamID: teamID,
		Email:  normalized,
		Reason: reason,
		Source: source,
	}
	if err := s.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}

	logger.Info("suppression added", "team_id", teamID, "email", normalized, "reason", reason, "source", source)
	return nil
}

// Remove deletes an entry. Removing a non-existent entry is a no-op
// success; the address is already not suppressed.
func (s *Service) Remove(ctx context.Context, teamID int64, email string) error {
	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		return ErrEmailRequired
	}
	err := s.repo.Remove(ctx, teamID, normalized)
	if err == ErrNotFound {
		logger.Debug("suppression remove no-op", "team_id", teamID, "email", normalized)
		return nil
	}
	return err
}

// BulkEntry is one item of a bulk add.
type BulkEntry struct {
	Email  string                   `json:"email"`
	Reason domain.SuppressionReason `json:"reason"`
	Source string                   `json:"source,omitempty"`
}

// BulkResult is the per-item outcome of a bulk add.
type BulkResult struct {
	Email string `json:"email"`
	Error string `json:"error,omitempty"`
}

// BulkAdd adds up to MaxBulkAdd entries. Items are independent: one bad
// entry does not block the others, and the caller gets one result per item.
func (s *Service) BulkAdd(ctx context.Context, teamID int64, entries []BulkEntry) ([]BulkResult, error) {
	if len(entries) > MaxBulkAdd {
		return nil, ErrBatchTooLarge
	}

	results := make([]BulkResult, len(entries))
	for i, e := range entries {
		results[i].Email = e.Email
		reason := e.Reason
		if reason == "" {
			reason = domain.ReasonManual
		}
		if err := s.Add(ctx, teamID, e.Email, reason, e.Source); err != nil {
			results[i].Error = err.Error()
		}
	}
	return results, nil
}

// List returns entries matching the filter plus the total count.
func (s *Service) List(ctx context.Context, teamID int64, filter ListFilter) ([]domain.Suppression, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	return s.repo.List(ctx, teamID, filter)
}

// Stats returns entry counts per reason for the team.
func (s *Service) Stats(ctx context.Context, teamID int64) (map[domain.SuppressionReason]int, error) {
	counts, err := s.repo.CountByReason(ctx, teamID)
	if err != nil {
		return nil, err
	}
	// Zero-fill so the dashboard always sees every reason.
	for _, r := range []domain.SuppressionReason{domain.ReasonHardBounce, domain.ReasonComplaint, domain.ReasonManual, domain.ReasonUnsubscribe} {
		if _, ok := counts[r]; !ok {
			counts[r] = 0
		}
	}
	return counts, nil
}
