package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
// Lookups are keyed on the normalized email.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, teamID int64, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM suppressions WHERE team_id = $1 AND email = $2)
	`, teamID, domain.NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

func (r *SuppressionRepo) Upsert(ctx context.Context, s *domain.Suppression) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppressions (id, team_id, email, reason, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (team_id, email)
		DO UPDATE SET reason = EXCLUDED.reason, source = EXCLUDED.source, updated_at = NOW()
	`, s.ID, s.TeamID, domain.NormalizeEmail(s.Email), s.Reason, s.Source)
	if err != nil {
		return fmt.Errorf("upsert suppression: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, teamID int64, email string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM suppressions WHERE team_id = $1 AND email = $2
	`, teamID, domain.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, teamID int64, f suppression.ListFilter) ([]domain.Suppression, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	countQ := `SELECT COUNT(*) FROM suppressions WHERE team_id = $1`
	args := []interface{}{teamID}
	idx := 2

	if f.Reason != "" {
		countQ += fmt.Sprintf(" AND reason = $%d", idx)
		args = append(args, f.Reason)
		idx++
	}
	if f.Search != "" {
		countQ += fmt.Sprintf(" AND email LIKE $%d", idx)
		args = append(args, "%"+domain.NormalizeEmail(f.Search)+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	q := `
		SELECT id, team_id, email, reason, COALESCE(source,''), created_at, updated_at
		FROM suppressions
		WHERE team_id = $1`
	qArgs := []interface{}{teamID}
	qIdx := 2
	if f.Reason != "" {
		q += fmt.Sprintf(" AND reason = $%d", qIdx)
		qArgs = append(qArgs, f.Reason)
		qIdx++
	}
	if f.Search != "" {
		q += fmt.Sprintf(" AND email LIKE $%d", qIdx)
		qArgs = append(qArgs, "%"+domain.NormalizeEmail(f.Search)+"%")
		qIdx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", qIdx, qIdx+1)
	qArgs = append(qArgs, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, qArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.Suppression
	for rows.Next() {
		var s domain.Suppression
		if err := rows.Scan(&s.ID, &s.TeamID, &s.Email, &s.Reason, &s.Source, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *SuppressionRepo) CountByReason(ctx context.Context, teamID int64) (map[domain.SuppressionReason]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT reason, COUNT(*) FROM suppressions WHERE team_id = $1 GROUP BY reason
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("count by reason: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.SuppressionReason]int)
	for rows.Next() {
		var reason domain.SuppressionReason
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("scan reason count: %w", err)
		}
		out[reason] = count
	}
	return out, rows.Err()
}
