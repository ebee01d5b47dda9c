package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/dispatch/internal/domain"
)

// ErrContactNotFound is returned for unknown contacts and templates.
var ErrContactNotFound = errors.New("contact not found")

// ContactRepo serves campaign contacts and stored templates.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) Contact(ctx context.Context, id string) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, contact_book_id, team_id, email, subscribed, unsubscribe_reason,
		       created_at, updated_at
		FROM contacts
		WHERE id = $1
	`, id).Scan(&c.ID, &c.ContactBookID, &c.TeamID, &c.Email, &c.Subscribed,
		&c.UnsubscribeReason, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (r *ContactRepo) SetSubscribed(ctx context.Context, id string, subscribed bool, reason *domain.UnsubscribeReason) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET subscribed = $1, unsubscribe_reason = $2, updated_at = NOW()
		WHERE id = $3
	`, subscribed, reason, id)
	if err != nil {
		return fmt.Errorf("set subscribed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrContactNotFound
	}
	return nil
}

// Template loads one stored template scoped to the team.
func (r *ContactRepo) Template(ctx context.Context, teamID int64, id string) (*domain.Template, error) {
	t := &domain.Template{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, team_id, name, subject, html, created_at
		FROM templates
		WHERE id = $1 AND team_id = $2
	`, id, teamID).Scan(&t.ID, &t.TeamID, &t.Name, &t.Subject, &t.HTML, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}
