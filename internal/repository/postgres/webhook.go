package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/webhook"
)

// WebhookEndpointRepo stores outbound webhook subscriptions.
type WebhookEndpointRepo struct{ db *sql.DB }

// NewWebhookEndpointRepo creates a Postgres-backed webhook endpoint repository.
func NewWebhookEndpointRepo(db *sql.DB) *WebhookEndpointRepo {
	return &WebhookEndpointRepo{db: db}
}

const endpointColumns = `id, team_id, url, domain_id, event_types, enabled, created_at`

func scanEndpoint(row interface{ Scan(...any) error }) (*domain.WebhookEndpoint, error) {
	w := &domain.WebhookEndpoint{}
	err := row.Scan(&w.ID, &w.TeamID, &w.URL, &w.DomainID,
		pq.Array(&w.EventTypes), &w.Enabled, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *WebhookEndpointRepo) Create(ctx context.Context, w *domain.WebhookEndpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_endpoints (id, team_id, url, domain_id, event_types, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, w.ID, w.TeamID, w.URL, w.DomainID, pq.Array(w.EventTypes), w.Enabled, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create webhook endpoint: %w", err)
	}
	return nil
}

func (r *WebhookEndpointRepo) Get(ctx context.Context, teamID int64, id string) (*domain.WebhookEndpoint, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1 AND team_id = $2
	`, id, teamID)
	w, err := scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, webhook.ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook endpoint: %w", err)
	}
	return w, nil
}

// ListByTeam returns every endpoint for the team, enabled or not. The
// forwarder filters with Matches.
func (r *WebhookEndpointRepo) ListByTeam(ctx context.Context, teamID int64) ([]domain.WebhookEndpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE team_id = $1
		ORDER BY created_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEndpoint
	for rows.Next() {
		w, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (r *WebhookEndpointRepo) Update(ctx context.Context, w *domain.WebhookEndpoint) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_endpoints
		SET url = $1, domain_id = $2, event_types = $3, enabled = $4
		WHERE id = $5 AND team_id = $6
	`, w.URL, w.DomainID, pq.Array(w.EventTypes), w.Enabled, w.ID, w.TeamID)
	if err != nil {
		return fmt.Errorf("update webhook endpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return webhook.ErrEndpointNotFound
	}
	return nil
}

func (r *WebhookEndpointRepo) Delete(ctx context.Context, teamID int64, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_endpoints WHERE id = $1 AND team_id = $2
	`, id, teamID)
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return webhook.ErrEndpointNotFound
	}
	return nil
}
