package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/domains"
)

// DomainRepo implements domains.Repository plus the queue's domain lookups
// against PostgreSQL.
type DomainRepo struct{ db *sql.DB }

// NewDomainRepo creates a Postgres-backed sending domain repository.
func NewDomainRepo(db *sql.DB) *DomainRepo { return &DomainRepo{db: db} }

const domainColumns = `
	id, team_id, name, region, status, click_tracking, open_tracking,
	COALESCE(dkim_status,''), COALESCE(spf_status,''), dkim_tokens,
	created_at, updated_at`

func scanDomain(scan func(...interface{}) error) (*domain.SendingDomain, error) {
	d := &domain.SendingDomain{}
	var tokens pq.StringArray
	err := scan(
		&d.ID, &d.TeamID, &d.Name, &d.Region, &d.Status,
		&d.ClickTracking, &d.OpenTracking,
		&d.DKIMStatus, &d.SPFStatus, &tokens,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.DKIMTokens = tokens
	return d, nil
}

func (r *DomainRepo) Create(ctx context.Context, d *domain.SendingDomain) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sending_domains
			(team_id, name, region, status, click_tracking, open_tracking,
			 dkim_status, dkim_tokens, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id
	`, d.TeamID, d.Name, d.Region, d.Status, d.ClickTracking, d.OpenTracking,
		d.DKIMStatus, pq.Array(d.DKIMTokens)).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("create domain: %w", err)
	}
	return nil
}

func (r *DomainRepo) ByID(ctx context.Context, id int64) (*domain.SendingDomain, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+domainColumns+` FROM sending_domains WHERE id = $1`, id)
	d, err := scanDomain(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domains.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return d, nil
}

// ByName returns (nil, nil) when the team owns no such domain; enqueue
// validation treats that as a rejected from address, not a failure.
func (r *DomainRepo) ByName(ctx context.Context, teamID int64, name string) (*domain.SendingDomain, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+domainColumns+` FROM sending_domains WHERE team_id = $1 AND name = $2`,
		teamID, name)
	d, err := scanDomain(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get domain by name: %w", err)
	}
	return d, nil
}

func (r *DomainRepo) ListByTeam(ctx context.Context, teamID int64) ([]domain.SendingDomain, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+domainColumns+` FROM sending_domains WHERE team_id = $1 ORDER BY created_at ASC`,
		teamID)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []domain.SendingDomain
	for rows.Next() {
		d, err := scanDomain(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DomainRepo) UpdateTracking(ctx context.Context, teamID, id int64, clickTracking, openTracking bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sending_domains
		SET click_tracking = $1, open_tracking = $2, updated_at = NOW()
		WHERE id = $3 AND team_id = $4
	`, clickTracking, openTracking, id, teamID)
	if err != nil {
		return fmt.Errorf("update tracking: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domains.ErrNotFound
	}
	return nil
}

func (r *DomainRepo) UpdateVerification(ctx context.Context, id int64, status domain.DomainStatus, dkimStatus string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sending_domains
		SET status = $1, dkim_status = $2, updated_at = NOW()
		WHERE id = $3
	`, status, dkimStatus, id)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domains.ErrNotFound
	}
	return nil
}

func (r *DomainRepo) Delete(ctx context.Context, teamID, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sending_domains WHERE id = $1 AND team_id = $2
	`, id, teamID)
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domains.ErrNotFound
	}
	return nil
}
