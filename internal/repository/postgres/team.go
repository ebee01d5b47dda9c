package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/dispatch/internal/domain"
)

// ErrTeamNotFound is returned for unknown teams and API keys.
var ErrTeamNotFound = errors.New("team not found")

// TeamRepo serves team plans, resource counts and API key authentication.
type TeamRepo struct{ db *sql.DB }

// NewTeamRepo creates a Postgres-backed team repository.
func NewTeamRepo(db *sql.DB) *TeamRepo { return &TeamRepo{db: db} }

func (r *TeamRepo) Team(ctx context.Context, teamID int64) (domain.Team, error) {
	var t domain.Team
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, plan, created_at FROM teams WHERE id = $1
	`, teamID).Scan(&t.ID, &t.Name, &t.Plan, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Team{}, ErrTeamNotFound
	}
	if err != nil {
		return domain.Team{}, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

func (r *TeamRepo) DomainCount(ctx context.Context, teamID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM sending_domains WHERE team_id = $1`, teamID)
}

func (r *TeamRepo) ContactBookCount(ctx context.Context, teamID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM contact_books WHERE team_id = $1`, teamID)
}

func (r *TeamRepo) TeamMemberCount(ctx context.Context, teamID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM team_members WHERE team_id = $1`, teamID)
}

func (r *TeamRepo) count(ctx context.Context, q string, teamID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, q, teamID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// APIKeyByTokenHash resolves an API key from its stored hash. Auth hashes
// the presented token and looks the digest up; plaintext never reaches
// the database.
func (r *TeamRepo) APIKeyByTokenHash(ctx context.Context, tokenHash string) (*domain.APIKey, error) {
	k := &domain.APIKey{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, team_id, token_hash, name, last_used, created_at
		FROM api_keys
		WHERE token_hash = $1
	`, tokenHash).Scan(&k.ID, &k.TeamID, &k.TokenHash, &k.Name, &k.LastUsed, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

// TouchAPIKey stamps last use, best effort.
func (r *TeamRepo) TouchAPIKey(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = NOW() WHERE id = $1
	`, id)
	return err
}
