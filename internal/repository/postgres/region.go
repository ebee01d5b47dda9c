package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/dispatch/internal/domain"
)

// RegionRepo implements region.Repository against PostgreSQL.
type RegionRepo struct{ db *sql.DB }

// NewRegionRepo creates a Postgres-backed region settings repository.
func NewRegionRepo(db *sql.DB) *RegionRepo { return &RegionRepo{db: db} }

func (r *RegionRepo) All(ctx context.Context) ([]domain.RegionSetting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, region, send_rate, transactional_quota_percent,
		       COALESCE(callback_url,''), callback_success,
		       COALESCE(config_general,''), COALESCE(config_open,''),
		       COALESCE(config_click,''), COALESCE(config_full,''),
		       created_at, updated_at
		FROM region_settings
		ORDER BY region
	`)
	if err != nil {
		return nil, fmt.Errorf("list region settings: %w", err)
	}
	defer rows.Close()

	var out []domain.RegionSetting
	for rows.Next() {
		var s domain.RegionSetting
		if err := rows.Scan(
			&s.ID, &s.Region, &s.SendRate, &s.TransactionalQuotaPercent,
			&s.CallbackURL, &s.CallbackSuccess,
			&s.ConfigGeneral, &s.ConfigOpen, &s.ConfigClick, &s.ConfigFull,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan region setting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *RegionRepo) Upsert(ctx context.Context, s *domain.RegionSetting) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO region_settings
			(id, region, send_rate, transactional_quota_percent,
			 callback_url, callback_success,
			 config_general, config_open, config_click, config_full,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (region) DO UPDATE SET
			send_rate = EXCLUDED.send_rate,
			transactional_quota_percent = EXCLUDED.transactional_quota_percent,
			callback_url = EXCLUDED.callback_url,
			callback_success = EXCLUDED.callback_success,
			config_general = EXCLUDED.config_general,
			config_open = EXCLUDED.config_open,
			config_click = EXCLUDED.config_click,
			config_full = EXCLUDED.config_full,
			updated_at = NOW()
	`, s.ID, s.Region, s.SendRate, s.TransactionalQuotaPercent,
		s.CallbackURL, s.CallbackSuccess,
		s.ConfigGeneral, s.ConfigOpen, s.ConfigClick, s.ConfigFull)
	if err != nil {
		return fmt.Errorf("upsert region setting: %w", err)
	}
	return nil
}
