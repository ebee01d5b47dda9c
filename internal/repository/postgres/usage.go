package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/usage"
)

// UsageRepo implements usage.Repository against PostgreSQL. Daily rows are
// upserted on their composite key so concurrent increments never race on
// row creation.
type UsageRepo struct{ db *sql.DB }

// NewUsageRepo creates a Postgres-backed usage repository.
func NewUsageRepo(db *sql.DB) *UsageRepo { return &UsageRepo{db: db} }

func (r *UsageRepo) IncrementDaily(ctx context.Context, key usage.DailyKey, d usage.Delta) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_usage
			(team_id, domain_id, date, type,
			 sent, delivered, opened, clicked, bounced, hard_bounced, complained)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (team_id, domain_id, date, type) DO UPDATE SET
			sent = daily_usage.sent + EXCLUDED.sent,
			delivered = daily_usage.delivered + EXCLUDED.delivered,
			opened = daily_usage.opened + EXCLUDED.opened,
			clicked = daily_usage.clicked + EXCLUDED.clicked,
			bounced = daily_usage.bounced + EXCLUDED.bounced,
			hard_bounced = daily_usage.hard_bounced + EXCLUDED.hard_bounced,
			complained = daily_usage.complained + EXCLUDED.complained
	`, key.TeamID, key.DomainID, key.Date, key.Type,
		d.Sent, d.Delivered, d.Opened, d.Clicked, d.Bounced, d.HardBounced, d.Complained)
	if err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}
	return nil
}

func (r *UsageRepo) Range(ctx context.Context, teamID int64, from, to string) ([]domain.DailyUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT team_id, domain_id, date, type,
		       sent, delivered, opened, clicked, bounced, hard_bounced, complained
		FROM daily_usage
		WHERE team_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC, type ASC
	`, teamID, from, to)
	if err != nil {
		return nil, fmt.Errorf("range daily usage: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyUsage
	for rows.Next() {
		var u domain.DailyUsage
		if err := rows.Scan(
			&u.TeamID, &u.DomainID, &u.Date, &u.Type,
			&u.Sent, &u.Delivered, &u.Opened, &u.Clicked,
			&u.Bounced, &u.HardBounced, &u.Complained,
		); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *UsageRepo) SumSent(ctx context.Context, teamID int64, from, to string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(sent), 0)
		FROM daily_usage
		WHERE team_id = $1 AND date >= $2 AND date <= $3
	`, teamID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum sent: %w", err)
	}
	return total, nil
}

func (r *UsageRepo) SumByType(ctx context.Context, teamID int64, from, to string) (map[domain.TrafficType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, COALESCE(SUM(sent), 0)
		FROM daily_usage
		WHERE team_id = $1 AND date >= $2 AND date <= $3
		GROUP BY type
	`, teamID, from, to)
	if err != nil {
		return nil, fmt.Errorf("sum by type: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.TrafficType]int64)
	for rows.Next() {
		var t domain.TrafficType
		var sum int64
		if err := rows.Scan(&t, &sum); err != nil {
			return nil, fmt.Errorf("scan type sum: %w", err)
		}
		out[t] = sum
	}
	return out, rows.Err()
}

func (r *UsageRepo) IncrementCumulative(ctx context.Context, teamID, domainID, delivered, hardBounced, complained int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cumulative_metrics (team_id, domain_id, delivered, hard_bounced, complained)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id, domain_id) DO UPDATE SET
			delivered = cumulative_metrics.delivered + EXCLUDED.delivered,
			hard_bounced = cumulative_metrics.hard_bounced + EXCLUDED.hard_bounced,
			complained = cumulative_metrics.complained + EXCLUDED.complained
	`, teamID, domainID, delivered, hardBounced, complained)
	if err != nil {
		return fmt.Errorf("increment cumulative metrics: %w", err)
	}
	return nil
}

func (r *UsageRepo) Cumulative(ctx context.Context, teamID, domainID int64) (*domain.CumulativeMetrics, error) {
	m := &domain.CumulativeMetrics{TeamID: teamID, DomainID: domainID}
	err := r.db.QueryRowContext(ctx, `
		SELECT delivered, hard_bounced, complained
		FROM cumulative_metrics
		WHERE team_id = $1 AND domain_id = $2
	`, teamID, domainID).Scan(&m.Delivered, &m.HardBounced, &m.Complained)
	if err == sql.ErrNoRows {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cumulative metrics: %w", err)
	}
	return m, nil
}

func (r *UsageRepo) PeriodStart(ctx context.Context, teamID int64) (*time.Time, error) {
	var start time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT current_period_start
		FROM subscriptions
		WHERE team_id = $1 AND status = 'active'
		ORDER BY current_period_start DESC
		LIMIT 1
	`, teamID).Scan(&start)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get period start: %w", err)
	}
	return &start, nil
}
