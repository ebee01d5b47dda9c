// Package usage maintains the send/delivery counters behind billing and
// reputation: daily per-(team, domain, traffic type) rows, running
// cumulative metrics, and the billable-unit conversion.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/dispatch/internal/domain"
)

// Repository is the durable counter store.
type Repository interface {
	// IncrementDaily upserts the daily row and adds the deltas.
	IncrementDaily(ctx context.Context, key DailyKey, delta Delta) error

	// Range returns daily rows for a team between two dates inclusive.
	Range(ctx context.Context, teamID int64, from, to string) ([]domain.DailyUsage, error)

	// SumSent returns total sent for a team between two dates inclusive.
	SumSent(ctx context.Context, teamID int64, from, to string) (int64, error)

	// SumByType returns sent totals per traffic type between two dates.
	SumByType(ctx context.Context, teamID int64, from, to string) (map[domain.TrafficType]int64, error)

	// IncrementCumulative adds deltas to the running totals row.
	IncrementCumulative(ctx context.Context, teamID, domainID int64, delivered, hardBounced, complained int64) error

	// Cumulative returns running totals for a (team, domain) pair.
	Cumulative(ctx context.Context, teamID, domainID int64) (*domain.CumulativeMetrics, error)

	// PeriodStart returns the team's current billing period start, or nil
	// when the team has no subscription.
	PeriodStart(ctx context.Context, teamID int64) (*time.Time, error)
}

// DailyKey addresses one daily usage row.
type DailyKey struct {
	TeamID   int64
	DomainID int64
	Date     string
	Type     domain.TrafficType
}

// Delta is the set of counter increments applied to a daily row.
type Delta struct {
	Sent        int64
	Delivered   int64
	Opened      int64
	Clicked     int64
	Bounced     int64
	HardBounced int64
	Complained  int64
}

// BillingConfig prices usage.
type BillingConfig struct {
	// UnitPriceCents is the price per billable unit in hundredths.
	UnitPriceCents int
	// TransactionalRatio is how many transactional emails make one
	// billable unit.
	TransactionalRatio int
}

// Reputation thresholds: warn early, flag critical before the provider
// does.
const (
	BounceRateWarn        = 0.05
	BounceRateCritical    = 0.10
	ComplaintRateWarn     = 0.0005
	ComplaintRateCritical = 0.001
)

// Service answers usage, billing and reputation queries.
type Service struct {
	repo    Repository
	billing BillingConfig
}

// NewService creates the usage service.
func NewService(repo Repository, billing BillingConfig) *Service {
	if billing.TransactionalRatio <= 0 {
		billing.TransactionalRatio = 4
	}
	return &Service{repo: repo, billing: billing}
}

// RecordSent bumps the daily sent counter for a dispatched email.
func (s *Service) RecordSent(ctx context.Context, e *domain.Email) error {
	if e.DomainID == nil {
		return fmt.Errorf("email %s has no domain", e.ID)
	}
	return s.repo.IncrementDaily(ctx, DailyKey{
		TeamID:   e.TeamID,
		DomainID: *e.DomainID,
		Date:     time.Now().UTC().Format("2006-01-02"),
		Type:     e.TrafficType(),
	}, Delta{Sent: 1})
}

// RecordDelivery updates daily counters and running totals for a delivery
// confirmation.
func (s *Service) RecordDelivery(ctx context.Context, e *domain.Email) error {
	if err := s.increment(ctx, e, Delta{Delivered: 1}); err != nil {
		return err
	}
	return s.repo.IncrementCumulative(ctx, e.TeamID, domainID(e), 1, 0, 0)
}

// RecordHardBounce updates counters for a permanent bounce.
func (s *Service) RecordHardBounce(ctx context.Context, e *domain.Email) error {
	if err := s.increment(ctx, e, Delta{Bounced: 1, HardBounced: 1}); err != nil {
		return err
	}
	return s.repo.IncrementCumulative(ctx, e.TeamID, domainID(e), 0, 1, 0)
}

// RecordSoftBounce updates the daily bounce counter only; soft bounces do
// not affect reputation totals.
func (s *Service) RecordSoftBounce(ctx context.Context, e *domain.Email) error {
	return s.increment(ctx, e, Delta{Bounced: 1})
}

// RecordComplaint updates counters for a spam complaint.
func (s *Service) RecordComplaint(ctx context.Context, e *domain.Email) error {
	if err := s.increment(ctx, e, Delta{Complained: 1}); err != nil {
		return err
	}
	return s.repo.IncrementCumulative(ctx, e.TeamID, domainID(e), 0, 0, 1)
}

// RecordOpen bumps the daily opened counter.
func (s *Service) RecordOpen(ctx context.Context, e *domain.Email) error {
	return s.increment(ctx, e, Delta{Opened: 1})
}

// RecordClick bumps the daily clicked counter.
func (s *Service) RecordClick(ctx context.Context, e *domain.Email) error {
	return s.increment(ctx, e, Delta{Clicked: 1})
}

func (s *Service) increment(ctx context.Context, e *domain.Email, delta Delta) error {
	return s.repo.IncrementDaily(ctx, DailyKey{
		TeamID:   e.TeamID,
		DomainID: domainID(e),
		Date:     time.Now().UTC().Format("2006-01-02"),
		Type:     e.TrafficType(),
	}, delta)
}

func domainID(e *domain.Email) int64 {
	if e.DomainID == nil {
		return 0
	}
	return *e.DomainID
}

// SentCounts satisfies the limiter's usage source: emails sent this
// billing period and today. The period starts at the subscription's
// current period start when one exists, else the first of the month.
func (s *Service) SentCounts(ctx context.Context, teamID int64) (int64, int64, error) {
	now := time.Now().UTC()
	today := now.Format("2006-01-02")

	start, err := s.periodStart(ctx, teamID, now)
	if err != nil {
		return 0, 0, err
	}

	period, err := s.repo.SumSent(ctx, teamID, start.Format("2006-01-02"), today)
	if err != nil {
		return 0, 0, fmt.Errorf("sum period sent: %w", err)
	}
	day, err := s.repo.SumSent(ctx, teamID, today, today)
	if err != nil {
		return 0, 0, fmt.Errorf("sum daily sent: %w", err)
	}
	return period, day, nil
}

func (s *Service) periodStart(ctx context.Context, teamID int64, now time.Time) (time.Time, error) {
	start, err := s.repo.PeriodStart(ctx, teamID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load period start: %w", err)
	}
	if start != nil {
		return start.UTC(), nil
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
}

// MonthToDate summarizes the current billing period.
type MonthToDate struct {
	PeriodStart   string `json:"period_start"`
	Marketing     int64  `json:"marketing"`
	Transactional int64  `json:"transactional"`
	BillableUnits int64  `json:"billable_units"`
	CostCents     int64  `json:"cost_cents"`
}

// MonthToDate returns sends by traffic type for the current period with
// the billable-unit conversion applied.
func (s *Service) MonthToDate(ctx context.Context, teamID int64) (*MonthToDate, error) {
	now := time.Now().UTC()
	start, err := s.periodStart(ctx, teamID, now)
	if err != nil {
		return nil, err
	}

	byType, err := s.repo.SumByType(ctx, teamID, start.Format("2006-01-02"), now.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("sum by type: %w", err)
	}

	marketing := byType[domain.TrafficMarketing]
	transactional := byType[domain.TrafficTransactional]
	units := s.BillableUnits(marketing, transactional)

	return &MonthToDate{
		PeriodStart:   start.Format("2006-01-02"),
		Marketing:     marketing,
		Transactional: transactional,
		BillableUnits: units,
		CostCents:     units * int64(s.billing.UnitPriceCents),
	}, nil
}

// BillableUnits converts raw send counts to billed units: every marketing
// email is one unit, transactional emails bill at the configured ratio
// with the remainder free.
func (s *Service) BillableUnits(marketing, transactional int64) int64 {
	return marketing + transactional/int64(s.billing.TransactionalRatio)
}

// Daily returns the team's daily rows for the inclusive date range.
func (s *Service) Daily(ctx context.Context, teamID int64, from, to string) ([]domain.DailyUsage, error) {
	for _, d := range []string{from, to} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, fmt.Errorf("bad date %q: %w", d, err)
		}
	}
	return s.repo.Range(ctx, teamID, from, to)
}

// ReputationLevel grades a domain's standing.
type ReputationLevel string

const (
	ReputationHealthy  ReputationLevel = "HEALTHY"
	ReputationWarning  ReputationLevel = "WARNING"
	ReputationCritical ReputationLevel = "CRITICAL"
)

// Reputation is the bounce/complaint standing for one sending domain.
type Reputation struct {
	TeamID        int64           `json:"team_id"`
	DomainID      int64           `json:"domain_id"`
	Delivered     int64           `json:"delivered"`
	HardBounced   int64           `json:"hard_bounced"`
	Complained    int64           `json:"complained"`
	BounceRate    float64         `json:"bounce_rate"`
	ComplaintRate float64         `json:"complaint_rate"`
	Level         ReputationLevel `json:"level"`
}

// DomainReputation grades a sending domain from its cumulative metrics.
func (s *Service) DomainReputation(ctx context.Context, teamID, domainID int64) (*Reputation, error) {
	m, err := s.repo.Cumulative(ctx, teamID, domainID)
	if err != nil {
		return nil, fmt.Errorf("load cumulative metrics: %w", err)
	}

	r := &Reputation{
		TeamID:        teamID,
		DomainID:      domainID,
		Delivered:     m.Delivered,
		HardBounced:   m.HardBounced,
		Complained:    m.Complained,
		BounceRate:    m.BounceRate(),
		ComplaintRate: m.ComplaintRate(),
		Level:         ReputationHealthy,
	}

	switch {
	case r.BounceRate >= BounceRateCritical || r.ComplaintRate >= ComplaintRateCritical:
		r.Level = ReputationCritical
	case r.BounceRate >= BounceRateWarn || r.ComplaintRate >= ComplaintRateWarn:
		r.Level = ReputationWarning
	}
	return r, nil
}
