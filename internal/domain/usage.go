package domain

import "time"

// DailyUsage is one row per (team, domain, date, traffic type). Counters
// only increase and are derived solely from state-machine transitions.
type DailyUsage struct {
	TeamID     int64       `json:"team_id" db:"team_id"`
	DomainID   int64       `json:"domain_id" db:"domain_id"`
	Date       string      `json:"date" db:"date"` // YYYY-MM-DD
	Type       TrafficType `json:"type" db:"type"`
	Sent       int64       `json:"sent" db:"sent"`
	Delivered  int64       `json:"delivered" db:"delivered"`
	Opened     int64       `json:"opened" db:"opened"`
	Clicked    int64       `json:"clicked" db:"clicked"`
	Bounced    int64       `json:"bounced" db:"bounced"`
	HardBounced int64      `json:"hard_bounced" db:"hard_bounced"`
	Complained int64       `json:"complained" db:"complained"`
}

// CumulativeMetrics holds running totals per (team, domain) used to compute
// bounce-rate and complaint-rate percentages for reputation warnings.
// Incremented on qualifying webhook events, never decremented.
type CumulativeMetrics struct {
	TeamID      int64 `json:"team_id" db:"team_id"`
	DomainID    int64 `json:"domain_id" db:"domain_id"`
	Delivered   int64 `json:"delivered" db:"delivered"`
	HardBounced int64 `json:"hard_bounced" db:"hard_bounced"`
	Complained  int64 `json:"complained" db:"complained"`
}

// BounceRate returns hard bounces as a fraction of delivered+bounced mail.
func (m *CumulativeMetrics) BounceRate() float64 {
	total := m.Delivered + m.HardBounced
	if total == 0 {
		return 0
	}
	return float64(m.HardBounced) / float64(total)
}

// ComplaintRate returns complaints as a fraction of delivered mail.
func (m *CumulativeMetrics) ComplaintRate() float64 {
	if m.Delivered == 0 {
		return 0
	}
	return float64(m.Complained) / float64(m.Delivered)
}

// Subscription captures the billing period for paid plans; month-to-date
// usage windows start at CurrentPeriodStart instead of the first of month.
type Subscription struct {
	ID                 string    `json:"id" db:"id"`
	TeamID             int64     `json:"team_id" db:"team_id"`
	CurrentPeriodStart time.Time `json:"current_period_start" db:"current_period_start"`
	Status             string    `json:"status" db:"status"`
}
