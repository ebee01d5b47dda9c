package domain

import "time"

// DomainStatus tracks DNS verification of a sending identity.
type DomainStatus string

const (
	DomainNotStarted       DomainStatus = "NOT_STARTED"
	DomainPending          DomainStatus = "PENDING"
	DomainSuccess          DomainStatus = "SUCCESS"
	DomainFailed           DomainStatus = "FAILED"
	DomainTemporaryFailure DomainStatus = "TEMPORARY_FAILURE"
)

// SendingDomain is a verified sending identity. A domain must reach SUCCESS
// before dispatch accepts it as a from address; the queue enforces this,
// not the UI.
type SendingDomain struct {
	ID            int64        `json:"id" db:"id"`
	TeamID        int64        `json:"team_id" db:"team_id"`
	Name          string       `json:"name" db:"name"`
	Region        string       `json:"region" db:"region"`
	Status        DomainStatus `json:"status" db:"status"`
	ClickTracking bool         `json:"click_tracking" db:"click_tracking"`
	OpenTracking  bool         `json:"open_tracking" db:"open_tracking"`
	DKIMStatus    string       `json:"dkim_status,omitempty" db:"dkim_status"`
	SPFStatus     string       `json:"spf_status,omitempty" db:"spf_status"`
	// DKIMTokens are the provider-issued CNAME tokens published at
	// <token>._domainkey.<name>.
	DKIMTokens []string `json:"dkim_tokens,omitempty" db:"dkim_tokens"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// RegionSetting holds per-provider-region dispatch configuration: the send
// rate budget, the transactional/marketing quota split, and the four named
// configuration sets that toggle open/click tracking. Exactly one setting
// exists per region.
type RegionSetting struct {
	ID     string `json:"id" db:"id"`
	Region string `json:"region" db:"region"`
	// SendRate is the region budget in emails per second.
	SendRate int `json:"send_rate" db:"send_rate"`
	// TransactionalQuotaPercent is the share of SendRate reserved for
	// transactional traffic, in [0,100].
	TransactionalQuotaPercent int `json:"transactional_quota_percent" db:"transactional_quota_percent"`
	CallbackURL               string `json:"callback_url" db:"callback_url"`
	CallbackSuccess           bool   `json:"callback_success" db:"callback_success"`

	// Named configuration sets per tracking combination.
	ConfigGeneral string `json:"config_general" db:"config_general"`
	ConfigOpen    string `json:"config_open" db:"config_open"`
	ConfigClick   string `json:"config_click" db:"config_click"`
	ConfigFull    string `json:"config_full" db:"config_full"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MarketingRate returns the instantaneous cap for marketing traffic.
func (s *RegionSetting) MarketingRate() int {
	return s.SendRate * (100 - s.TransactionalQuotaPercent) / 100
}

// Team owns domains, emails and suppressions. Only the fields the pipeline
// consults are modeled; account management lives elsewhere.
type Team struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Plan      Plan      `json:"plan" db:"plan"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// APIKey authenticates send requests from SDKs and the SMTP gateway.
type APIKey struct {
	ID        string     `json:"id" db:"id"`
	TeamID    int64      `json:"team_id" db:"team_id"`
	TokenHash string     `json:"-" db:"token_hash"`
	Name      string     `json:"name" db:"name"`
	LastUsed  *time.Time `json:"last_used,omitempty" db:"last_used"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
