package domain

// Plan is a billing tier. Plan limits are static tables consulted against
// usage sums; -1 denotes unlimited.
type Plan string

const (
	PlanFree  Plan = "FREE"
	PlanBasic Plan = "BASIC"
)

// PlanLimits holds per-plan caps.
type PlanLimits struct {
	EmailsPerMonth int
	EmailsPerDay   int
	Domains        int
	ContactBooks   int
	TeamMembers    int
}

// Limits maps each plan to its caps.
var Limits = map[Plan]PlanLimits{
	PlanFree: {
		EmailsPerMonth: 3000,
		EmailsPerDay:   100,
		Domains:        1,
		ContactBooks:   1,
		TeamMembers:    1,
	},
	PlanBasic: {
		EmailsPerMonth: -1,
		EmailsPerDay:   -1,
		Domains:        -1,
		ContactBooks:   -1,
		TeamMembers:    -1,
	},
}

// LimitReason identifies which plan limit was exhausted, machine-readable
// so the dashboard can prompt an upgrade.
type LimitReason string

const (
	LimitEmail       LimitReason = "EMAIL"
	LimitDomain      LimitReason = "DOMAIN"
	LimitContactBook LimitReason = "CONTACT_BOOK"
	LimitTeamMember  LimitReason = "TEAM_MEMBER"
)

// LimitExceeded reports whether current has reached limit; -1 never trips.
func LimitExceeded(current, limit int) bool {
	if limit == -1 {
		return false
	}
	return current >= limit
}
