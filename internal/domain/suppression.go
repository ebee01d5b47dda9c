package domain

import (
	"strings"
	"time"
)

// SuppressionReason enumerates why an email was suppressed.
type SuppressionReason string

const (
	ReasonHardBounce  SuppressionReason = "HARD_BOUNCE"
	ReasonComplaint   SuppressionReason = "COMPLAINT"
	ReasonManual      SuppressionReason = "MANUAL"
	ReasonUnsubscribe SuppressionReason = "UNSUBSCRIBE"
)

// ValidSuppressionReason reports whether r is a known reason.
func ValidSuppressionReason(r SuppressionReason) bool {
	switch r {
	case ReasonHardBounce, ReasonComplaint, ReasonManual, ReasonUnsubscribe:
		return true
	}
	return false
}

// Suppression is a (team, email) pair blocked from sending. Presence of an
// entry unconditionally blocks dispatch to that address for that team.
type Suppression struct {
	ID     string            `json:"id" db:"id"`
	TeamID int64             `json:"team_id" db:"team_id"`
	Email  string            `json:"email" db:"email"`
	Reason SuppressionReason `json:"reason" db:"reason"`
	// Source describes the origin event, e.g. the email id whose bounce
	// produced the entry, or "manual".
	Source    string    `json:"source,omitempty" db:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail produces the canonical lookup key for suppression checks:
// trimmed and fully lowercased. Storage may preserve the local part's case;
// comparison never does.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
