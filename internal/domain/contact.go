package domain

import "time"

// UnsubscribeReason records why a contact left a contact book.
type UnsubscribeReason string

const (
	UnsubscribedByLink      UnsubscribeReason = "UNSUBSCRIBED"
	UnsubscribedByBounce    UnsubscribeReason = "BOUNCED"
	UnsubscribedByComplaint UnsubscribeReason = "COMPLAINED"
)

// Contact is a campaign recipient with a subscription flag. Campaign sends
// skip unsubscribed contacts; the unsubscribe verifier toggles the flag.
type Contact struct {
	ID                string             `json:"id" db:"id"`
	ContactBookID     string             `json:"contact_book_id" db:"contact_book_id"`
	TeamID            int64              `json:"team_id" db:"team_id"`
	Email             string             `json:"email" db:"email"`
	Subscribed        bool               `json:"subscribed" db:"subscribed"`
	UnsubscribeReason *UnsubscribeReason `json:"unsubscribe_reason,omitempty" db:"unsubscribe_reason"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// Template is a stored email body rendered at dispatch time.
type Template struct {
	ID        string    `json:"id" db:"id"`
	TeamID    int64     `json:"team_id" db:"team_id"`
	Name      string    `json:"name" db:"name"`
	Subject   string    `json:"subject" db:"subject"`
	HTML      string    `json:"html" db:"html"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
