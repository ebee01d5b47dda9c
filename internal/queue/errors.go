package queue

import (
	"errors"
	"fmt"

	"github.com/ignite/dispatch/internal/domain"
)

// Sentinel errors for the send queue.
var (
	// ErrNotFound means no email with that id exists for the team.
	ErrNotFound = errors.New("email not found")
	// ErrAlreadySent means a cancel arrived after dispatch started; the
	// email has left the cancellable states.
	ErrAlreadySent = errors.New("email already handed to the provider")
	// ErrBatchTooLarge caps batch enqueue size.
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d emails", MaxBatchSize)
)

// ValidationError reports a rejected enqueue field. The API layer maps it
// to a 400 with the field name.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SuppressedError marks a send refused because a recipient is on the
// team's suppression list.
type SuppressedError struct {
	Email string
}

func (e *SuppressedError) Error() string {
	return "recipient is suppressed"
}

// QuotaDeniedError marks a send refused by a plan limit. Unlike rate
// deferral it is terminal for the email.
type QuotaDeniedError struct {
	Reason domain.LimitReason
	Limit  int
}

func (e *QuotaDeniedError) Error() string {
	return fmt.Sprintf("plan limit reached: %s (limit %d)", e.Reason, e.Limit)
}

// DomainNotVerifiedError marks a send whose from-domain has not completed
// DNS verification.
type DomainNotVerifiedError struct {
	Domain string
	Status domain.DomainStatus
}

func (e *DomainNotVerifiedError) Error() string {
	return fmt.Sprintf("domain %s is not verified (status %s)", e.Domain, e.Status)
}
