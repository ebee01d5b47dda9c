// Package suppression implements the per-team suppression list.
//
// This is the single source of truth for whether an address may receive
// mail from a team. Entries flow in from the webhook parser (hard bounces,
// complaints), the unsubscribe verifier, and manual admin actions, and are
// checked synchronously before every dispatch attempt.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
