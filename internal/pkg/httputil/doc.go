// Package httputil writes the JSON envelopes the dispatch API speaks.
//
// Success helpers wrap a payload at the right status; error helpers emit
// the ErrorResponse envelope, optionally tagged with one of the send
// taxonomy codes (VALIDATION, SUPPRESSED, QUOTA_DENIED,
// DOMAIN_NOT_VERIFIED) so API clients and the SMTP gateway can branch on
// the failure class.
package httputil
