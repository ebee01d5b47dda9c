package ses

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// ErrThrottled marks a provider rejection that a bounded retry may clear:
// the account-level rate was exceeded at the exact send moment.
var ErrThrottled = errors.New("provider throttled the send")

// TransientError wraps provider failures worth retrying on a later pass.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient provider error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps provider rejections that retrying cannot fix. The
// email fails terminally.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent provider error: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ClassifyError sorts an SES API error into throttled, transient, or
// permanent. Unknown errors are treated as transient so that a provider
// hiccup never terminally fails mail.
func ClassifyError(err error) error {
	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return ErrThrottled
	}

	var (
		rejected    *types.MessageRejected
		suspended   *types.AccountSuspendedException
		notVerified *types.MailFromDomainNotVerifiedException
		badRequest  *types.BadRequestException
	)
	if errors.As(err, &rejected) || errors.As(err, &suspended) ||
		errors.As(err, &notVerified) || errors.As(err, &badRequest) {
		return &PermanentError{Err: err}
	}

	var paused *types.SendingPausedException
	var limit *types.LimitExceededException
	if errors.As(err, &paused) || errors.As(err, &limit) {
		return &TransientError{Err: err}
	}

	return &TransientError{Err: err}
}
