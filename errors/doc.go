// Package errors provides standardized error handling for semchannels components.
//
// # Overview
//
// Errors are classified into three classes that drive caller behaviour:
//
//   - Transient: transport failures, fetch timeouts, registration rejected (retry is the caller's choice)
//   - Invalid: lifecycle violations, undecodable payloads, bad input (do not retry)
//   - Fatal: malformed channel names, unsupported schemes, invalid configuration (stop)
//
// The channel layer maps its error taxonomy onto these classes:
//
//	LifecycleError   -> WrapInvalid(ErrAlreadyOpen | ErrCloseScheduled | ErrNotOpen | ErrChannelClosed)
//	IOFailure        -> WrapTransient(ErrRegistrationFailed | ErrFetchTimeout | ErrSendFailed)
//	DecodeFailure    -> WrapInvalid(ErrDecodeFailed)
//	construction     -> WrapFatal(ErrMalformedName | ErrSchemeMismatch)
//
// Dropped requests have no error value at all: the responder sends nothing and the
// requester observes ErrFetchTimeout.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Use the classification-aware wrappers:
//
//	errors.WrapTransient(err, "NotificationChannel", "Latest", "fetch latest")
//	errors.WrapInvalid(errors.ErrNotOpen, "NotificationChannel", "Publish", "check state")
//	errors.WrapFatal(err, "Provider", "Notification", "parse channel name")
//
// All wrapped errors support the standard library errors.Is and errors.As:
//
//	if stderrors.Is(err, errors.ErrFetchTimeout) {
//	    // the responder dropped the request or nobody answered
//	}
package errors
