package booking

import "errors"

// Kind classifies engine failures for callers. "No slots available" is not an
// error; only genuine failures carry a Kind.
type Kind string

const (
	// KindInvalidRequest: malformed input (unknown service/staff, bad date,
	// start in the past). Never retried.
	KindInvalidRequest Kind = "invalid_request"
	// KindPolicyViolation: request breaks minimum-notice/maximum-advance
	// settings, or the service/staff does not take online bookings.
	KindPolicyViolation Kind = "policy_violation"
	// KindSlotUnavailable: the slot is no longer free, either at
	// re-validation or because the storage exclusion constraint fired under
	// a concurrent booking. The caller must fetch fresh slots; the engine
	// never auto-retries.
	KindSlotUnavailable Kind = "slot_unavailable"
	// KindNotFound: the referenced appointment does not exist.
	KindNotFound Kind = "not_found"
	// KindStorageFailure: timeout or unreachable storage. Surfaced as
	// "try again"; retrying is left to the caller because an automatic
	// re-insert could double-book if the first write actually landed.
	KindStorageFailure Kind = "storage_failure"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// KindOf extracts the Kind from an engine error, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinels a Store implementation returns to the engine.
var (
	// ErrConflict: the insert would violate the staff/overlapping-buffered-
	// window exclusion constraint.
	ErrConflict = errors.New("overlapping appointment exists")
	ErrNotFound = errors.New("appointment not found")
	// ErrBadTransition: the appointment's current status does not allow the
	// requested transition.
	ErrBadTransition = errors.New("status transition not allowed")
)
