// Package streamerr holds the shared error kinds for the HLS and MPEG-TS
// subsystems. Callers classify with errors.As/errors.Is rather than string
// matching, mirroring the orchestrator's typed-error style.
package streamerr

import "fmt"

// Kind classifies an error without requiring callers to import every
// concrete error type.
type Kind string

const (
	KindInvalidPlaylist     Kind = "invalid_playlist"
	KindBadURI              Kind = "bad_uri"
	KindTransportError      Kind = "transport_error"
	KindFragmentFetchFailed Kind = "fragment_fetch_failed"
	KindNotFoundURI         Kind = "not_found_uri"
	KindMalformedTS         Kind = "malformed_ts"
	KindPMTMissing          Kind = "pmt_missing"
	KindSeekFailed          Kind = "seek_failed"
	KindNoKeyframe          Kind = "no_keyframe"
	KindCancelled           Kind = "cancelled"
)

// Error is the common envelope for every streamerr sentinel.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, streamerr.Sentinel(k)) matches any Error of kind k.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinel returns a zero-cause Error usable with errors.Is(err, streamerr.Sentinel(KindCancelled)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind, Message: string(kind)}
}
