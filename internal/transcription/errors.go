package transcription

import (
	"errors"
	"fmt"
)

// Kind classifies ingestion failures.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindDurationExceeded  Kind = "duration_exceeded"
	KindTranscodeFailure  Kind = "transcode_failure"
	KindModelUnavailable  Kind = "model_unavailable"
	KindEmptyTranscript   Kind = "empty_transcript"
	KindFetchFailure      Kind = "fetch_failure"
	KindUnknown           Kind = "unknown"
)

// Error is a classified ingestion failure. Message and Remediation are safe
// to show an operator; Err and Stderr carry diagnostics for the log.
type Error struct {
	Kind        Kind
	Message     string
	Remediation string
	Stderr      string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += " (stderr: " + e.Stderr + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrDurationExceeded  = &Error{Kind: KindDurationExceeded}
	ErrTranscodeFailure  = &Error{Kind: KindTranscodeFailure}
	ErrModelUnavailable  = &Error{Kind: KindModelUnavailable}
	ErrEmptyTranscript   = &Error{Kind: KindEmptyTranscript}
	ErrFetchFailure      = &Error{Kind: KindFetchFailure}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, msg, remediation string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Remediation: remediation, Err: err}
}
