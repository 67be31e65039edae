// Package errs implements the closed error taxonomy shared by every
// component: a typed kind, an HTTP-style status, retryability, and a
// stable client-facing envelope.
package errs

import (
	"fmt"
	"time"
)

// Kind is a closed set of error categories. New kinds are never added
// by callers; only this package defines the set.
type Kind string

const (
	SessionNotFound         Kind = "SessionNotFound"
	SessionExpired          Kind = "SessionExpired"
	InvalidSessionState     Kind = "InvalidSessionState"
	AudioFormatError        Kind = "AudioFormatError"
	AudioTooLarge           Kind = "AudioTooLarge"
	AudioQualityError       Kind = "AudioQualityError"
	AudioBufferError        Kind = "AudioBufferError"
	LLMUnavailable          Kind = "LLMUnavailable"
	LLMQuotaExceeded        Kind = "LLMQuotaExceeded"
	LLMTimeout              Kind = "LLMTimeout"
	LLMResponseInvalid      Kind = "LLMResponseInvalid"
	PipelineTimeout         Kind = "PipelineTimeout"
	PipelineConfigError     Kind = "PipelineConfigError"
	PipelineResourceError   Kind = "PipelineResourceError"
	ChannelMessageError     Kind = "ChannelMessageError"
	StorageUnavailable      Kind = "StorageUnavailable"
	StorageCapacityExceeded Kind = "StorageCapacityExceeded"
	DataIntegrity           Kind = "DataIntegrity"
	ValidationError         Kind = "ValidationError"
	ConfigurationError      Kind = "ConfigurationError"
	RateLimitExceeded       Kind = "RateLimitExceeded"
	ServiceUnavailable      Kind = "ServiceUnavailable"
)

// statusOf maps each kind to its HTTP-style status code.
var statusOf = map[Kind]int{
	SessionNotFound:         404,
	SessionExpired:          410,
	InvalidSessionState:     409,
	AudioFormatError:        400,
	AudioTooLarge:           413,
	AudioQualityError:       422,
	AudioBufferError:        500,
	LLMUnavailable:          503,
	LLMQuotaExceeded:        429,
	LLMTimeout:              504,
	LLMResponseInvalid:      502,
	PipelineTimeout:         504,
	PipelineConfigError:     500,
	PipelineResourceError:   503,
	ChannelMessageError:     400,
	StorageUnavailable:      503,
	StorageCapacityExceeded: 507,
	DataIntegrity:           500,
	ValidationError:         400,
	ConfigurationError:      500,
	RateLimitExceeded:       429,
	ServiceUnavailable:      503,
}

// retryable is the designated retryable subset of §4.9.
var retryable = map[Kind]bool{
	LLMTimeout:            true,
	LLMUnavailable:        true,
	ChannelMessageError:   true,
	StorageUnavailable:    true,
	ServiceUnavailable:    true,
	PipelineResourceError: true,
}

// Retryable reports whether errors of kind k may be retried by a caller.
func Retryable(k Kind) bool {
	return retryable[k]
}

// StatusOf returns the HTTP-style status associated with kind k.
func StatusOf(k Kind) int {
	if s, ok := statusOf[k]; ok {
		return s
	}
	return 500
}

// CoachError is the concrete error type produced by every component.
type CoachError struct {
	Kind      Kind
	Message   string
	Status    int
	Details   map[string]any
	Timestamp time.Time
	cause     error
}

func (e *CoachError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoachError) Unwrap() error {
	return e.cause
}

// New constructs a CoachError of the given kind with an optional
// details map. Details may be nil.
func New(kind Kind, message string, details map[string]any) *CoachError {
	return &CoachError{
		Kind:      kind,
		Message:   message,
		Status:    StatusOf(kind),
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap constructs a CoachError of the given kind wrapping an
// underlying cause, preserving it for errors.Is/errors.As chains.
func Wrap(kind Kind, message string, cause error) *CoachError {
	return &CoachError{
		Kind:      kind,
		Message:   message,
		Status:    StatusOf(kind),
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// Envelope is the stable wire shape of §8 invariant 8: every error
// envelope parses to {error:true, code, message, status, details,
// timestamp, type}.
type Envelope struct {
	Error     bool           `json:"error"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
}

// ToEnvelope renders e as the client-facing error envelope.
func (e *CoachError) ToEnvelope() Envelope {
	return Envelope{
		Error:     true,
		Code:      string(e.Kind),
		Message:   e.Message,
		Status:    e.Status,
		Details:   e.Details,
		Timestamp: e.Timestamp,
		Type:      "error",
	}
}

// FromUpstreamStatus normalizes an upstream HTTP status code into a
// CoachError per §7: 401/403 never leak as client-bound unauthorized,
// 404 degrades to ServiceUnavailable, 429 maps to RateLimitExceeded,
// 5xx maps to ServiceUnavailable.
func FromUpstreamStatus(status int, upstream string) *CoachError {
	switch {
	case status == 401 || status == 403:
		return New(ServiceUnavailable, "upstream rejected credentials", map[string]any{"upstream": upstream, "upstream_status": status})
	case status == 404:
		return New(ServiceUnavailable, "upstream endpoint not found", map[string]any{"upstream": upstream, "upstream_status": status})
	case status == 429:
		return New(RateLimitExceeded, "upstream rate limit exceeded", map[string]any{"upstream": upstream, "upstream_status": status})
	case status >= 500:
		return New(ServiceUnavailable, "upstream service error", map[string]any{"upstream": upstream, "upstream_status": status})
	default:
		return New(ServiceUnavailable, "upstream returned unexpected status", map[string]any{"upstream": upstream, "upstream_status": status})
	}
}
