package harnessports

import "fmt"

// ErrorKind classifies a failed tool call for the calling loop. The kind is
// the contract: callers branch on it, messages are advisory.
type ErrorKind string

const (
	// Sandbox policy rejections. Never retried.
	KindNotAllowed ErrorKind = "not_allowed"
	KindDenied     ErrorKind = "denied"
	KindMalformed  ErrorKind = "malformed"

	// Filesystem operational errors. Reported, not retried.
	KindNotFound      ErrorKind = "not_found"
	KindAlreadyExists ErrorKind = "already_exists"
	KindTooLarge      ErrorKind = "too_large"

	// Network transients. The dispatcher may retry these once.
	KindEngineUnavailable ErrorKind = "engine_unavailable"
	KindTimeout           ErrorKind = "timeout"
	KindUnreachableHost   ErrorKind = "unreachable_host"

	// Dispatch-level caller mistakes. Never retried.
	KindUnknownTool      ErrorKind = "unknown_tool"
	KindInvalidArguments ErrorKind = "invalid_arguments"

	// Catch-all for unexpected failures. Logged server-side with full
	// context; surfaced to the caller without internal detail.
	KindInternal ErrorKind = "internal"
)

// Retryable reports whether a single retry with backoff is worth attempting.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindEngineUnavailable, KindTimeout, KindUnreachableHost:
		return true
	default:
		return false
	}
}

// ToolError is the structured error carried inside a ToolCallResult.
type ToolError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf builds a ToolError with a formatted message. Retryable follows the
// kind's retry class.
func Errf(kind ErrorKind, format string, args ...any) *ToolError {
	return &ToolError{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: kind.Retryable(),
	}
}
