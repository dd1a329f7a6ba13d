// Package membriaerr defines the error taxonomy surfaced by the daemon,
// both on the tool protocol ({"type":"error","code":<kind>}) and in
// background worker logs. Every error handlers return is wrapped in one
// of the sentinels below so callers can use errors.Is and the protocol
// endpoint can recover a stable code string.
package membriaerr

import "errors"

// Sentinel errors forming the taxonomy from the error handling design.
// Wrap a cause with fmt.Errorf("...: %w", ErrX) to preserve both the
// taxonomy membership and the underlying detail.
var (
	// ErrValidation marks a caller-fixable argument shape, type, or range
	// error. Never retried.
	ErrValidation = errors.New("validation")

	// ErrNotFound marks a reference to an absent entity. Caller-fixable.
	ErrNotFound = errors.New("not_found")

	// ErrAlreadyTerminal marks an attempt to transition a Decision that has
	// already left the pending state. The existing state is never
	// overwritten.
	ErrAlreadyTerminal = errors.New("already_terminal")

	// ErrGraphUnavailable marks a transient Graph Store failure. The
	// endpoint surfaces it; the scheduler retries writes with exponential
	// backoff.
	ErrGraphUnavailable = errors.New("graph_unavailable")

	// ErrLLMUnavailable marks a transport-level failure calling the
	// external LLM.
	ErrLLMUnavailable = errors.New("llm_unavailable")

	// ErrLLMQuota marks a quota or rate-limit rejection from the external
	// LLM.
	ErrLLMQuota = errors.New("llm_quota")

	// ErrLLMMalformed marks an LLM response that could not be parsed as
	// the expected structured batch.
	ErrLLMMalformed = errors.New("llm_malformed")

	// ErrTimeout marks a handler, LLM call, or graph query that exceeded
	// its configured deadline. No partial state is left behind.
	ErrTimeout = errors.New("timeout")

	// ErrFrameTooLarge marks an inbound frame exceeding the configured
	// byte limit. The endpoint remains open.
	ErrFrameTooLarge = errors.New("frame_too_large")

	// ErrProtocol marks malformed inbound framing (invalid JSON, unknown
	// shape). The endpoint remains open.
	ErrProtocol = errors.New("protocol_error")

	// ErrShuttingDown marks the endpoint refusing new work during a
	// graceful shutdown drain.
	ErrShuttingDown = errors.New("shutting_down")

	// ErrUnknownDomain marks a calibration query for a domain with no
	// profile yet. Callers of get_calibration treat this as an empty
	// profile rather than a hard failure; it is exported for components
	// that need to distinguish the two cases explicitly.
	ErrUnknownDomain = errors.New("unknown_domain")
)

// taxonomy lists every sentinel in the order Code checks them, most
// specific first where ambiguity is possible.
var taxonomy = []error{
	ErrValidation,
	ErrNotFound,
	ErrAlreadyTerminal,
	ErrGraphUnavailable,
	ErrLLMUnavailable,
	ErrLLMQuota,
	ErrLLMMalformed,
	ErrTimeout,
	ErrFrameTooLarge,
	ErrProtocol,
	ErrShuttingDown,
	ErrUnknownDomain,
}

// Code maps err to its taxonomy code string, used as the protocol error
// frame's "code" field. Returns "internal" for errors that do not wrap any
// sentinel in the taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal"
}
