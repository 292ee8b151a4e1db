package bridge

import "fmt"

// SecurityCode classifies a SecurityError.
type SecurityCode string

const (
	SecurityRateLimited SecurityCode = "rate_limited"
	SecurityReplay      SecurityCode = "replay_detected"
	SecurityDuplicate   SecurityCode = "duplicate_message"
)

// SecurityError rejects a message on rate-limit, replay, or duplicate
// grounds. It is fatal to that single message atomically, never retried,
// and always audited.
type SecurityError struct {
	Code    SecurityCode
	Message string
}

func (e *SecurityError) Error() string { return e.Message }

func newSecurityError(code SecurityCode, format string, args ...any) *SecurityError {
	return &SecurityError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AdapterError wraps a channel-adapter-internal failure (malformed wire
// payload, downstream API error) surfaced to the engine.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }
