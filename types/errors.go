package types

import (
	"errors"
	"strconv"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrSessionClosed indicates an operation was attempted on a closed session.
	ErrSessionClosed = errors.New("conduit: session is closed")

	// ErrNotConnected indicates a query was issued before Connect succeeded.
	ErrNotConnected = errors.New("conduit: session is not connected")

	// ErrAlreadyConnected indicates Connect was called on a connected session.
	ErrAlreadyConnected = errors.New("conduit: session is already connected")

	// ErrSessionBusy indicates a query was issued while another exchange is
	// in flight on the same session. The wire protocol has no multiplexing;
	// concurrent use of one session is a caller bug.
	ErrSessionBusy = errors.New("conduit: session has a query in flight")

	// ErrPoolClosed indicates an operation was attempted after Pool.End.
	ErrPoolClosed = errors.New("conduit: pool has been ended")

	// ErrPoolExhausted indicates no idle session was available and the pool
	// is at its connection cap. Callers needing backpressure must retry.
	ErrPoolExhausted = errors.New("conduit: pool exhausted")

	// ErrReadTimeout indicates the capability transport produced no data for
	// the configured number of consecutive polls.
	ErrReadTimeout = errors.New("conduit: timed out waiting for server data")

	// ErrMissingPassword indicates the server challenged for a password but
	// none was configured.
	ErrMissingPassword = errors.New("conduit: server requested a password but none is configured")

	// ErrNilTransport indicates a sandbox-mode client was built without a
	// capability transport.
	ErrNilTransport = errors.New("conduit: capability transport cannot be nil")
)

// TransportError wraps a failure from one of the four capability functions.
type TransportError struct {
	// Op is the capability function that failed: "connect", "send", "recv"
	// or "close".
	Op string

	// Cause is the underlying error from the transport.
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return "conduit: capability " + e.Op + " failed: " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ProtocolError reports a malformed or unexpected wire-protocol exchange.
// Protocol errors are raised locally and never retried.
type ProtocolError struct {
	// Reason describes what the decoder could not accept.
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return "conduit: protocol error: " + e.Reason
}

// UnsupportedAuthError indicates the server requested an authentication
// method outside the cleartext/md5 subset this client implements.
type UnsupportedAuthError struct {
	// Code is the authentication sub-type code sent by the server.
	Code int32
}

// Error implements the error interface.
func (e *UnsupportedAuthError) Error() string {
	return "conduit: unsupported authentication method " + strconv.Itoa(int(e.Code))
}

// PoolExhaustedError reports pool exhaustion together with the configured cap.
type PoolExhaustedError struct {
	// Max is the configured connection cap.
	Max int
}

// Error implements the error interface.
func (e *PoolExhaustedError) Error() string {
	return "conduit: pool exhausted (max_connections=" + strconv.Itoa(e.Max) + ")"
}

// Unwrap maps the structured error onto the ErrPoolExhausted sentinel so
// callers can branch with errors.Is.
func (e *PoolExhaustedError) Unwrap() error {
	return ErrPoolExhausted
}

// PgError is a structured error reported by the server via an ErrorResponse
// message. It is surfaced distinctly from transport and protocol errors so
// callers can branch on SQLSTATE.
type PgError struct {
	// Severity is the server-reported severity, e.g. "ERROR" or "FATAL".
	Severity string

	// Code is the 5-character SQLSTATE classification code.
	Code string

	// Message is the primary human-readable message.
	Message string

	// Detail is the optional secondary message.
	Detail string

	// Hint is the optional suggestion for resolving the problem.
	Hint string
}

// Error implements the error interface.
func (e *PgError) Error() string {
	s := "conduit: server error " + e.Severity + " " + e.Code + ": " + e.Message
	if e.Detail != "" {
		s += " (" + e.Detail + ")"
	}

	return s
}

// SQLState returns the SQLSTATE code, mirroring the accessor that native
// Postgres drivers expose.
func (e *PgError) SQLState() string {
	return e.Code
}
