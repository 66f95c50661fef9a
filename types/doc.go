// Package types provides shared types and error definitions for the conduit library.
//
// This is a leaf package with zero conduit imports to prevent import cycles.
// All packages in conduit can safely import this package.
//
// # Types
//
// Mode selects which backend a client is built on:
//
//	const (
//	    ModeSandbox Mode = "sandbox" // wire protocol over a host capability
//	    ModeDirect  Mode = "direct"  // native driver over a real socket
//	)
//
// QueryResult is the uniform result shape both backends return, with rows as
// column-name-keyed maps (nil for SQL NULL) and column metadata in Fields.
//
// # Errors
//
// Failures fall into four groups, all usable with errors.Is / errors.As:
//
//   - Transport: *TransportError wrapping the failing capability call
//   - Protocol: *ProtocolError, *UnsupportedAuthError, ErrReadTimeout
//   - Server-reported: *PgError carrying severity, SQLSTATE, message, detail
//   - Lifecycle: ErrNotConnected, ErrAlreadyConnected, ErrSessionClosed,
//     ErrSessionBusy, ErrPoolClosed, ErrPoolExhausted
//
// Nothing is retried automatically; failed sessions are discarded and retry
// policy is a caller concern.
package types
