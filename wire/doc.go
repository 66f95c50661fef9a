// Package wire implements the Postgres v3.0 wire-protocol subset used by
// the sandboxed backend: frontend message builders and backend message
// parsers, all pure functions over byte slices.
//
// Framing convention: every message is [tag][length u32 including
// itself][payload], big-endian, except StartupMessage which omits the tag.
// Parsers never panic on malformed input; they return *types.ProtocolError
// or stop gracefully at an incomplete trailing message.
//
// The subset always negotiates text-format columns. TLS, COPY and the
// cancel protocol are out of scope.
package wire
