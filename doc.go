// Package conduit provides a dual-mode Postgres client: one query API
// whether the process has direct network access or runs inside an isolated
// guest sandbox that must tunnel all bytes through a host capability.
//
// # Modes
//
// In sandbox mode the client speaks the Postgres v3.0 wire protocol itself
// (startup/authentication handshake, simple and extended queries,
// text-format result decoding) over the four-function capability boundary
// defined in package capability, and pools multiple protocol sessions. In
// direct mode it is a thin pass-through to the native pgx driver.
//
// # Basic Usage
//
//	cfg := types.Config{
//	    Host:     "db.internal",
//	    Database: "app",
//	    User:     "app",
//	    Password: "secret",
//	    Mode:     types.ModeSandbox,
//	}
//	client, err := conduit.New(cfg, conduit.WithTransport(hostTransport))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res, err := client.Query(ctx, "SELECT id, name FROM users WHERE id = $1", 42)
//
// # Error Handling
//
// Conduit uses standard Go errors with a small taxonomy in package types:
// transport failures (*types.TransportError), local protocol violations
// (*types.ProtocolError and friends), server-reported errors
// (*types.PgError, carrying SQLSTATE), and lifecycle guards (sentinels such
// as types.ErrPoolExhausted). Callers branch with errors.Is / errors.As:
//
//	var pgErr *types.PgError
//	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
//	    // unique violation
//	}
//
// Failed sessions are discarded, never repaired; retry policy belongs to
// the caller.
package conduit
