package conduit

import (
	"context"
	"fmt"

	"github.com/dotindustries/conduit/adapter/native"
	"github.com/dotindustries/conduit/types"
)

// Client is the uniform query surface over both backends.
//
// The backend is selected once at construction by New; call sites never
// branch on mode.
type Client interface {
	// Query executes one SQL statement and returns the decoded result.
	Query(ctx context.Context, sql string, params ...any) (*types.QueryResult, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases all backend resources. Safe to call twice.
	Close() error
}

// Compile-time assertions that both backends satisfy Client.
var (
	_ Client = (*Pool)(nil)
	_ Client = (*native.Client)(nil)
)

// New builds a Client for the configured mode.
//
// ModeSandbox returns a session pool over the capability transport given
// via WithTransport; ModeDirect opens the native Postgres driver over a
// real socket and ignores the transport.
//
// Parameters:
//   - cfg: Connection parameters and mode selector
//   - opts: Optional configuration (transport, logger, metrics, tuning)
//
// Returns:
//   - Client: The mode-appropriate backend
//   - error: Validation errors, ErrNilTransport in sandbox mode, or a
//     driver open error in direct mode
func New(cfg types.Config, opts ...Option) (Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Mode {
	case types.ModeSandbox:
		return NewPool(cfg, opts...)
	case types.ModeDirect:
		cc := DefaultClientConfig()
		for _, opt := range opts {
			opt(cc)
		}
		applyClientDefaults(cc)

		return native.Open(cfg, cc.Logger)
	default:
		return nil, fmt.Errorf("conduit: unknown mode %q", cfg.Mode)
	}
}
