// Package native is the direct-mode backend: a thin pass-through to the
// mature pgx driver via database/sql, returning the same QueryResult shape
// as the sandboxed wire-protocol backend.
//
// It exists for processes that do have socket access; all protocol work is
// the driver's. NewFromDB accepts any database/sql handle, which the tests
// use with an in-memory sqlite database.
package native

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dotindustries/conduit/internal/logging"
	"github.com/dotindustries/conduit/types"
)

// Client wraps a database/sql handle behind the uniform query surface.
type Client struct {
	db     *sql.DB
	logger types.Logger
}

// Open connects to Postgres through the pgx stdlib driver.
//
// Parameters:
//   - cfg: Connection parameters (mode is ignored here)
//   - logger: Structured logger; may be nil
//
// Returns:
//   - *Client: The direct-mode client
//   - error: Driver open error
func Open(cfg types.Config, logger types.Logger) (*Client, error) {
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}

	db, err := sql.Open("pgx", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("conduit: open native driver: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	client := NewFromDB(db, logger)
	client.logger.Debug("native driver opened",
		"host", cfg.Host,
		"database", cfg.Database,
		"max_open_conns", cfg.MaxConnections,
	)

	return client, nil
}

// NewFromDB wraps an already-open database/sql handle.
//
// Parameters:
//   - db: The database handle (required)
//   - logger: Structured logger; may be nil
//
// Returns:
//   - *Client: The direct-mode client
func NewFromDB(db *sql.DB, logger types.Logger) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Client{db: db, logger: logger}
}

// Query executes one SQL statement.
//
// Row-returning statements run through QueryContext; other statements run
// through ExecContext and report the driver's affected-row count with no
// rows or fields.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - query: The SQL statement
//   - params: Optional bind parameters
//
// Returns:
//   - *types.QueryResult: Result in the shared shape (values as text or nil)
//   - error: Driver error
func (c *Client) Query(ctx context.Context, query string, params ...any) (*types.QueryResult, error) {
	if returnsRows(query) {
		return c.queryRows(ctx, query, params...)
	}

	res, err := c.db.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}

	return &types.QueryResult{RowCount: uint32(affected)}, nil
}

func (c *Client) queryRows(ctx context.Context, query string, params ...any) (*types.QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &types.QueryResult{Fields: make([]types.FieldInfo, len(cols))}
	for i, name := range cols {
		result.Fields[i] = types.FieldInfo{Name: name}
	}

	scan := make([]any, len(cols))
	for i := range scan {
		scan[i] = new(any)
	}

	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, name := range cols {
			row[name] = textValue(*scan[i].(*any))
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = uint32(len(result.Rows))

	return result, nil
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (c *Client) Close() error {
	return c.db.Close()
}

// returnsRows reports whether the statement's leading keyword produces a
// result set. Mirrors what the sandboxed backend gets for free from the
// wire protocol's RowDescription message.
func returnsRows(query string) bool {
	q := strings.TrimSpace(query)
	for _, kw := range []string{"SELECT", "VALUES", "WITH", "SHOW", "EXPLAIN", "TABLE"} {
		if len(q) >= len(kw) && strings.EqualFold(q[:len(kw)], kw) {
			return true
		}
	}

	return false
}

// textValue normalizes a scanned driver value to the text-or-nil shape the
// sandboxed backend produces.
func textValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02 15:04:05.999999Z07:00")
	default:
		return fmt.Sprintf("%v", t)
	}
}
