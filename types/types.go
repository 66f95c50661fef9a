// Package types provides shared types and errors for the Conduit library.
//
// This is a "leaf" package with no imports from other conduit packages,
// allowing it to be imported by any package without causing import cycles.
package types

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects which backend a Client is built on.
type Mode string

const (
	// ModeSandbox tunnels the Postgres wire protocol through a host-provided
	// capability transport. This is the mode used inside guest sandboxes
	// that have no socket syscalls.
	ModeSandbox Mode = "sandbox"

	// ModeDirect delegates to the native Postgres driver over a real socket.
	ModeDirect Mode = "direct"
)

// String returns the string representation of the Mode.
func (m Mode) String() string {
	return string(m)
}

// Config holds the connection parameters shared by both backends.
//
// YAML tags allow loading from a config file via conduit.ParseConfig.
type Config struct {
	// Host is the database server hostname.
	Host string `yaml:"host"`

	// Port is the database server port (default 5432).
	Port uint16 `yaml:"port"`

	// Database is the database name to connect to.
	Database string `yaml:"database"`

	// User is the role to authenticate as.
	User string `yaml:"user"`

	// Password is the password for cleartext or md5 authentication.
	// May be empty when the server does not challenge.
	Password string `yaml:"password"`

	// MaxConnections caps the number of concurrent protocol sessions the
	// pool will open (default 10).
	MaxConnections int `yaml:"max_connections"`

	// IdleTimeout is advisory; the pool records it but does not reap idle
	// sessions on its own. Hosts that pool on their side use it as a hint.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// Mode selects the sandboxed wire-protocol backend or the native driver.
	Mode Mode `yaml:"mode"`
}

// Validate checks the configuration for fields the core cannot default.
//
// Returns:
//   - error: Validation error, or nil if valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("conduit: config host cannot be empty")
	}
	if c.User == "" {
		return errors.New("conduit: config user cannot be empty")
	}
	if c.Database == "" {
		return errors.New("conduit: config database cannot be empty")
	}
	switch c.Mode {
	case ModeSandbox, ModeDirect:
	default:
		return fmt.Errorf("conduit: unknown mode %q", c.Mode)
	}
	if c.MaxConnections < 0 {
		return errors.New("conduit: max_connections cannot be negative")
	}

	return nil
}

// WithDefaults returns a copy of the config with unset fields defaulted.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.Mode == "" {
		c.Mode = ModeSandbox
	}

	return c
}

// FieldInfo describes one column of a query result.
type FieldInfo struct {
	// Name is the column name as reported by RowDescription.
	Name string

	// DataTypeOID is the Postgres type OID of the column.
	DataTypeOID uint32
}

// QueryResult is the uniform result shape returned by both backends.
//
// Rows preserve the field order of Fields: every row's key set equals the
// field name sequence. Values are string for text-format columns and nil
// for SQL NULL.
type QueryResult struct {
	// Rows holds one map per returned row, keyed by column name.
	Rows []map[string]any

	// RowCount is the server-reported affected/returned count when present,
	// else len(Rows).
	RowCount uint32

	// Fields describes the result columns in wire order.
	Fields []FieldInfo
}

// Logger is the minimal structured logging interface used throughout Conduit.
//
// The method set is compatible with zap.SugaredLogger, so a sugared zap
// logger can be passed directly via conduit.WithLogger.
type Logger interface {
	// Debug logs a message at debug level with key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs a message at info level with key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a message at warn level with key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs a message at error level with key-value pairs.
	Error(msg string, keysAndValues ...any)
}
