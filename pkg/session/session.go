// Package session defines the external contract a backend database must
// satisfy to be managed by a pool: a factory that opens authenticated
// sessions, and the minimal operations the pool engine needs to probe and
// reset a session it has borrowed.
package session

import (
	"context"
	"time"
)

// Conn is a live, authenticated transport to a database backend. It is the
// underlying resource a pool.PooledSession wraps.
type Conn interface {
	// Ping reports whether the session is still reachable. Used by the
	// health monitor's vendor-level liveness check when no probe SQL is
	// configured.
	Ping(ctx context.Context) error

	// ExecContext runs a statement with no result rows, used for the
	// configured probe SQL and for post-return session reset.
	ExecContext(ctx context.Context, query string) error

	// Close tears down the underlying transport. Called exactly once,
	// when the pool destroys the session.
	Close() error
}

// Resetter is implemented by factories whose backend needs server-side
// session-state scrubbing between borrows (e.g. SQL Server's
// sp_reset_connection). Optional: a factory that does not implement it is
// treated as needing no reset step.
type Resetter interface {
	Reset(ctx context.Context, c Conn) error
}

// Options carries the connection parameters a Factory needs to open a
// session: target, credentials, and the driver-specific property bag from
// configuration (custom properties, isolation level, autocommit).
type Options struct {
	Host       string
	Port       int
	Database   string
	Username   string
	Password   string
	Isolation  string
	AutoCommit bool

	// ConnectTimeout bounds how long Open may take to establish the
	// transport and verify reachability.
	ConnectTimeout time.Duration

	// Properties is merged into the backend's connection property bag
	// (the configured customProperties).
	Properties map[string]string
}

// Factory produces authenticated backend sessions on demand. The pool never
// constructs a Conn directly; it always goes through a Factory so the pool
// engine stays backend-agnostic.
type Factory interface {
	// Open establishes one new session with opts applied. The returned
	// Conn is exclusively owned by the caller (the pool) until Close.
	Open(ctx context.Context, opts Options) (Conn, error)

	// Name identifies the backend for logging ("sqlserver", "mysql", ...).
	Name() string
}
