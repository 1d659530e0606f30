package session

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

// MSSQLFactory opens SQL Server sessions via database/sql and go-mssqldb.
// Each returned Conn wraps a *sql.DB pinned to a single physical connection
// (MaxOpenConns=1), so every PooledSession maps 1:1 onto one SQL Server
// session rather than onto database/sql's own internal pool.
type MSSQLFactory struct{}

func (MSSQLFactory) Name() string { return "sqlserver" }

func (MSSQLFactory) Open(ctx context.Context, opts Options) (Conn, error) {
	db, err := sql.Open("sqlserver", mssqlDSN(opts))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // the pool manages lifetime itself.

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if opts.Isolation != "" {
		if _, err := db.ExecContext(ctx, "SET TRANSACTION ISOLATION LEVEL "+opts.Isolation); err != nil {
			db.Close()
			return nil, fmt.Errorf("set isolation level: %w", err)
		}
	}
	if !opts.AutoCommit {
		if _, err := db.ExecContext(ctx, "SET IMPLICIT_TRANSACTIONS ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("disable autocommit: %w", err)
		}
	}

	return &sqlConn{db: db}, nil
}

// Reset implements Resetter: sp_reset_connection clears session state
// (temp tables, SET options, transaction context) so a returned connection
// is safe to hand to a different borrower.
func (MSSQLFactory) Reset(ctx context.Context, c Conn) error {
	sc, ok := c.(*sqlConn)
	if !ok {
		return fmt.Errorf("mssql reset: unexpected conn type %T", c)
	}
	return sc.ExecContext(ctx, "EXEC sp_reset_connection")
}

func mssqlDSN(o Options) string {
	var b strings.Builder
	b.WriteString("sqlserver://")
	b.WriteString(o.Username)
	b.WriteString(":")
	b.WriteString(o.Password)
	b.WriteString("@")
	b.WriteString(o.Host)
	b.WriteString(":")
	b.WriteString(strconv.Itoa(o.Port))
	b.WriteString("?database=")
	b.WriteString(o.Database)
	if o.ConnectTimeout > 0 {
		b.WriteString("&connection+timeout=")
		b.WriteString(strconv.Itoa(int(o.ConnectTimeout.Seconds())))
	}
	for k, v := range o.Properties {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
	}
	return b.String()
}

// sqlConn adapts *sql.DB to the Conn interface.
type sqlConn struct {
	db *sql.DB
}

func (c *sqlConn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *sqlConn) ExecContext(ctx context.Context, query string) error {
	_, err := c.db.ExecContext(ctx, query)
	return err
}

func (c *sqlConn) Close() error { return c.db.Close() }

// DB exposes the underlying *sql.DB for callers that need to run queries
// beyond the pool's own reset/probe machinery.
func (c *sqlConn) DB() *sql.DB { return c.db }
