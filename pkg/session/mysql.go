package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLFactory opens MySQL sessions via database/sql and go-sql-driver/mysql.
// Like MSSQLFactory, each Conn is a *sql.DB pinned to one physical
// connection so the pool — not database/sql — owns session lifetime.
type MySQLFactory struct{}

func (MySQLFactory) Name() string { return "mysql" }

func (MySQLFactory) Open(ctx context.Context, opts Options) (Conn, error) {
	db, err := sql.Open("mysql", mysqlDSN(opts))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if opts.Isolation != "" {
		if _, err := db.ExecContext(ctx, "SET SESSION TRANSACTION ISOLATION LEVEL "+opts.Isolation); err != nil {
			db.Close()
			return nil, fmt.Errorf("set isolation level: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("SET autocommit = %d", boolToInt(opts.AutoCommit))); err != nil {
		db.Close()
		return nil, fmt.Errorf("set autocommit: %w", err)
	}

	return &sqlConn{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mysqlDSN(o Options) string {
	var b strings.Builder
	b.WriteString(o.Username)
	b.WriteString(":")
	b.WriteString(o.Password)
	b.WriteString("@tcp(")
	b.WriteString(o.Host)
	b.WriteString(":")
	b.WriteString(fmt.Sprint(o.Port))
	b.WriteString(")/")
	b.WriteString(o.Database)
	b.WriteString("?parseTime=true")
	if o.ConnectTimeout > 0 {
		b.WriteString("&timeout=")
		b.WriteString(o.ConnectTimeout.String())
	}
	for k, v := range o.Properties {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
	}
	return b.String()
}
