// Package db wraps database/sql with engine detection and helpers shared by
// the migration engine.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"
	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/jackc/pgx/v5/stdlib"

	"go.hackfix.me/strata/db/types"
)

// DB wraps sql.DB with additional context and engine type information.
type DB struct {
	*sql.DB
	ctx     context.Context
	timeNow func() time.Time
	dbType  types.DBType
}

var _ types.Querier = (*DB)(nil)

// Open creates and configures a new database connection for the given driver
// and DSN, and detects the engine type behind it. Supported drivers are
// "sqlite" and "pgx".
func Open(ctx context.Context, driver, dsn string, timeNow func() time.Time) (*DB, error) {
	var d *DB
	if driver == "sqlite" &&
		(strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:")) {
		defer func() {
			if d != nil {
				// See https://github.com/mattn/go-sqlite3#faq
				d.SetMaxIdleConns(10)
				d.SetConnMaxLifetime(time.Duration(math.Inf(1)))
			}
		}()
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening %s database: %w", driver, err)
	}

	d = &DB{DB: sqlDB, ctx: ctx, timeNow: timeNow}
	d.dbType = detectType(ctx, sqlDB, driver)

	if d.dbType == types.DBSQLite {
		// Enable foreign key enforcement
		if _, err = d.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
			return nil, fmt.Errorf("failed enabling foreign key enforcement: %w", err)
		}
	}

	return d, nil
}

// detectType classifies the engine behind the connection. The driver name is
// checked first; if it is inconclusive, the engine is asked for its product
// string directly.
func detectType(ctx context.Context, sqlDB *sql.DB, driver string) types.DBType {
	if t := types.ClassifyProduct(driver); t != types.DBUnknown {
		return t
	}

	var product string
	if err := sqlDB.QueryRowContext(ctx, `SELECT version()`).Scan(&product); err == nil {
		return types.ClassifyProduct(product)
	}
	if err := sqlDB.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&product); err == nil {
		return types.DBSQLite
	}

	return types.DBUnknown
}

// NewContext returns a new child context of the main database context.
func (d *DB) NewContext() context.Context {
	ctx, _ := context.WithCancel(d.ctx) //nolint:govet // Cancellation is tied to the parent.
	return ctx
}

// TimeNow returns the current system time.
func (d *DB) TimeNow() time.Time {
	return d.timeNow()
}

// Type returns the detected engine type of the connection.
func (d *DB) Type() types.DBType {
	return d.dbType
}

// Rebind converts '?' placeholders to the engine's native placeholder format.
// Question marks inside single-quoted literals are left alone.
func (d *DB) Rebind(query string) string {
	return rebind(d.dbType, query)
}

func rebind(dbType types.DBType, query string) string {
	if dbType != types.DBPostgreSQL {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	var inQuote bool
	n := 0
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}
