package types

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Querier exposes only methods for running SQL queries, and some helper functions.
type Querier interface {
	NewContext() context.Context
	TimeNow() time.Time
	Type() DBType
	Rebind(query string) string
	ExecContext(ctx context.Context, sql string, arguments ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DBType identifies the database engine behind a connection.
type DBType string

// All recognized database engines.
const (
	DBPostgreSQL DBType = "postgresql"
	DBH2         DBType = "h2"
	DBSQLite     DBType = "sqlite"
	DBMySQL      DBType = "mysql"
	DBUnknown    DBType = "unknown"
)

// DBTypeFromString returns a valid DBType for the given string, or an error if
// the value is invalid.
func DBTypeFromString(val string) (DBType, error) {
	switch DBType(val) {
	case DBPostgreSQL, DBH2, DBSQLite, DBMySQL, DBUnknown:
		return DBType(val), nil
	}
	return "", fmt.Errorf("unsupported database type '%s'", val)
}

// ClassifyProduct maps a database product string (a driver name or the output
// of a version query) to a DBType using case-insensitive substring matching.
func ClassifyProduct(product string) DBType {
	p := strings.ToLower(product)
	switch {
	case strings.Contains(p, "postgres"), strings.Contains(p, "pgx"):
		return DBPostgreSQL
	case strings.Contains(p, "sqlite"):
		return DBSQLite
	case strings.Contains(p, "mysql"), strings.Contains(p, "mariadb"):
		return DBMySQL
	case strings.Contains(p, "h2"):
		return DBH2
	}
	return DBUnknown
}

// SupportsTransactions reports whether the engine is known to support
// transactional execution. Unknown engines are conservatively assumed not to.
func (t DBType) SupportsTransactions() bool {
	switch t {
	case DBPostgreSQL, DBH2, DBSQLite, DBMySQL:
		return true
	case DBUnknown:
	}
	return false
}

// HasAdvisoryLocks reports whether the engine provides native session-scoped
// advisory locks.
func (t DBType) HasAdvisoryLocks() bool {
	return t == DBPostgreSQL
}

// Filter is used to dynamically modify queries.
type Filter struct {
	Where string
	Args  []any
	Limit int
}

// NewFilter creates a new query filter.
func NewFilter(where string, args []any) *Filter {
	return &Filter{Where: where, Args: args}
}

// And joins f2 with f1 using an AND condition.
func (f1 *Filter) And(f2 *Filter) *Filter {
	return &Filter{
		Where: fmt.Sprintf("%s AND %s", f1.Where, f2.Where),
		Args:  slices.Concat(f1.Args, f2.Args),
	}
}

// Or joins f2 with f1 using an OR condition.
func (f1 *Filter) Or(f2 *Filter) *Filter {
	return &Filter{
		Where: fmt.Sprintf("%s OR %s", f1.Where, f2.Where),
		Args:  slices.Concat(f1.Args, f2.Args),
	}
}
