package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.hackfix.me/strata/db"
	dbtypes "go.hackfix.me/strata/db/types"
)

// ExecOptions control how a migration is executed.
type ExecOptions struct {
	// NoTransaction disables transaction wrapping even on engines that
	// support it. By default migrations run inside a transaction.
	NoTransaction bool
	// MaxRetries bounds re-execution of transient failures. Zero means no
	// retries.
	MaxRetries int
	// RetryDelay is the sleep between retry attempts.
	RetryDelay time.Duration
}

// Result is the outcome of executing a migration. Execution failures are
// data, not errors, at this layer.
type Result struct {
	Success       bool
	Duration      time.Duration
	RowsAffected  int64
	Error         string
	SQLState      string
	ErrorCode     int
	RetryAttempts int
}

// SQLValidation is the outcome of the coarse SQL safety check.
type SQLValidation struct {
	Valid  bool
	Errors []string
}

// statementKeywords are the statement types a migration must contain at least
// one of.
var statementKeywords = []string{
	"CREATE", "ALTER", "DROP", "INSERT", "UPDATE", "DELETE", "SELECT",
}

// dangerousPatterns are rejected outright regardless of context.
var dangerousPatterns = []string{
	"DROP DATABASE", "TRUNCATE ALL",
}

// Executor runs migration SQL against the target database with timing,
// optional transaction wrapping and basic safety checks.
type Executor struct {
	d      *db.DB
	logger *slog.Logger
}

// NewExecutor returns an Executor over the given database.
func NewExecutor(d *db.DB, logger *slog.Logger) *Executor {
	return &Executor{d: d, logger: logger.With("component", "executor")}
}

// DBType returns the engine type detected at connection time.
func (e *Executor) DBType() dbtypes.DBType {
	return e.d.Type()
}

// SupportsTransactions reports whether the connected engine supports
// transactional execution.
func (e *Executor) SupportsTransactions() bool {
	return e.d.Type().SupportsTransactions()
}

// ValidateSQL performs a coarse safety check on migration content. It is not
// a SQL parser: it only verifies that the content is non-empty, contains at
// least one recognized statement keyword, and matches no dangerous pattern.
func (e *Executor) ValidateSQL(content string) SQLValidation {
	v := SQLValidation{Valid: true}

	if strings.TrimSpace(content) == "" {
		return SQLValidation{Errors: []string{"migration content is empty"}}
	}

	upper := strings.ToUpper(content)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(upper, pattern) {
			v.Valid = false
			v.Errors = append(v.Errors, fmt.Sprintf("dangerous SQL pattern '%s' is not allowed", pattern))
		}
	}

	var hasStatement bool
	for _, kw := range statementKeywords {
		if strings.Contains(upper, kw) {
			hasStatement = true
			break
		}
	}
	if !hasStatement {
		v.Valid = false
		v.Errors = append(v.Errors, "no recognized SQL statement found")
	}

	return v
}

// ExecuteSQL runs a single SQL statement and returns the driver result. It is
// the exception-oriented entry point: unlike ExecuteMigration, it returns
// driver errors to the caller.
func (e *Executor) ExecuteSQL(ctx context.Context, content string) (sql.Result, error) {
	res, err := e.d.ExecContext(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed executing SQL: %w", err)
	}
	return res, nil
}

// ExecuteMigration runs a migration's SQL with wall-clock timing and optional
// transaction wrapping. Validation failures short-circuit without the driver
// ever being invoked. Driver errors are captured in the result, never
// returned; no ledger write happens here.
func (e *Executor) ExecuteMigration(ctx context.Context, f *File, opts ExecOptions) *Result {
	if v := e.ValidateSQL(f.Content); !v.Valid {
		return &Result{Error: strings.Join(v.Errors, "; ")}
	}

	logger := e.logger.With("version", f.Version, "module", f.Module, "name", f.Name)

	useTx := !opts.NoTransaction && e.SupportsTransactions()
	start := time.Now()

	var (
		res sql.Result
		err error
	)
	if useTx {
		res, err = e.executeInTx(ctx, f.Content)
	} else {
		res, err = e.d.ExecContext(ctx, f.Content)
	}
	elapsed := time.Since(start)

	if err != nil {
		state, code := dbtypes.SQLState(err)
		logger.Warn("migration execution failed",
			"duration", elapsed, "sql_state", state, "error", err)
		return &Result{
			Duration:  elapsed,
			Error:     err.Error(),
			SQLState:  state,
			ErrorCode: code,
		}
	}

	var rowsAffected int64
	if res != nil {
		// Some drivers don't report affected rows for DDL.
		rowsAffected, _ = res.RowsAffected()
	}

	logger.Info("migration executed", "duration", elapsed, "rows_affected", rowsAffected)

	return &Result{Success: true, Duration: elapsed, RowsAffected: rowsAffected}
}

func (e *Executor) executeInTx(ctx context.Context, content string) (sql.Result, error) {
	tx, err := e.d.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed starting transaction: %w", err)
	}

	res, err := tx.ExecContext(ctx, content)
	if err != nil {
		//nolint:errcheck // The execution error takes precedence.
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed committing transaction: %w", err)
	}

	return res, nil
}

// ExecuteWithRetry re-invokes ExecuteMigration for failures that look
// transient, up to opts.MaxRetries times, sleeping opts.RetryDelay between
// attempts. The returned result carries the number of retries performed.
func (e *Executor) ExecuteWithRetry(ctx context.Context, f *File, opts ExecOptions) *Result {
	var attempts int
	for {
		res := e.ExecuteMigration(ctx, f, opts)
		res.RetryAttempts = attempts
		if res.Success || !retryable(res.Error) || attempts >= opts.MaxRetries {
			return res
		}

		attempts++
		e.logger.Warn("retrying migration after transient failure",
			"version", f.Version, "attempt", attempts, "max_retries", opts.MaxRetries)

		select {
		case <-ctx.Done():
			res.Error = fmt.Sprintf("%s; retry aborted: %s", res.Error, ctx.Err())
			return res
		case <-time.After(opts.RetryDelay):
		}
	}
}

// retryable classifies an execution failure as transient by message
// substring. The SQL state is still captured in results for callers that
// want stronger classification.
func retryable(errMsg string) bool {
	if errMsg == "" {
		return false
	}
	msg := strings.ToLower(errMsg)
	for _, s := range []string{"connection", "timeout", "deadlock"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// dmlKeywords mark content that modifies data rather than schema.
var dmlKeywords = []string{"INSERT", "UPDATE", "DELETE"}

// RequiresTransaction recommends whether a migration should run inside a
// transaction. The default is true; the only exception is a DDL-only
// migration larger than 50,000 characters, since very large DDL batches can
// benefit from incremental commits on engines with weak DDL transaction
// support.
func RequiresTransaction(f *File) bool {
	if len(f.Content) <= 50000 {
		return true
	}

	upper := strings.ToUpper(f.Content)
	for _, kw := range dmlKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}

	return false
}
