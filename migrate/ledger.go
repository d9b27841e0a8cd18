package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dbtypes "go.hackfix.me/strata/db/types"
)

// Status of a ledger entry.
type Status string

// All ledger entry statuses.
const (
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled-back"
)

// Record is the ledger entry of an applied migration.
type Record struct {
	Version       string
	Name          string
	Module        string
	AppliedAt     time.Time
	Checksum      string
	ExecutionTime time.Duration
	Status        Status
	DBType        dbtypes.DBType
	ErrorMessage  sql.Null[string]
}

// Ledger is the durable repository of applied migrations, backed by the
// schema_migrations table. All reads return entries in ascending version
// order.
type Ledger struct {
	d      dbtypes.Querier
	logger *slog.Logger
}

// NewLedger returns a Ledger over the given database.
func NewLedger(d dbtypes.Querier, logger *slog.Logger) *Ledger {
	return &Ledger{d: d, logger: logger.With("component", "ledger")}
}

// Ensure creates the ledger table and its secondary indexes if they don't
// exist yet.
func (l *Ledger) Ensure(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version           VARCHAR(14) PRIMARY KEY,
			name              VARCHAR(255) NOT NULL,
			module            VARCHAR(100) NOT NULL,
			applied_at        TIMESTAMP NOT NULL,
			checksum          VARCHAR(64) NOT NULL,
			execution_time_ms INTEGER NOT NULL DEFAULT 0,
			status            VARCHAR(20) NOT NULL DEFAULT 'success',
			db_type           VARCHAR(20),
			error_message     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schema_migrations_module
			ON schema_migrations (module)`,
		`CREATE INDEX IF NOT EXISTS idx_schema_migrations_applied_at
			ON schema_migrations (applied_at)`,
		`CREATE INDEX IF NOT EXISTS idx_schema_migrations_status
			ON schema_migrations (status)`,
	}
	for _, stmt := range stmts {
		if _, err := l.d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed creating ledger table: %w", err)
		}
	}

	return nil
}

// Insert records a migration in the ledger.
func (l *Ledger) Insert(ctx context.Context, rec *Record) error {
	stmt := l.d.Rebind(`INSERT INTO schema_migrations
		(version, name, module, applied_at, checksum, execution_time_ms, status, db_type, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := l.d.ExecContext(ctx, stmt,
		rec.Version, rec.Name, rec.Module, rec.AppliedAt.UTC(), rec.Checksum,
		rec.ExecutionTime.Milliseconds(), string(rec.Status), string(rec.DBType),
		rec.ErrorMessage)
	if err != nil {
		return dbtypes.Err("migration", fmt.Sprintf("version '%s'", rec.Version), err)
	}

	l.logger.Debug("recorded migration",
		"version", rec.Version, "module", rec.Module, "status", rec.Status)

	return nil
}

// Update rewrites an existing ledger entry in place, keyed by version. It is
// used when a migration is re-executed over a leftover non-success row, so
// the entry's checksum, timestamps and outcome all reflect the latest run.
func (l *Ledger) Update(ctx context.Context, rec *Record) error {
	stmt := l.d.Rebind(`UPDATE schema_migrations
		SET name = ?, module = ?, applied_at = ?, checksum = ?,
			execution_time_ms = ?, status = ?, db_type = ?, error_message = ?
		WHERE version = ?`)
	res, err := l.d.ExecContext(ctx, stmt,
		rec.Name, rec.Module, rec.AppliedAt.UTC(), rec.Checksum,
		rec.ExecutionTime.Milliseconds(), string(rec.Status), string(rec.DBType),
		rec.ErrorMessage, rec.Version)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	if n == 0 {
		return dbtypes.NoResultError{ModelName: "migration", ID: fmt.Sprintf("version '%s'", rec.Version)}
	}

	l.logger.Debug("rewrote migration entry",
		"version", rec.Version, "module", rec.Module, "status", rec.Status)

	return nil
}

// UpdateStatus updates the status, execution time and error message of an
// existing ledger entry.
func (l *Ledger) UpdateStatus(
	ctx context.Context, version string, status Status,
	executionTime time.Duration, errorMessage string,
) error {
	var errMsg sql.Null[string]
	if errorMessage != "" {
		errMsg = sql.Null[string]{V: errorMessage, Valid: true}
	}

	stmt := l.d.Rebind(`UPDATE schema_migrations
		SET status = ?, execution_time_ms = ?, error_message = ?
		WHERE version = ?`)
	res, err := l.d.ExecContext(ctx, stmt,
		string(status), executionTime.Milliseconds(), errMsg, version)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	if n == 0 {
		return dbtypes.NoResultError{ModelName: "migration", ID: fmt.Sprintf("version '%s'", version)}
	}

	return nil
}

// Delete removes a ledger entry. It returns false if no entry with the given
// version exists. An entry is deleted only as part of an explicit rollback.
func (l *Ledger) Delete(ctx context.Context, version string) (bool, error) {
	stmt := l.d.Rebind(`DELETE FROM schema_migrations WHERE version = ?`)
	res, err := l.d.ExecContext(ctx, stmt, version)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed getting affected rows: %w", err)
	}

	return n > 0, nil
}

// Applied returns all ledger entries in ascending version order.
func (l *Ledger) Applied(ctx context.Context) ([]*Record, error) {
	return l.query(ctx, nil)
}

// AppliedByModule returns the ledger entries of a single module in ascending
// version order.
func (l *Ledger) AppliedByModule(ctx context.Context, module string) ([]*Record, error) {
	return l.query(ctx, dbtypes.NewFilter("module = ?", []any{module}))
}

// Find returns the ledger entry with the given version. It returns a
// NoResultError if no such entry exists.
func (l *Ledger) Find(ctx context.Context, version string) (*Record, error) {
	recs, err := l.query(ctx, dbtypes.NewFilter("version = ?", []any{version}))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, dbtypes.NoResultError{ModelName: "migration", ID: fmt.Sprintf("version '%s'", version)}
	}

	return recs[0], nil
}

// Last returns the most recently applied successful entry by version, or a
// NoResultError if the ledger has no successful entries.
func (l *Ledger) Last(ctx context.Context) (*Record, error) {
	recs, err := l.query(ctx, dbtypes.NewFilter("status = ?", []any{string(StatusSuccess)}))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, dbtypes.NoResultError{ModelName: "migration", ID: "any version"}
	}

	return recs[len(recs)-1], nil
}

// Count returns the total number of ledger entries.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var count int
	err := l.d.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed counting migrations: %w", err)
	}

	return count, nil
}

// VerifyChecksum compares the ledger's recorded checksum for a version against
// a caller-supplied value computed from the current file content. A mismatch
// signals that an already-applied migration file was edited after the fact.
// Drift is reported, never auto-corrected.
func (l *Ledger) VerifyChecksum(ctx context.Context, version, expected string) (bool, error) {
	var stored string
	stmt := l.d.Rebind(`SELECT checksum FROM schema_migrations WHERE version = ?`)
	err := l.d.QueryRowContext(ctx, stmt, version).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, dbtypes.NoResultError{ModelName: "migration", ID: fmt.Sprintf("version '%s'", version)}
	}
	if err != nil {
		return false, fmt.Errorf("failed reading checksum for version '%s': %w", version, err)
	}

	return stored == expected, nil
}

func (l *Ledger) query(ctx context.Context, filter *dbtypes.Filter) (recs []*Record, rerr error) {
	query := `SELECT
			version, name, module, applied_at, checksum, execution_time_ms,
			status, db_type, error_message
		FROM schema_migrations %s
		ORDER BY version ASC`

	where := "1=1"
	args := []any{}
	if filter != nil {
		where = filter.Where
		args = filter.Args
	}

	query = l.d.Rebind(fmt.Sprintf(query, fmt.Sprintf("WHERE %s", where)))

	rows, err := l.d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbtypes.LoadError{ModelName: "migrations", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing migrations rows: %w", err)
		}
	}()

	recs = make([]*Record, 0)
	for rows.Next() {
		var (
			rec    Record
			execMs int64
			status string
			dbType sql.Null[string]
		)
		err = rows.Scan(&rec.Version, &rec.Name, &rec.Module, &rec.AppliedAt,
			&rec.Checksum, &execMs, &status, &dbType, &rec.ErrorMessage)
		if err != nil {
			return nil, dbtypes.ScanError{ModelName: "migration", Err: err}
		}
		rec.ExecutionTime = time.Duration(execMs) * time.Millisecond
		rec.Status = Status(status)
		if dbType.Valid {
			rec.DBType = dbtypes.DBType(dbType.V)
		}
		recs = append(recs, &rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over migrations rows: %w", err)
	}

	return recs, nil
}
