// Package table implements the migration lock over a dedicated lock table,
// for engines without native advisory locks.
package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/go-sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	dbtypes "go.hackfix.me/strata/db/types"
	ltypes "go.hackfix.me/strata/lock/types"
)

// Lock is the table-based lock strategy, backed by the migration_locks
// table. Acquisition relies on the atomicity of primary-key inserts.
type Lock struct {
	d      dbtypes.Querier
	logger *slog.Logger

	// The holder is tracked locally so that only the client that acquired
	// the lock can release it.
	mu     sync.Mutex
	holder string
}

var _ ltypes.Locker = (*Lock)(nil)

// New returns a table lock client over the given database.
func New(d dbtypes.Querier, logger *slog.Logger) *Lock {
	return &Lock{d: d, logger: logger.With("component", "lock", "strategy", "table")}
}

// Ensure creates the lock table if it doesn't exist yet.
func (l *Lock) Ensure(ctx context.Context) error {
	_, err := l.d.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migration_locks (
		lock_key    VARCHAR(255) PRIMARY KEY,
		holder_id   VARCHAR(255) NOT NULL,
		acquired_at TIMESTAMP NOT NULL,
		expires_at  TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed creating lock table: %w", err)
	}

	return nil
}

// Acquire attempts an atomic insert of the lock row, cleaning stale rows
// before and between attempts, until the row is inserted or the timeout
// expires. A primary-key violation means someone else holds the lock.
func (l *Lock) Acquire(ctx context.Context, holderID string, timeout time.Duration) (bool, error) {
	if err := l.Ensure(ctx); err != nil {
		return false, err
	}
	if err := l.cleanStale(ctx); err != nil {
		return false, err
	}

	deadline := time.Now().Add(timeout)
	for {
		now := l.d.TimeNow().UTC()
		// The expiry carries a safety margin past the acquisition timeout, so
		// a crashed holder's row goes stale shortly after any contender has
		// given up waiting.
		expires := now.Add(timeout + ltypes.StaleMargin)

		stmt := l.d.Rebind(`INSERT INTO migration_locks
			(lock_key, holder_id, acquired_at, expires_at)
			VALUES (?, ?, ?, ?)`)
		_, err := l.d.ExecContext(ctx, stmt, ltypes.Key, holderID, now, expires)
		if err == nil {
			l.mu.Lock()
			l.holder = holderID
			l.mu.Unlock()
			l.logger.Debug("lock acquired", "holder_id", holderID, "expires_at", expires)
			return true, nil
		}

		if !heldByOther(err) {
			return false, fmt.Errorf("failed inserting lock row: %w", err)
		}

		if err = l.cleanStale(ctx); err != nil {
			return false, err
		}

		if time.Now().After(deadline) {
			l.logger.Debug("lock acquisition timed out",
				"holder_id", holderID, "timeout", timeout)
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(ltypes.PollInterval):
		}
	}
}

// Release deletes the lock row, but only where both the lock key and the
// holder ID match, defending against releasing a lock the caller doesn't own.
func (l *Lock) Release(ctx context.Context, holderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == "" || l.holder != holderID {
		return ltypes.ErrNotHolder
	}

	stmt := l.d.Rebind(`DELETE FROM migration_locks WHERE lock_key = ? AND holder_id = ?`)
	res, err := l.d.ExecContext(ctx, stmt, ltypes.Key, holderID)
	if err != nil {
		return fmt.Errorf("failed deleting lock row: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	if n == 0 {
		// Expired and cleaned up, or force released.
		l.logger.Warn("lock row was already gone on release", "holder_id", holderID)
	}

	l.holder = ""
	l.logger.Debug("lock released", "holder_id", holderID)

	return nil
}

// Status cleans stale rows, then reports whether a lock row exists and
// whether it is itself stale.
func (l *Lock) Status(ctx context.Context) (*ltypes.Status, error) {
	if err := l.Ensure(ctx); err != nil {
		return nil, err
	}
	if err := l.cleanStale(ctx); err != nil {
		return nil, err
	}

	stmt := l.d.Rebind(`SELECT holder_id, acquired_at, expires_at
		FROM migration_locks WHERE lock_key = ?`)

	status := &ltypes.Status{}
	rows, err := l.d.QueryContext(ctx, stmt, ltypes.Key)
	if err != nil {
		return nil, fmt.Errorf("failed querying lock status: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only query.

	if rows.Next() {
		err = rows.Scan(&status.HolderID, &status.AcquiredAt, &status.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("failed scanning lock status: %w", err)
		}
		status.Locked = true
		status.Stale = status.ExpiresAt.Before(l.d.TimeNow().UTC())
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over lock rows: %w", err)
	}

	return status, nil
}

// ForceRelease unconditionally deletes all rows for the lock key.
func (l *Lock) ForceRelease(ctx context.Context, adminID string) (*ltypes.ForceReleaseResult, error) {
	if err := l.Ensure(ctx); err != nil {
		return nil, err
	}

	stmt := l.d.Rebind(`DELETE FROM migration_locks WHERE lock_key = ?`)
	res, err := l.d.ExecContext(ctx, stmt, ltypes.Key)
	if err != nil {
		return nil, fmt.Errorf("failed force releasing lock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed getting affected rows: %w", err)
	}

	l.mu.Lock()
	l.holder = ""
	l.mu.Unlock()

	result := &ltypes.ForceReleaseResult{AdminID: adminID, Released: int(n)}
	l.logger.Warn("lock force released", "admin_id", adminID, "rows_deleted", n)

	return result, nil
}

// cleanStale removes expired lock rows for the key. Expired rows are inert
// and must be cleaned before a new acquisition attempt.
func (l *Lock) cleanStale(ctx context.Context) error {
	stmt := l.d.Rebind(`DELETE FROM migration_locks WHERE lock_key = ? AND expires_at < ?`)
	res, err := l.d.ExecContext(ctx, stmt, ltypes.Key, l.d.TimeNow().UTC())
	if err != nil {
		return fmt.Errorf("failed cleaning stale lock rows: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		l.logger.Info("cleaned stale lock rows", "count", n)
	}

	return nil
}

// heldByOther reports whether an insert failure means another holder has the
// lock: a duplicate-key violation, or transient write contention on SQLite.
func heldByOther(err error) bool {
	if dbtypes.IsDuplicate(err) {
		return true
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	return false
}
