// Package postgres implements the migration lock using PostgreSQL's native
// session-scoped advisory locks.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.hackfix.me/strata/db"
	ltypes "go.hackfix.me/strata/lock/types"
)

// Lock is the advisory lock strategy. A single fixed 64-bit key guards all
// migrations everywhere.
//
// Advisory locks are scoped to the backend session, so the lock must live on
// one dedicated connection: acquiring and releasing on arbitrary pooled
// connections would either fail the release or silently drop the lock when
// the pool recycles the acquiring connection. Acquire pins a connection out
// of the pool and every lock primitive runs on it until Release returns it.
type Lock struct {
	d      *db.DB
	logger *slog.Logger

	// The holder and its pinned connection are tracked locally so that only
	// the client that acquired the lock can release it, on the same session.
	mu     sync.Mutex
	holder string
	conn   *sql.Conn
}

var _ ltypes.Locker = (*Lock)(nil)

// New returns an advisory lock client over the given database.
func New(d *db.DB, logger *slog.Logger) *Lock {
	return &Lock{d: d, logger: logger.With("component", "lock", "strategy", "advisory")}
}

// KeyID is the fixed 64-bit advisory lock key, derived from the shared lock
// key string.
func KeyID() int64 {
	h := fnv.New64a()
	h.Write([]byte(ltypes.Key))
	return int64(h.Sum64())
}

// Acquire pins a connection and polls the non-blocking advisory try-acquire
// primitive on it until the lock is taken or the timeout expires. The pinned
// connection is held until Release; on timeout or error it is returned to the
// pool immediately.
func (l *Lock) Acquire(ctx context.Context, holderID string, timeout time.Duration) (bool, error) {
	conn, err := l.d.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed pinning a connection for the advisory lock: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		var acquired bool
		err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, KeyID()).
			Scan(&acquired)
		if err != nil {
			//nolint:errcheck // The acquisition error takes precedence.
			conn.Close()
			return false, fmt.Errorf("failed acquiring advisory lock: %w", err)
		}

		if acquired {
			l.mu.Lock()
			l.holder = holderID
			l.conn = conn
			l.mu.Unlock()
			l.logger.Debug("lock acquired", "holder_id", holderID)
			return true, nil
		}

		if time.Now().After(deadline) {
			l.logger.Debug("lock acquisition timed out",
				"holder_id", holderID, "timeout", timeout)
			//nolint:errcheck // Nothing was acquired on this connection.
			conn.Close()
			return false, nil
		}

		select {
		case <-ctx.Done():
			//nolint:errcheck // The cancellation takes precedence.
			conn.Close()
			return false, ctx.Err()
		case <-time.After(ltypes.PollInterval):
		}
	}
}

// Release invokes the native advisory release primitive on the pinned
// connection, but only if holderID matches the locally tracked holder. The
// connection is returned to the pool in any case.
func (l *Lock) Release(ctx context.Context, holderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == "" || l.holder != holderID {
		return ltypes.ErrNotHolder
	}

	var released bool
	err := l.conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, KeyID()).
		Scan(&released)
	if cerr := l.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	l.holder = ""
	l.conn = nil
	if err != nil {
		return fmt.Errorf("failed releasing advisory lock: %w", err)
	}
	if !released {
		return fmt.Errorf("advisory lock was not held by this session")
	}

	l.logger.Debug("lock released", "holder_id", holderID)

	return nil
}

// Session returns the pinned connection holding the lock, or nil if the lock
// isn't held.
func (l *Lock) Session() *sql.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// Status queries the system lock and activity views for the backend holding
// the advisory lock.
func (l *Lock) Status(ctx context.Context) (*ltypes.Status, error) {
	// The 64-bit advisory key is split across classid (high 32 bits) and
	// objid (low 32 bits) in pg_locks.
	query := `SELECT l.pid, COALESCE(a.query_start, a.backend_start)
		FROM pg_locks l
		JOIN pg_stat_activity a ON a.pid = l.pid
		WHERE l.locktype = 'advisory' AND l.granted
			AND ((l.classid::bigint << 32) | l.objid::bigint) = $1`

	var (
		pid        int
		acquiredAt time.Time
	)
	rows, err := l.d.QueryContext(ctx, query, KeyID())
	if err != nil {
		return nil, fmt.Errorf("failed querying advisory lock status: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only query.

	status := &ltypes.Status{}
	if rows.Next() {
		if err = rows.Scan(&pid, &acquiredAt); err != nil {
			return nil, fmt.Errorf("failed scanning advisory lock status: %w", err)
		}
		status.Locked = true
		status.PID = pid
		status.AcquiredAt = acquiredAt
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over advisory lock rows: %w", err)
	}

	return status, nil
}

// ForceRelease terminates the backend sessions holding the advisory lock.
func (l *Lock) ForceRelease(ctx context.Context, adminID string) (*ltypes.ForceReleaseResult, error) {
	query := `SELECT l.pid
		FROM pg_locks l
		WHERE l.locktype = 'advisory' AND l.granted
			AND ((l.classid::bigint << 32) | l.objid::bigint) = $1
			AND l.pid <> pg_backend_pid()`

	rows, err := l.d.QueryContext(ctx, query, KeyID())
	if err != nil {
		return nil, fmt.Errorf("failed querying advisory lock holders: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only query.

	var pids []int
	for rows.Next() {
		var pid int
		if err = rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("failed scanning advisory lock holder: %w", err)
		}
		pids = append(pids, pid)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over advisory lock holders: %w", err)
	}

	result := &ltypes.ForceReleaseResult{AdminID: adminID}
	for _, pid := range pids {
		var terminated bool
		err = l.d.QueryRowContext(ctx, `SELECT pg_terminate_backend($1)`, pid).
			Scan(&terminated)
		if err != nil {
			return nil, fmt.Errorf("failed terminating backend %d: %w", pid, err)
		}
		if terminated {
			result.Released++
		}
	}

	l.mu.Lock()
	if l.conn != nil {
		// The pinned session may be among the terminated ones; drop it.
		//nolint:errcheck // The terminated session's close error is moot.
		l.conn.Close()
		l.conn = nil
	}
	l.holder = ""
	l.mu.Unlock()

	l.logger.Warn("lock force released",
		"admin_id", adminID, "sessions_terminated", result.Released)

	return result, nil
}
