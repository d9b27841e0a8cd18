// Package types contains the shared contract of the migration lock
// strategies.
package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Key is the single lock identifier guarding all migrations. There is one
// key for the whole system; no per-module locking.
const Key = "strata:migrations"

// PollInterval is the sleep between lock acquisition attempts.
const PollInterval = 100 * time.Millisecond

// StaleMargin is the safety margin added to a lock's expiry beyond the
// acquisition timeout.
const StaleMargin = time.Minute

// ErrNotHolder is returned when releasing a lock that the caller doesn't
// hold.
var ErrNotHolder = errors.New("lock is not held by this client")

// Locker provides mutually-exclusive, timeout-bounded acquisition of the
// global migration lock. At most one non-expired holder exists at any time.
type Locker interface {
	// Acquire attempts to take the lock for holderID, polling until timeout.
	// It returns false, never blocking indefinitely, if the lock is held by
	// someone else for the whole duration.
	Acquire(ctx context.Context, holderID string, timeout time.Duration) (bool, error)

	// Release gives the lock up. It only succeeds if holderID matches the
	// locally tracked holder that acquired it.
	Release(ctx context.Context, holderID string) error

	// Status reports the current lock state.
	Status(ctx context.Context) (*Status, error)

	// ForceRelease unconditionally releases the lock, bypassing the holder
	// identity check. Administrative, used for stuck-lock recovery.
	ForceRelease(ctx context.Context, adminID string) (*ForceReleaseResult, error)
}

// Status describes the current state of the migration lock.
type Status struct {
	Locked bool
	// HolderID identifies the current holder (table strategy only).
	HolderID string
	// PID is the backend process holding the lock (advisory strategy only).
	PID        int
	AcquiredAt time.Time
	ExpiresAt  time.Time
	// Stale reports that the lock's expiry has passed without a clean
	// release, making it eligible for cleanup.
	Stale bool
}

// ForceReleaseResult summarizes an administrative force release.
type ForceReleaseResult struct {
	AdminID string
	// Released is the number of lock rows deleted or backend sessions
	// terminated.
	Released int
}

// Strategy selects the lock backend.
type Strategy string

// All lock strategies.
const (
	// StrategyAuto picks the advisory strategy on engines that support it,
	// and the table strategy otherwise.
	StrategyAuto     Strategy = "auto"
	StrategyAdvisory Strategy = "advisory"
	StrategyTable    Strategy = "table"
)

// StrategyFromString returns a valid Strategy for the given string, or an
// error if the value is invalid.
func StrategyFromString(val string) (Strategy, error) {
	switch Strategy(val) {
	case StrategyAuto, StrategyAdvisory, StrategyTable:
		return Strategy(val), nil
	}
	return "", fmt.Errorf("unsupported lock strategy '%s'", val)
}
