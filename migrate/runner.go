package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nrednav/cuid2"

	"go.hackfix.me/strata/db"
	dbtypes "go.hackfix.me/strata/db/types"
	ltypes "go.hackfix.me/strata/lock/types"
)

// ErrLockTimeout is returned when the migration lock couldn't be acquired
// within the configured timeout. Lock contention isn't retried by the engine;
// the caller decides whether to retry the whole run later.
var ErrLockTimeout = errors.New("timed out acquiring the migration lock")

// Outcome is the per-migration result of a run.
type Outcome struct {
	Version string
	Name    string
	Module  string
	Result  *Result
}

// RunResult summarizes a migration run.
type RunResult struct {
	Outcomes []Outcome
	// Failed reports that the run halted on a migration failure. Earlier
	// successful ledger entries are left intact.
	Failed bool
}

// Drift describes a discrepancy between an applied ledger entry and the
// current on-disk migration file.
type Drift struct {
	Version string
	Name    string
	Module  string
	// Reason is either "checksum-mismatch" or "missing-file".
	Reason string
}

// StatusReport combines the applied and pending migration sets.
type StatusReport struct {
	Applied []*Record
	Pending []*File
}

// Runner drives a full migration run: it acquires the lock, discovers the
// on-disk migration set, plans the delta against the ledger, executes each
// migration in strict version order, and records every outcome immediately
// after execution. Only the lock holder writes to the ledger during a run.
type Runner struct {
	d         *db.DB
	discovery *Discovery
	ledger    *Ledger
	executor  *Executor
	locker    ltypes.Locker
	basePath  string

	holderID    string
	lockTimeout time.Duration
	maxRetries  int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewRunner returns a new Runner instance.
func NewRunner(
	d *db.DB, discovery *Discovery, locker ltypes.Locker, basePath string,
	opts ...RunnerOption,
) (*Runner, error) {
	if d == nil {
		return nil, fmt.Errorf("a database connection is required")
	}
	if discovery == nil {
		return nil, fmt.Errorf("a discovery instance is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("a lock strategy is required")
	}

	r := &Runner{d: d, discovery: discovery, locker: locker, basePath: basePath}

	opts = append(DefaultRunnerOptions(), opts...)
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	r.ledger = NewLedger(d, r.logger)
	r.executor = NewExecutor(d, r.logger)

	return r, nil
}

// Ledger returns the runner's ledger repository.
func (r *Runner) Ledger() *Ledger {
	return r.ledger
}

// Executor returns the runner's executor.
func (r *Runner) Executor() *Executor {
	return r.executor
}

// Up applies all pending migrations in ascending version order, halting on
// the first failure. If module is non-empty, only that module's migrations
// are considered.
func (r *Runner) Up(ctx context.Context, module string) (res *RunResult, rerr error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release(&rerr)

	files, err := r.discovery.Discover(r.basePath, module)
	if err != nil {
		return nil, err
	}

	applied, err := r.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}

	return r.apply(ctx, Pending(applied, files))
}

// To migrates the database to an arbitrary target version, applying pending
// up migrations or rolling back applied ones as needed.
func (r *Runner) To(ctx context.Context, targetVersion string) (res *RunResult, rerr error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release(&rerr)

	files, err := r.discovery.Discover(r.basePath, "")
	if err != nil {
		return nil, err
	}

	applied, err := r.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := ToVersion(applied, files, targetVersion)
	if err != nil {
		return nil, err
	}

	if plan.Direction == DirectionUp {
		return r.apply(ctx, plan.Files)
	}

	return r.rollback(ctx, plan.Records, files)
}

// Down rolls back the most recent successfully applied migrations, newest
// first. Steps below 1 roll back a single migration.
func (r *Runner) Down(ctx context.Context, steps int) (res *RunResult, rerr error) {
	if steps < 1 {
		steps = 1
	}

	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release(&rerr)

	files, err := r.discovery.Discover(r.basePath, "")
	if err != nil {
		return nil, err
	}

	applied, err := r.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}

	var succeeded []*Record
	for _, rec := range applied {
		if rec.Status == StatusSuccess {
			succeeded = append(succeeded, rec)
		}
	}
	SortRecords(succeeded)

	var targets []*Record
	for i := len(succeeded) - 1; i >= 0 && len(targets) < steps; i-- {
		targets = append(targets, succeeded[i])
	}

	return r.rollback(ctx, targets, files)
}

// Status returns the applied ledger entries and the pending on-disk
// migrations. If module is non-empty, both sets are scoped to it.
func (r *Runner) Status(ctx context.Context, module string) (*StatusReport, error) {
	if err := r.ledger.Ensure(ctx); err != nil {
		return nil, err
	}

	files, err := r.discovery.Discover(r.basePath, module)
	if err != nil {
		return nil, err
	}

	var applied []*Record
	if module != "" {
		applied, err = r.ledger.AppliedByModule(ctx, module)
	} else {
		applied, err = r.ledger.Applied(ctx)
	}
	if err != nil {
		return nil, err
	}

	return &StatusReport{Applied: applied, Pending: Pending(applied, files)}, nil
}

// Verify checks every successfully applied ledger entry against the current
// on-disk content and reports drift. It never mutates anything; resolution is
// an explicit administrative decision.
func (r *Runner) Verify(ctx context.Context) ([]Drift, error) {
	if err := r.ledger.Ensure(ctx); err != nil {
		return nil, err
	}

	files, err := r.discovery.Discover(r.basePath, "")
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]*File)
	for _, f := range files {
		if f.Direction == DirectionUp {
			byVersion[f.Version] = f
		}
	}

	applied, err := r.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, rec := range applied {
		if rec.Status != StatusSuccess {
			continue
		}

		f, ok := byVersion[rec.Version]
		if !ok {
			drifts = append(drifts, Drift{
				Version: rec.Version, Name: rec.Name, Module: rec.Module,
				Reason: "missing-file",
			})
			continue
		}

		match, err := r.ledger.VerifyChecksum(ctx, rec.Version, f.Checksum)
		if err != nil {
			return nil, err
		}
		if !match {
			drifts = append(drifts, Drift{
				Version: rec.Version, Name: rec.Name, Module: rec.Module,
				Reason: "checksum-mismatch",
			})
		}
	}

	return drifts, nil
}

// Unlock force releases the migration lock. Administrative, used for
// stuck-lock recovery.
func (r *Runner) Unlock(ctx context.Context, adminID string) (*ltypes.ForceReleaseResult, error) {
	return r.locker.ForceRelease(ctx, adminID)
}

// acquire takes the migration lock and ensures the ledger table exists. It
// returns a release function to be deferred with the caller's named error.
func (r *Runner) acquire(ctx context.Context) (func(*error), error) {
	ok, err := r.locker.Acquire(ctx, r.holderID, r.lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed acquiring the migration lock: %w", err)
	}
	if !ok {
		return nil, ErrLockTimeout
	}

	release := func(rerr *error) {
		if err := r.locker.Release(ctx, r.holderID); err != nil && *rerr == nil {
			*rerr = fmt.Errorf("failed releasing the migration lock: %w", err)
		}
	}

	if err = r.ledger.Ensure(ctx); err != nil {
		release(&err)
		return nil, err
	}

	return release, nil
}

// apply executes up migrations one at a time, in strict version order,
// recording each outcome in the ledger immediately after execution so a crash
// mid-run leaves the ledger consistent with what actually completed.
func (r *Runner) apply(ctx context.Context, pending []*File) (*RunResult, error) {
	run := &RunResult{}
	opts := ExecOptions{MaxRetries: r.maxRetries, RetryDelay: r.retryDelay}

	for _, f := range pending {
		opts.NoTransaction = !RequiresTransaction(f)

		execRes := r.executor.ExecuteWithRetry(ctx, f, opts)
		run.Outcomes = append(run.Outcomes, Outcome{
			Version: f.Version, Name: f.Name, Module: f.Module, Result: execRes,
		})

		rec := &Record{
			Version:       f.Version,
			Name:          f.Name,
			Module:        f.Module,
			AppliedAt:     r.d.TimeNow().UTC(),
			Checksum:      f.Checksum,
			ExecutionTime: execRes.Duration,
			Status:        StatusSuccess,
			DBType:        r.d.Type(),
		}
		if !execRes.Success {
			rec.Status = StatusFailed
			rec.ErrorMessage = sql.Null[string]{V: execRes.Error, Valid: true}
		}

		err := r.ledger.Insert(ctx, rec)
		var dupErr *dbtypes.DuplicateError
		if errors.As(err, &dupErr) {
			// A prior failed attempt left a row behind; rewrite it with this
			// run's outcome.
			err = r.ledger.Update(ctx, rec)
		}
		if err != nil {
			return run, fmt.Errorf("failed recording migration '%s': %w", f.Version, err)
		}

		if !execRes.Success {
			run.Failed = true
			r.logger.Error("migration run halted",
				"version", f.Version, "module", f.Module, "error", execRes.Error)
			break
		}
	}

	return run, nil
}

// rollback executes down migrations newest first, deleting the ledger row of
// each successful rollback.
func (r *Runner) rollback(ctx context.Context, targets []*Record, files []*File) (*RunResult, error) {
	downByVersion := make(map[string]*File)
	for _, f := range files {
		if f.Direction == DirectionDown {
			downByVersion[f.Version] = f
		}
	}

	run := &RunResult{}
	opts := ExecOptions{MaxRetries: r.maxRetries, RetryDelay: r.retryDelay}

	for _, rec := range targets {
		f, ok := downByVersion[rec.Version]
		if !ok {
			return run, fmt.Errorf("migration '%s_%s' has no down migration", rec.Version, rec.Name)
		}

		execRes := r.executor.ExecuteWithRetry(ctx, f, opts)
		run.Outcomes = append(run.Outcomes, Outcome{
			Version: f.Version, Name: f.Name, Module: f.Module, Result: execRes,
		})

		if !execRes.Success {
			run.Failed = true
			uerr := r.ledger.UpdateStatus(ctx, rec.Version, StatusFailed, execRes.Duration, execRes.Error)
			if uerr != nil {
				return run, fmt.Errorf("failed updating migration '%s' status: %w", rec.Version, uerr)
			}
			r.logger.Error("rollback halted",
				"version", rec.Version, "module", rec.Module, "error", execRes.Error)
			break
		}

		deleted, err := r.ledger.Delete(ctx, rec.Version)
		if err != nil || !deleted {
			// The row couldn't be removed; mark it rolled back so the ledger
			// doesn't claim the migration is still applied.
			uerr := r.ledger.UpdateStatus(ctx, rec.Version, StatusRolledBack, execRes.Duration, "")
			if uerr != nil {
				return run, fmt.Errorf("failed updating migration '%s' status: %w", rec.Version, uerr)
			}
		}
	}

	return run, nil
}

// RunnerOption is a function that allows configuring the Runner.
type RunnerOption func(*Runner) error

// WithHolderID sets the lock holder identity of this runner.
func WithHolderID(holderID string) RunnerOption {
	return func(r *Runner) error {
		if holderID == "" {
			return fmt.Errorf("holder ID must not be empty")
		}
		r.holderID = holderID
		return nil
	}
}

// WithLockTimeout bounds lock acquisition.
func WithLockTimeout(timeout time.Duration) RunnerOption {
	return func(r *Runner) error {
		r.lockTimeout = timeout
		return nil
	}
}

// WithRetry configures bounded retry of transient execution failures.
func WithRetry(maxRetries int, delay time.Duration) RunnerOption {
	return func(r *Runner) error {
		r.maxRetries = maxRetries
		r.retryDelay = delay
		return nil
	}
}

// WithLogger sets the logger used by the Runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) error {
		r.logger = logger
		return nil
	}
}

// DefaultRunnerOptions returns the default Runner options.
func DefaultRunnerOptions() []RunnerOption {
	return []RunnerOption{
		WithHolderID(cuid2.Generate()),
		WithLockTimeout(30 * time.Second),
		WithRetry(0, time.Second),
		WithLogger(slog.Default()),
	}
}
