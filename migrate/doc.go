// Package migrate implements the schema migration engine.
//
// Features:
// - Discovers versioned SQL change-sets on disk with structured naming
//   (`{version}_{name}.sql` and `{version}_{name}_down.sql`, grouped by module)
// - Tracks applied migrations in a durable ledger table with status,
//   execution time and content checksums for drift detection
// - Executes migration SQL with timing, optional transaction wrapping and
//   coarse safety checks
// - Plans pending, rollback and to-version migration sets as pure computations
// - Coordinates concurrent runners across processes via a distributed lock
package migrate
