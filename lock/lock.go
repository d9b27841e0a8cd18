// Package lock selects and constructs the migration lock strategy.
package lock

import (
	"fmt"
	"log/slog"

	"go.hackfix.me/strata/db"
	"go.hackfix.me/strata/lock/postgres"
	"go.hackfix.me/strata/lock/table"
	ltypes "go.hackfix.me/strata/lock/types"
)

// Setup returns the lock strategy for the connected engine. StrategyAuto
// picks the native advisory lock where the engine has one, and the lock
// table everywhere else.
//
//nolint:ireturn // Intentional, this is a factory function.
func Setup(d *db.DB, strategy ltypes.Strategy, logger *slog.Logger) (ltypes.Locker, error) {
	switch strategy {
	case ltypes.StrategyAdvisory:
		if !d.Type().HasAdvisoryLocks() {
			return nil, fmt.Errorf("engine '%s' doesn't support advisory locks", d.Type())
		}
		return postgres.New(d, logger), nil
	case ltypes.StrategyTable:
		return table.New(d, logger), nil
	case ltypes.StrategyAuto:
		if d.Type().HasAdvisoryLocks() {
			return postgres.New(d, logger), nil
		}
		return table.New(d, logger), nil
	}

	return nil, fmt.Errorf("unsupported lock strategy '%s'", strategy)
}
