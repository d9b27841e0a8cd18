package cli

import (
	"time"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
	"go.hackfix.me/strata/db"
	"go.hackfix.me/strata/lock"
	ltypes "go.hackfix.me/strata/lock/types"
	"go.hackfix.me/strata/migrate"
)

// connect returns the application database, opening it from the configured
// driver and DSN if it wasn't provided already.
func connect(appCtx *actx.Context) (*db.DB, error) {
	if appCtx.DB != nil {
		return appCtx.DB, nil
	}

	timeNow := appCtx.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}

	d, err := db.Open(appCtx.Ctx,
		appCtx.Config.Database.Driver.V, appCtx.Config.Database.DSN.V, timeNow)
	if err != nil {
		return nil, aerrors.NewWithCause("failed opening the database", err,
			"driver", appCtx.Config.Database.Driver.V)
	}
	appCtx.DB = d

	return d, nil
}

// newRunner builds a migration Runner from the application context and
// configuration.
func newRunner(appCtx *actx.Context) (*migrate.Runner, error) {
	d, err := connect(appCtx)
	if err != nil {
		return nil, err
	}

	strategy := ltypes.StrategyAuto
	if appCtx.Config.Lock.Strategy.Valid {
		strategy = appCtx.Config.Lock.Strategy.V
	}

	locker, err := lock.Setup(d, strategy, appCtx.Logger)
	if err != nil {
		return nil, err
	}

	discovery := migrate.NewDiscovery(appCtx.FS, appCtx.Logger)

	return migrate.NewRunner(d, discovery, locker, appCtx.Config.Migrations.Dir.V,
		migrate.WithLockTimeout(appCtx.Config.Lock.Timeout.V),
		migrate.WithLogger(appCtx.Logger),
	)
}
