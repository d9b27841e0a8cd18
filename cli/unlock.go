package cli

import (
	"fmt"

	"github.com/nrednav/cuid2"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
	"go.hackfix.me/strata/lock"
	ltypes "go.hackfix.me/strata/lock/types"
)

// Unlock force releases the migration lock, bypassing the holder identity
// check. Only use this to recover from a crashed migration run.
type Unlock struct {
	AdminID string `help:"Identity to record for the force release."`
}

// Run the unlock command.
func (c *Unlock) Run(appCtx *actx.Context) error {
	d, err := connect(appCtx)
	if err != nil {
		return err
	}

	strategy := ltypes.StrategyAuto
	if appCtx.Config.Lock.Strategy.Valid {
		strategy = appCtx.Config.Lock.Strategy.V
	}

	locker, err := lock.Setup(d, strategy, appCtx.Logger)
	if err != nil {
		return err
	}

	adminID := c.AdminID
	if adminID == "" {
		adminID = fmt.Sprintf("admin-%s", cuid2.Generate())
	}

	result, err := locker.ForceRelease(appCtx.Ctx, adminID)
	if err != nil {
		return aerrors.NewWithCause("failed force releasing the migration lock", err)
	}

	_, err = fmt.Fprintf(appCtx.Stdout, "Lock force released by %s (%d released).\n",
		result.AdminID, result.Released)
	if err != nil {
		return aerrors.NewWithCause("failed writing to stdout", err)
	}

	return nil
}
