package cli

import (
	"errors"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
	"go.hackfix.me/strata/migrate"
)

// Down rolls back the most recently applied migrations.
type Down struct {
	Steps int `default:"1" help:"Number of migrations to roll back, newest first."`
}

// Run the down command.
func (c *Down) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	res, err := runner.Down(appCtx.Ctx, c.Steps)
	if err != nil {
		if errors.Is(err, migrate.ErrLockTimeout) {
			return aerrors.With(err,
				"hint", "Another migration run may be in progress; check with 'strata status' or recover with 'strata unlock'.")
		}
		return err
	}

	return reportRun(appCtx, res)
}
