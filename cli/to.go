package cli

import (
	"errors"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
	"go.hackfix.me/strata/migrate"
)

// To migrates the database to a specific version, applying or rolling back
// migrations as needed.
type To struct {
	TargetVersion string `arg:"" required:"" help:"Target version (14 digits, YYYYMMDDhhmmss)."`
}

// Run the to command.
func (c *To) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	res, err := runner.To(appCtx.Ctx, c.TargetVersion)
	if err != nil {
		if errors.Is(err, migrate.ErrLockTimeout) {
			return aerrors.With(err,
				"hint", "Another migration run may be in progress; check with 'strata status' or recover with 'strata unlock'.")
		}
		return err
	}

	return reportRun(appCtx, res)
}
