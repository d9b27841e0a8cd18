package cli

import (
	"errors"
	"fmt"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
	"go.hackfix.me/strata/migrate"
)

// Up applies all pending migrations.
type Up struct {
	Module string `short:"m" help:"Only apply migrations of this module."`
}

// Run the up command.
func (c *Up) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	res, err := runner.Up(appCtx.Ctx, c.Module)
	if err != nil {
		if errors.Is(err, migrate.ErrLockTimeout) {
			return aerrors.With(err,
				"hint", "Another migration run may be in progress; check with 'strata status' or recover with 'strata unlock'.")
		}
		return err
	}

	return reportRun(appCtx, res)
}

// reportRun renders the outcomes of a migration run and converts a failed run
// into an error.
func reportRun(appCtx *actx.Context, res *migrate.RunResult) error {
	if len(res.Outcomes) == 0 {
		if _, err := fmt.Fprintln(appCtx.Stdout, "No migrations to run."); err != nil {
			return aerrors.NewWithCause("failed writing to stdout", err)
		}
		return nil
	}

	data := make([][]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		status := "OK"
		detail := fmt.Sprintf("%d rows", o.Result.RowsAffected)
		if !o.Result.Success {
			status = "FAILED"
			detail = o.Result.Error
		}
		data = append(data, []string{
			o.Version, o.Module, o.Name, status, o.Result.Duration.String(), detail,
		})
	}

	err := renderTable(
		[]string{"Version", "Module", "Name", "Status", "Duration", "Detail"},
		data, appCtx.Stdout)
	if err != nil {
		return aerrors.NewWithCause("failed rendering the run report", err)
	}

	if res.Failed {
		failed := res.Outcomes[len(res.Outcomes)-1]
		return aerrors.NewWith("migration run failed",
			"version", failed.Version,
			"module", failed.Module,
			"error", failed.Result.Error,
			"sql_state", failed.Result.SQLState,
		)
	}

	return nil
}
