package cli

import (
	"fmt"
	"time"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
)

// Status shows applied and pending migrations.
type Status struct {
	Module string `short:"m" help:"Only show migrations of this module."`
}

// Run the status command.
func (c *Status) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	report, err := runner.Status(appCtx.Ctx, c.Module)
	if err != nil {
		return err
	}

	if len(report.Applied) > 0 {
		data := make([][]string, 0, len(report.Applied))
		for _, rec := range report.Applied {
			errMsg := ""
			if rec.ErrorMessage.Valid {
				errMsg = rec.ErrorMessage.V
			}
			data = append(data, []string{
				rec.Version, rec.Module, rec.Name, string(rec.Status),
				rec.AppliedAt.Format(time.RFC3339), rec.ExecutionTime.String(), errMsg,
			})
		}
		err = renderTable(
			[]string{"Version", "Module", "Name", "Status", "Applied At", "Duration", "Error"},
			data, appCtx.Stdout)
		if err != nil {
			return aerrors.NewWithCause("failed rendering the status report", err)
		}
	}

	if len(report.Pending) > 0 {
		if _, err = fmt.Fprintln(appCtx.Stdout); err != nil {
			return aerrors.NewWithCause("failed writing to stdout", err)
		}
		data := make([][]string, 0, len(report.Pending))
		for _, f := range report.Pending {
			hasDown := "no"
			if f.HasDown {
				hasDown = "yes"
			}
			data = append(data, []string{f.Version, f.Module, f.Name, hasDown})
		}
		err = renderTable(
			[]string{"Pending Version", "Module", "Name", "Has Down"},
			data, appCtx.Stdout)
		if err != nil {
			return aerrors.NewWithCause("failed rendering the pending report", err)
		}
	}

	_, err = fmt.Fprintf(appCtx.Stdout, "\n%d applied, %d pending\n",
		len(report.Applied), len(report.Pending))
	if err != nil {
		return aerrors.NewWithCause("failed writing to stdout", err)
	}

	return nil
}
