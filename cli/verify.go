package cli

import (
	"fmt"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
)

// Verify checks applied migrations for checksum drift against the current
// on-disk files.
type Verify struct{}

// Run the verify command.
func (c *Verify) Run(appCtx *actx.Context) error {
	runner, err := newRunner(appCtx)
	if err != nil {
		return err
	}

	drifts, err := runner.Verify(appCtx.Ctx)
	if err != nil {
		return err
	}

	if len(drifts) == 0 {
		if _, err = fmt.Fprintln(appCtx.Stdout, "All applied migrations match their on-disk content."); err != nil {
			return aerrors.NewWithCause("failed writing to stdout", err)
		}
		return nil
	}

	data := make([][]string, 0, len(drifts))
	for _, d := range drifts {
		data = append(data, []string{d.Version, d.Module, d.Name, d.Reason})
	}
	err = renderTable([]string{"Version", "Module", "Name", "Problem"}, data, appCtx.Stdout)
	if err != nil {
		return aerrors.NewWithCause("failed rendering the drift report", err)
	}

	return aerrors.NewWith("migration drift detected",
		"count", len(drifts),
		"hint", "Applied migration files were edited or removed after the fact; resolve manually.")
}
