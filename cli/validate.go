package cli

import (
	"fmt"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
	"go.hackfix.me/strata/migrate"
)

// Validate checks the migrations directory structure without touching the
// database.
type Validate struct{}

// Run the validate command.
func (c *Validate) Run(appCtx *actx.Context) error {
	discovery := migrate.NewDiscovery(appCtx.FS, appCtx.Logger)

	verrs, err := discovery.ValidateStructure(appCtx.Config.Migrations.Dir.V)
	if err != nil {
		return err
	}

	if len(verrs) == 0 {
		if _, err = fmt.Fprintln(appCtx.Stdout, "Migrations directory structure is valid."); err != nil {
			return aerrors.NewWithCause("failed writing to stdout", err)
		}
		return nil
	}

	data := make([][]string, 0, len(verrs))
	for _, verr := range verrs {
		data = append(data, []string{verr.Path, verr.Code, verr.Message})
	}
	err = renderTable([]string{"Path", "Code", "Problem"}, data, appCtx.Stdout)
	if err != nil {
		return aerrors.NewWithCause("failed rendering the validation report", err)
	}

	return aerrors.NewWith("migrations directory structure is invalid", "count", len(verrs))
}
