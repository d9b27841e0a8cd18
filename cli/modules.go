package cli

import (
	"fmt"

	actx "go.hackfix.me/strata/app/context"
	aerrors "go.hackfix.me/strata/app/errors"
	"go.hackfix.me/strata/migrate"
)

// Modules lists the migration modules found on disk.
type Modules struct{}

// Run the modules command.
func (c *Modules) Run(appCtx *actx.Context) error {
	discovery := migrate.NewDiscovery(appCtx.FS, appCtx.Logger)

	modules, err := discovery.ListModules(appCtx.Config.Migrations.Dir.V)
	if err != nil {
		return err
	}

	for _, module := range modules {
		if _, err = fmt.Fprintln(appCtx.Stdout, module); err != nil {
			return aerrors.NewWithCause("failed writing to stdout", err)
		}
	}

	return nil
}
