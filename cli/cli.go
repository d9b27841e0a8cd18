// Package cli implements the command line interface of strata.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	actx "go.hackfix.me/strata/app/context"
)

// CLI is the command line interface of strata.
type CLI struct {
	Up       Up       `kong:"cmd,help='Apply all pending migrations.'"`
	Down     Down     `kong:"cmd,help='Roll back the most recently applied migrations.'"`
	To       To       `kong:"cmd,help='Migrate the database to a specific version.'"`
	Status   Status   `kong:"cmd,help='Show applied and pending migrations.'"`
	Verify   Verify   `kong:"cmd,help='Check applied migrations for checksum drift.'"`
	Validate Validate `kong:"cmd,help='Validate the migrations directory structure.'"`
	Modules  Modules  `kong:"cmd,help='List migration modules.'"`
	Unlock   Unlock   `kong:"cmd,help='Force release the migration lock.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: Deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since the configuration is managed
	// independently from the CLI.
	ConfigFile string           `kong:"default='${configFile}',help='Path to the strata configuration file.'"`
	DataDir    string           `kong:"default='${dataDir}',help='Path to the directory where strata data is stored.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("strata"),
		kong.UsageOnError(),
		kong.DefaultEnvars("STRATA"),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"dataDir":    dataDir,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this
// method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}
