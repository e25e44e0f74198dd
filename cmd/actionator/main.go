// Command actionator exposes registered Go functions as remotely invocable
// actions and broadcasts their output to subscribers.
//
// Usage:
//
//	actionator [--config FILE] <command>
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "actionator",
		Usage:   "Invoke backend actions and stream their output",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "settings file (.json, .yaml or .yml); default ~/.actionator/settings.*",
				EnvVars: []string{"ACTIONATOR_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			actionsCommand(),
			mcpCommand(),
			versionCommand(),
		},
	}
}
