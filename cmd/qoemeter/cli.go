package main

import (
	"github.com/urfave/cli/v2"
)

const (
	appName = "qoemeter"
	appDesc = "quality-of-experience scoring for voice and data sessions"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "config file (.json, .yaml or .yml); empty uses defaults",
		EnvVars: []string{"QOEMETER_CONFIG"},
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    appName,
		Version: version,
		Usage:   appDesc,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the scoring daemon",
				Flags:  []cli.Flag{configFlag()},
				Action: runServe,
			},
			{
				Name:      "score",
				Usage:     "score a metrics snapshot read from a file or stdin",
				ArgsUsage: "[file|-]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "display", Aliases: []string{"d"}, Usage: "print percentages instead of the JSON tree"},
					&cli.BoolFlag{Name: "trace", Usage: "log every metric lookup to stderr"},
				},
				Action: runScore,
			},
			{
				Name:  "history",
				Usage: "list saved history entries",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "json", Usage: "print the raw entries"},
				},
				Action: runHistory,
			},
			{
				Name:  "export",
				Usage: "write the current metrics, scores and history",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "json or csv"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
				},
				Action: runExport,
			},
			{
				Name:   "validate",
				Usage:  "check a config file and the built-in threshold tables",
				Flags:  []cli.Flag{configFlag()},
				Action: runValidate,
			},
			{
				Name:    "version",
				Aliases: []string{"v"},
				Usage:   "print version information",
				Action:  runVersion,
			},
		},
	}
}
