package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/zhaobenny/cptop/internal/ledger"
)

const version = "0.3.0"

const (
	configFlag   = "config"
	debugFlag    = "debug"
	metricsFlag  = "metrics-textfile"
	jsonFlag     = "json"
	compactFlag  = "compact"
	sinceFlag    = "since"
	untilFlag    = "until"
	noScanFlag   = "no-scan"
	intervalFlag = "interval"
)

// exitInvalidPlan is returned when the configured plan cannot be billed against
const exitInvalidPlan = 2

func main() {
	app := rootCommand()

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if ledger.IsInvalidPlan(err) {
			os.Exit(exitInvalidPlan)
		}
		os.Exit(1)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:            "cptop",
		Usage:           "GitHub Copilot CLI premium request overview",
		Version:         version,
		HideHelpCommand: true,
		DefaultCommand:  "report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  configFlag,
				Usage: "Path to the config file",
			},
			&cli.BoolFlag{
				Name:  debugFlag,
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:  metricsFlag,
				Usage: "Write Prometheus metrics to this file after the command",
			},
		},
		Commands: []*cli.Command{
			reportCommand(),
			scanCommand(),
			statusCommand(),
			sessionsCommand(),
			dailyCommand(),
			modelsCommand(),
			plansCommand(),
			configCommand(),
		},
	}
}

// reportFlags are shared by the commands that fold the ledger
func reportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  sinceFlag,
			Usage: "Start date filter (YYYYMMDD or YYYY-MM-DD)",
		},
		&cli.StringFlag{
			Name:  untilFlag,
			Usage: "End date filter, inclusive (YYYYMMDD or YYYY-MM-DD)",
		},
		&cli.BoolFlag{
			Name:  jsonFlag,
			Usage: "Output as JSON",
		},
		&cli.BoolFlag{
			Name:    compactFlag,
			Aliases: []string{"c"},
			Usage:   "Force compact table output",
		},
		&cli.BoolFlag{
			Name:  noScanFlag,
			Usage: "Report from the cache without scanning logs first",
		},
	}
}
