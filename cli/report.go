package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/zhaobenny/cptop/cli/internal/output"
	"github.com/zhaobenny/cptop/internal/pricing"
)

func tableOptions(cmd *cli.Command) output.TableOptions {
	return output.TableOptions{ForceCompact: cmd.Bool(compactFlag)}
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Show premium request usage against the plan quota",
		Flags: append(reportFlags(),
			&cli.BoolFlag{
				Name:  "all-periods",
				Usage: "Show every billing period, not only the current one",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			r, err := e.report(ctx, cmd)
			if err != nil {
				return err
			}
			if cmd.Bool(jsonFlag) {
				return output.PrintJSON(os.Stdout, r)
			}
			output.PrintReport(os.Stdout, r, output.ReportOptions{
				TableOptions: tableOptions(cmd),
				AllPeriods:   cmd.Bool("all-periods"),
			})
			return nil
		},
	}
}

func sessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Show usage by session",
		Flags: reportFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			r, err := e.report(ctx, cmd)
			if err != nil {
				return err
			}
			if cmd.Bool(jsonFlag) {
				return output.PrintJSON(os.Stdout, r.Sessions)
			}
			output.PrintSessions(os.Stdout, r.Sessions, e.eff.Location, tableOptions(cmd))
			return nil
		},
	}
}

func dailyCommand() *cli.Command {
	return &cli.Command{
		Name:  "daily",
		Usage: "Show usage by calendar day",
		Flags: reportFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			r, err := e.report(ctx, cmd)
			if err != nil {
				return err
			}
			if cmd.Bool(jsonFlag) {
				return output.PrintJSON(os.Stdout, r.Daily)
			}
			output.PrintDaily(os.Stdout, r.Daily, tableOptions(cmd))
			return nil
		},
	}
}

func modelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "Show the multiplier table, or per-model latency and tokens with --usage",
		Flags: append(reportFlags(),
			&cli.BoolFlag{
				Name:  "usage",
				Usage: "Show latency and token statistics per model",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if !cmd.Bool("usage") {
				entries := e.eff.Table.Entries()
				if cmd.Bool(jsonFlag) {
					return output.PrintJSON(os.Stdout, entries)
				}
				output.PrintMultipliers(os.Stdout, entries)
				return nil
			}

			r, err := e.report(ctx, cmd)
			if err != nil {
				return err
			}
			if cmd.Bool(jsonFlag) {
				return output.PrintJSON(os.Stdout, r.Models)
			}
			output.PrintModelStats(os.Stdout, r.Models, tableOptions(cmd))
			return nil
		},
	}
}

func plansCommand() *cli.Command {
	return &cli.Command{
		Name:  "plans",
		Usage: "List Copilot plans",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: jsonFlag, Usage: "Output as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			plans := pricing.Plans()
			if cmd.Bool(jsonFlag) {
				return output.PrintJSON(os.Stdout, plans)
			}
			active := cfg.Plan
			if cfg.CustomPlan != nil {
				active = ""
				fmt.Println("Using a custom plan from the config file.")
			} else if active == "" {
				active = pricing.DefaultPlanKey
			}
			output.PrintPlans(os.Stdout, plans, active)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the event cache and scan state",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			counts, err := e.db.Counts()
			if err != nil {
				return err
			}
			last, err := e.db.LastScan()
			if err != nil {
				return err
			}
			files, err := e.db.FileStates()
			if err != nil {
				return err
			}
			output.PrintStatus(os.Stdout, output.Status{
				LogDir:   e.eff.LogDir,
				DBPath:   e.eff.DBPath,
				Counts:   counts,
				LastScan: last,
				Files:    files,
			})
			return nil
		},
	}
}
