package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/zhaobenny/cptop/cli/internal/config"
	"github.com/zhaobenny/cptop/internal/pricing"
)

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	return config.Load(configPath(cmd))
}

func loadConfigResolved(cmd *cli.Command) (*config.Effective, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cfg.Resolve()
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or change settings",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "plan", Usage: "Plan key (free, pro, pro_plus, business, enterprise)"},
			&cli.IntFlag{Name: "seats", Usage: "Seats for business and enterprise plans"},
			&cli.IntFlag{Name: "billing-day", Usage: "Day of month the billing cycle starts (1-28)"},
			&cli.StringFlag{Name: "timezone", Usage: "Timezone for billing periods and days (e.g., America/New_York)"},
			&cli.StringFlag{Name: "log-dir", Usage: "Copilot CLI log directory"},
			&cli.StringFlag{Name: "db-path", Usage: "Event cache location"},
			&cli.DurationFlag{Name: "idle-after", Usage: "Treat a log as complete after this long without writes"},
			&cli.StringSliceFlag{Name: "set-multiplier", Usage: "Override a model multiplier, as model=value"},
			&cli.StringSliceFlag{Name: "unset-multiplier", Usage: "Remove a multiplier override"},
			&cli.BoolFlag{Name: "show", Usage: "Show current configuration"},
		},
		Action: runConfig,
	}
}

func runConfig(_ context.Context, cmd *cli.Command) error {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	changed := false
	if cmd.IsSet("plan") {
		key := cmd.String("plan")
		if _, ok := pricing.GetPlan(key); !ok {
			return fmt.Errorf("unknown plan %q, see 'cptop plans'", key)
		}
		cfg.Plan = key
		cfg.CustomPlan = nil
		changed = true
	}
	if cmd.IsSet("seats") {
		cfg.Seats = int(cmd.Int("seats"))
		changed = true
	}
	if cmd.IsSet("billing-day") {
		cfg.BillingCycleDay = int(cmd.Int("billing-day"))
		changed = true
	}
	if cmd.IsSet("timezone") {
		cfg.Timezone = cmd.String("timezone")
		changed = true
	}
	if cmd.IsSet("log-dir") {
		cfg.LogDir = cmd.String("log-dir")
		changed = true
	}
	if cmd.IsSet("db-path") {
		cfg.DBPath = cmd.String("db-path")
		changed = true
	}
	if cmd.IsSet("idle-after") {
		cfg.IdleAfter = cmd.Duration("idle-after")
		changed = true
	}
	for _, kv := range cmd.StringSlice("set-multiplier") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --set-multiplier %q, use model=value", kv)
		}
		mult, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid multiplier for %s: %w", name, err)
		}
		if cfg.MultiplierOverrides == nil {
			cfg.MultiplierOverrides = make(map[string]float64)
		}
		cfg.MultiplierOverrides[strings.TrimSpace(name)] = mult
		changed = true
	}
	for _, name := range cmd.StringSlice("unset-multiplier") {
		delete(cfg.MultiplierOverrides, name)
		changed = true
	}

	if !changed {
		if cmd.Bool("show") {
			return showConfig(path, cfg)
		}
		return cli.ShowSubcommandHelp(cmd)
	}

	// Refuse to save something every other command would reject.
	if _, err := cfg.Resolve(); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Configuration saved to %s\n", path)

	if cmd.Bool("show") {
		return showConfig(path, cfg)
	}
	return nil
}

func showConfig(path string, cfg *config.Config) error {
	eff, err := cfg.Resolve()
	if err != nil {
		return err
	}

	fmt.Printf("Config file: %s\n", path)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if s := strings.TrimSpace(string(data)); s != "" && s != "{}" {
		fmt.Println()
		os.Stdout.Write(data)
	}

	fmt.Println()
	fmt.Printf("Plan:          %s\n", eff.Plan.Label())
	if eff.Plan.PerSeat {
		fmt.Printf("Seats:         %d\n", eff.Seats)
	}
	fmt.Printf("Quota:         %.0f premium requests per period\n", eff.Plan.QuotaFor(eff.Seats))
	fmt.Printf("Billing day:   %d\n", eff.Plan.BillingCycleStartDay)
	fmt.Printf("Timezone:      %s\n", eff.Location)
	fmt.Printf("Log directory: %s\n", eff.LogDir)
	fmt.Printf("Database:      %s\n", eff.DBPath)
	fmt.Printf("Idle after:    %s\n", eff.IdleAfter)
	return nil
}
