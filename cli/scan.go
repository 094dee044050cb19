package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/zhaobenny/cptop/cli/internal/output"
	"github.com/zhaobenny/cptop/cli/internal/scan"
)

const defaultServiceInterval = 15 * time.Minute

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Ingest new Copilot CLI log lines into the cache",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Forget stored cursors and rescan every log from the start",
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "Clear the whole cache first, dropping events from logs that no longer exist",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Keep scanning on an interval until interrupted",
			},
			&cli.DurationFlag{
				Name:  intervalFlag,
				Value: time.Minute,
				Usage: "Scan interval for --watch",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "List every file and skipped block",
			},
		},
		Commands: []*cli.Command{
			serviceCommand(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if cmd.Bool("reset") {
				if err := e.db.Clear(); err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
				e.log.Info("cache cleared", zap.String("db_path", e.eff.DBPath))
			}

			summary, err := e.scanner().Run(ctx, e.scanOptions(cmd.Bool("force")))
			if err != nil {
				return err
			}
			output.PrintScanSummary(os.Stdout, summary, cmd.Bool("verbose"))

			if !cmd.Bool("watch") {
				return nil
			}
			interval := cmd.Duration(intervalFlag)
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Printf("Watching %s every %s (Ctrl-C to stop)\n", e.eff.LogDir, interval)
			scan.NewService(e.scanner(), e.scanOptions(false), interval).Loop(ctx)
			return nil
		},
	}
}

func serviceCommand() *cli.Command {
	intervalFlagDef := &cli.DurationFlag{
		Name:  intervalFlag,
		Value: defaultServiceInterval,
		Usage: "Scan interval for the background service (e.g., 15m, 1h)",
	}

	sub := func(name, usage string, action func(*cli.Command, service.Service) error) *cli.Command {
		return &cli.Command{
			Name:  name,
			Usage: usage,
			Flags: []cli.Flag{intervalFlagDef},
			Action: func(_ context.Context, cmd *cli.Command) error {
				interval := cmd.Duration(intervalFlag)
				if interval <= 0 {
					return fmt.Errorf("--interval must be positive")
				}
				// Control commands never run the loop, so the scanner is left unset.
				s, err := service.New(&scan.Service{}, scan.ServiceConfig(interval, cmd.String(configFlag)))
				if err != nil {
					return fmt.Errorf("create service: %w", err)
				}
				return action(cmd, s)
			},
		}
	}

	return &cli.Command{
		Name:  "service",
		Usage: "Manage the background scan service",
		Commands: []*cli.Command{
			sub("install", "Install and start the background service", func(cmd *cli.Command, s service.Service) error {
				// Fail now rather than inside the service on a bad config.
				if _, err := loadConfigResolved(cmd); err != nil {
					return err
				}
				if err := s.Install(); err != nil {
					return fmt.Errorf("install service: %w", err)
				}
				if err := s.Start(); err != nil {
					return fmt.Errorf("service installed but failed to start: %w", err)
				}
				fmt.Println("Service installed and started.")
				fmt.Printf("Scan interval: %s\n", cmd.Duration(intervalFlag))
				return nil
			}),
			sub("start", "Start the background service", func(_ *cli.Command, s service.Service) error {
				if err := s.Start(); err != nil {
					return fmt.Errorf("start service: %w", err)
				}
				fmt.Println("Service started.")
				return nil
			}),
			sub("stop", "Stop the background service", func(_ *cli.Command, s service.Service) error {
				if err := s.Stop(); err != nil {
					return fmt.Errorf("stop service: %w", err)
				}
				fmt.Println("Service stopped.")
				return nil
			}),
			sub("uninstall", "Remove the background service", func(_ *cli.Command, s service.Service) error {
				_ = s.Stop()
				if err := s.Uninstall(); err != nil {
					return fmt.Errorf("uninstall service: %w", err)
				}
				fmt.Println("Service uninstalled.")
				return nil
			}),
			sub("status", "Show the background service status", func(_ *cli.Command, s service.Service) error {
				status, err := s.Status()
				if err != nil {
					fmt.Printf("Service status: not installed or error (%v)\n", err)
					return nil
				}
				switch status {
				case service.StatusRunning:
					fmt.Println("Service status: running")
				case service.StatusStopped:
					fmt.Println("Service status: stopped")
				default:
					fmt.Println("Service status: unknown")
				}
				return nil
			}),
			{
				Name:   "run",
				Usage:  "Run the scan loop in the foreground (used by the service manager)",
				Hidden: true,
				Flags:  []cli.Flag{intervalFlagDef},
				Action: runService,
			},
		},
	}
}

// runService is the entry point the service manager invokes
func runService(ctx context.Context, cmd *cli.Command) error {
	interval := cmd.Duration(intervalFlag)
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	svc := scan.NewService(e.scanner(), e.scanOptions(false), interval)
	s, err := service.New(svc, scan.ServiceConfig(interval, cmd.String(configFlag)))
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	e.log.Info("scan service starting",
		zap.Duration("interval", interval),
		zap.String("log_dir", e.eff.LogDir),
		zap.Bool("interactive", service.Interactive()),
	)
	if err := s.Run(); err != nil {
		e.log.Error("scan service stopped", zap.Error(err))
		return err
	}
	return nil
}
