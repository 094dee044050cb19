package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/zhaobenny/cptop/cli/internal/config"
	"github.com/zhaobenny/cptop/cli/internal/scan"
	"github.com/zhaobenny/cptop/internal/aggregator"
	"github.com/zhaobenny/cptop/internal/database"
	"github.com/zhaobenny/cptop/internal/ledger"
	"github.com/zhaobenny/cptop/internal/logger"
	"github.com/zhaobenny/cptop/internal/metrics"
	"github.com/zhaobenny/cptop/internal/model"
)

// env is what every command needs: resolved config, a logger and the cache
type env struct {
	configPath string
	cfg        *config.Config
	eff        *config.Effective
	log        *zap.Logger
	db         *database.DB
	metrics    *metrics.Metrics
	textfile   string
}

func configPath(cmd *cli.Command) string {
	if p := cmd.String(configFlag); p != "" {
		return p
	}
	return config.DefaultPath()
}

// loadEnv loads and resolves the config, then opens and migrates the cache
func loadEnv(cmd *cli.Command) (*env, error) {
	e := &env{configPath: configPath(cmd)}

	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg

	level := cfg.LogLevel
	if cmd.Bool(debugFlag) {
		level = "debug"
	}
	e.log, err = logger.New(cfg.LogFormat, level)
	if err != nil {
		return nil, err
	}

	e.eff, err = cfg.Resolve()
	if err != nil {
		return nil, err
	}

	e.db, err = database.Open(e.eff.DBPath, e.log)
	if err != nil {
		return nil, err
	}
	if err := e.db.Migrate(); err != nil {
		e.db.Close()
		return nil, err
	}

	e.metrics = metrics.New()
	e.textfile = cmd.String(metricsFlag)
	if e.textfile == "" {
		e.textfile = cfg.MetricsTextfile
	}

	e.log.Debug("environment loaded",
		zap.String("config", e.configPath),
		zap.String("plan", e.eff.Plan.Key),
		zap.String("log_dir", e.eff.LogDir),
		zap.String("db", e.eff.DBPath),
	)
	return e, nil
}

// Close writes the metrics textfile if one is configured and closes the cache
func (e *env) Close() error {
	defer e.log.Sync() //nolint:errcheck
	if e.textfile != "" {
		if err := e.metrics.WriteTextfile(e.textfile); err != nil {
			e.db.Close()
			return err
		}
	}
	return e.db.Close()
}

func (e *env) scanner() *scan.Scanner {
	return scan.New(e.db, e.log, e.metrics)
}

func (e *env) scanOptions(force bool) scan.Options {
	return scan.Options{
		Dir:       e.eff.LogDir,
		IdleAfter: e.eff.IdleAfter,
		Force:     force,
	}
}

// report scans unless told otherwise and folds every cached event
func (e *env) report(ctx context.Context, cmd *cli.Command) (*model.UsageReport, error) {
	if !cmd.Bool(noScanFlag) {
		if _, err := e.scanner().Run(ctx, e.scanOptions(false)); err != nil {
			return nil, fmt.Errorf("scan logs: %w", err)
		}
	}

	since, until, err := dateRange(cmd, e.eff.Location)
	if err != nil {
		return nil, err
	}

	// Quota depends on everything earlier in the period, so the range only
	// limits what is reported.
	events, err := e.db.Events(time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}

	r, err := ledger.Calculate(events, e.eff.Plan, e.eff.Table, time.Now(), ledger.Options{
		Seats:    e.eff.Seats,
		Location: e.eff.Location,
		Since:    since,
		Until:    until,
	})
	if err != nil {
		return nil, err
	}
	markers, err := e.db.SessionMarkers()
	if err != nil {
		return nil, err
	}
	aggregator.AnnotateSessions(r.Sessions, markers)

	e.metrics.ObserveReport(r)
	return r, nil
}

// dateRange parses --since and --until in loc. Until covers the whole day.
func dateRange(cmd *cli.Command, loc *time.Location) (since, until time.Time, err error) {
	if s := cmd.String(sinceFlag); s != "" {
		since, err = parseDate(s, loc)
		if err != nil {
			return since, until, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if s := cmd.String(untilFlag); s != "" {
		until, err = parseDate(s, loc)
		if err != nil {
			return since, until, fmt.Errorf("invalid --until: %w", err)
		}
		until = until.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		return since, until, fmt.Errorf("--until is before --since")
	}
	return since, until, nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"20060102", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a date, use YYYYMMDD or YYYY-MM-DD", s)
}
