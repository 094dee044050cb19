package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/zhaobenny/cptop/cli/internal/config"
	"github.com/zhaobenny/cptop/internal/database"
	"github.com/zhaobenny/cptop/internal/ledger"
)

const sampleLog = `2026-01-15T10:00:02.000Z [DEBUG] Got model info: {"id": "claude-opus-4.5", "billing": {"is_premium": true, "multiplier": 10}}
2026-01-15T10:00:05.000Z [INFO] [Telemetry] cli.model_call: {"model": "claude-opus-4.5", "prompt_tokens_count": 100, "completion_tokens_count": 20, "duration_ms": 900, "session_id": "abc-123"}
`

func TestParseDate(t *testing.T) {
	want := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"20260115", "2026-01-15"} {
		got, err := parseDate(s, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := parseDate("15/01/2026", time.UTC)
	assert.Error(t, err)
}

func TestDateRange(t *testing.T) {
	var since, until time.Time
	cmd := &cli.Command{
		Name:  "report",
		Flags: reportFlags(),
		Action: func(_ context.Context, c *cli.Command) error {
			var err error
			since, until, err = dateRange(c, time.UTC)
			return err
		},
	}
	require.NoError(t, cmd.Run(context.Background(), []string{"report", "--since", "2026-01-01", "--until", "20260131"}))
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), since)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), until)

	err := cmd.Run(context.Background(), []string{"report", "--since", "2026-02-01", "--until", "2026-01-01"})
	assert.Error(t, err)
}

func writeConfig(t *testing.T, cfg *config.Config) (string, string) {
	t.Helper()
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))
	cfg.LogDir = logDir
	cfg.DBPath = filepath.Join(dir, "cptop.db")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path, logDir
}

func TestRootCommand_ScanAndReport(t *testing.T) {
	path, logDir := writeConfig(t, &config.Config{Plan: "pro", Timezone: "UTC"})
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "process-1.log"), []byte(sampleLog), 0o644))
	textfile := filepath.Join(t.TempDir(), "cptop.prom")

	ctx := context.Background()
	require.NoError(t, rootCommand().Run(ctx, []string{"cptop", "--config", path, "scan"}))
	require.NoError(t, rootCommand().Run(ctx, []string{"cptop", "--config", path, "--metrics-textfile", textfile, "report", "--json", "--no-scan"}))

	db, err := database.Open(filepath.Join(filepath.Dir(path), "cptop.db"), nil)
	require.NoError(t, err)
	defer db.Close()
	events, err := db.Events(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "claude-opus-4.5", events[0].Model)

	metrics, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "cptop_events_ingested_total")
}

func TestScanCommand_Reset(t *testing.T) {
	path, logDir := writeConfig(t, &config.Config{Plan: "pro", Timezone: "UTC"})
	logPath := filepath.Join(logDir, "process-1.log")
	require.NoError(t, os.WriteFile(logPath, []byte(sampleLog), 0o644))

	ctx := context.Background()
	require.NoError(t, rootCommand().Run(ctx, []string{"cptop", "--config", path, "scan"}))
	require.NoError(t, os.Remove(logPath))

	dbPath := filepath.Join(filepath.Dir(path), "cptop.db")
	countEvents := func() int {
		db, err := database.Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()
		events, err := db.Events(time.Time{}, time.Time{})
		require.NoError(t, err)
		return len(events)
	}

	// A plain scan keeps events of logs that have been deleted.
	require.NoError(t, rootCommand().Run(ctx, []string{"cptop", "--config", path, "scan"}))
	assert.Equal(t, 1, countEvents())

	require.NoError(t, rootCommand().Run(ctx, []string{"cptop", "--config", path, "scan", "--reset"}))
	assert.Equal(t, 0, countEvents())
}

func TestRootCommand_InvalidPlan(t *testing.T) {
	path, _ := writeConfig(t, &config.Config{BillingCycleDay: 31})

	err := rootCommand().Run(context.Background(), []string{"cptop", "--config", path, "report"})
	require.Error(t, err)
	assert.True(t, ledger.IsInvalidPlan(err))
}

func TestConfigCommand(t *testing.T) {
	path, _ := writeConfig(t, &config.Config{})
	ctx := context.Background()

	require.NoError(t, rootCommand().Run(ctx, []string{
		"cptop", "--config", path, "config",
		"--plan", "business", "--seats", "3", "--set-multiplier", "gpt-5.1=2",
	}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "business", cfg.Plan)
	assert.Equal(t, 3, cfg.Seats)
	assert.Equal(t, map[string]float64{"gpt-5.1": 2}, cfg.MultiplierOverrides)

	err = rootCommand().Run(ctx, []string{"cptop", "--config", path, "config", "--plan", "platinum"})
	assert.Error(t, err)

	err = rootCommand().Run(ctx, []string{"cptop", "--config", path, "config", "--billing-day", "30"})
	assert.True(t, ledger.IsInvalidPlan(err))
}
