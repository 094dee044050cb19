package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/cptop/internal/model"
)

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `plan: business
seats: 3
billing_cycle_day: 15
timezone: Europe/Berlin
idle_after: 5m
multiplier_overrides:
  gpt-4.1: 1
  claude-opus-4.5: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "business", cfg.Plan)
	assert.Equal(t, 3, cfg.Seats)
	assert.Equal(t, 15, cfg.BillingCycleDay)
	assert.Equal(t, 5*time.Minute, cfg.IdleAfter)
	assert.Equal(t, map[string]float64{"gpt-4.1": 1, "claude-opus-4.5": 3}, cfg.MultiplierOverrides)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		Plan:      "pro_plus",
		IdleAfter: 90 * time.Second,
		CustomPlan: &model.Plan{
			Name:          "Team",
			MonthlyPrice:  25,
			IncludedQuota: 500,
			OverageRate:   0.05,
			AllowsOverage: true,
		},
		MultiplierOverrides: map[string]float64{"gpt-5.1": 0.5},
	}
	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestResolve_Defaults(t *testing.T) {
	eff, err := (&Config{}).Resolve()
	require.NoError(t, err)

	assert.Equal(t, "pro", eff.Plan.Key)
	assert.Equal(t, 1, eff.Plan.BillingCycleStartDay)
	assert.Equal(t, 1, eff.Seats)
	assert.Equal(t, DefaultIdleAfter, eff.IdleAfter)
	assert.Equal(t, DefaultDBPath(), eff.DBPath)
	assert.NotEmpty(t, eff.LogDir)
	assert.Equal(t, time.Local, eff.Location)
}

func TestResolve_Overrides(t *testing.T) {
	cfg := &Config{
		Plan:                "enterprise",
		Seats:               4,
		BillingCycleDay:     20,
		Timezone:            "UTC",
		MultiplierOverrides: map[string]float64{"claude-opus-4.5": 3},
	}
	eff, err := cfg.Resolve()
	require.NoError(t, err)

	assert.Equal(t, 20, eff.Plan.BillingCycleStartDay)
	assert.Equal(t, 4000.0, eff.Plan.QuotaFor(eff.Seats))
	mult, err := eff.Table.Lookup("claude-opus-4.5")
	require.NoError(t, err)
	assert.Equal(t, 3.0, mult)
	assert.Equal(t, time.UTC, eff.Location)
}

func TestResolve_CustomPlan(t *testing.T) {
	cfg := &Config{CustomPlan: &model.Plan{IncludedQuota: 100, MonthlyPrice: 5}}
	eff, err := cfg.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "custom", eff.Plan.Key)
	assert.Equal(t, 1, eff.Plan.BillingCycleStartDay)
}

func TestResolve_Invalid(t *testing.T) {
	tests := map[string]*Config{
		"unknown plan":   {Plan: "platinum"},
		"billing day":    {BillingCycleDay: 31},
		"negative quota": {CustomPlan: &model.Plan{IncludedQuota: -5}},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := cfg.Resolve()
			assert.ErrorIs(t, err, model.ErrInvalidPlan)
		})
	}

	_, err := (&Config{MultiplierOverrides: map[string]float64{"x": -1}}).Resolve()
	assert.Error(t, err)

	_, err = (&Config{Timezone: "Mars/Olympus"}).Resolve()
	assert.Error(t, err)
}
