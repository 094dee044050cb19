package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/cptop/internal/model"
)

func TestLookup(t *testing.T) {
	table := DefaultTable()

	m, err := table.Lookup("claude-opus-4.5")
	require.NoError(t, err)
	assert.Equal(t, 10.0, m)

	m, err = table.Lookup("  Claude_Sonnet-4  ")
	require.NoError(t, err)
	assert.Equal(t, 1.0, m)

	_, err = table.Lookup("gpt-99")
	assert.ErrorIs(t, err, model.ErrUnknownModel)
	var unknown *model.UnknownModelError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "gpt-99", unknown.Model)
}

func TestNewTable_OverrideWins(t *testing.T) {
	table, err := NewTable(GetEmbeddedMultipliers(), map[string]float64{
		"GPT-4.1":    1,
		"my-model":   2.5,
		"gpt-5-mini": 0,
	})
	require.NoError(t, err)

	m, err := table.Lookup("gpt-4.1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, m)

	m, err = table.Lookup("my-model")
	require.NoError(t, err)
	assert.Equal(t, 2.5, m)

	assert.Equal(t, len(publishedMultipliers)+1, table.Len())

	var overridden int
	for _, e := range table.Entries() {
		if e.Overridden {
			overridden++
		}
	}
	assert.Equal(t, 3, overridden)
}

func TestNewTable_Rejects(t *testing.T) {
	for name, overrides := range map[string]map[string]float64{
		"negative": {"x": -1},
		"nan":      {"x": math.NaN()},
		"inf":      {"x": math.Inf(1)},
		"empty":    {" ": 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewTable(nil, overrides)
			assert.Error(t, err)
		})
	}
}

func TestEntriesSorted(t *testing.T) {
	entries := DefaultTable().Entries()
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i-1].Multiplier, entries[i].Multiplier)
	}
}

func TestPlans(t *testing.T) {
	plans := Plans()
	require.Len(t, plans, 5)
	assert.Equal(t, "free", plans[0].Key)
	for _, p := range plans {
		assert.Equal(t, 1, p.BillingCycleStartDay)
		assert.NoError(t, ValidatePlan(p, 1), p.Key)
	}

	_, ok := GetPlan("nope")
	assert.False(t, ok)
}

func TestValidatePlan_CollectsAll(t *testing.T) {
	err := ValidatePlan(model.Plan{IncludedQuota: -1, OverageRate: -1, BillingCycleStartDay: 31}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidPlan)
	assert.Contains(t, err.Error(), "included_quota")
	assert.Contains(t, err.Error(), "overage_rate")
	assert.Contains(t, err.Error(), "billing_cycle_start_day")
}

func TestBillingPeriodFor(t *testing.T) {
	tests := []struct {
		name  string
		day   int
		at    time.Time
		start time.Time
		end   time.Time
	}{
		{
			name:  "after anchor",
			day:   5,
			at:    time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC),
			start: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "before anchor wraps year",
			day:   5,
			at:    time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC),
			start: time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "on anchor midnight",
			day:   28,
			at:    time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
			start: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 3, 28, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BillingPeriodFor(tt.day, tt.at, nil)
			assert.Equal(t, tt.start, p.Start)
			assert.Equal(t, tt.end, p.End)
			assert.True(t, p.Contains(tt.at))
			assert.False(t, p.Contains(p.End))
		})
	}
}

func TestBillingPeriodFor_Location(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2026-03-31T20:00Z is already April 1st in UTC+9.
	p := BillingPeriodFor(1, time.Date(2026, 3, 31, 20, 0, 0, 0, time.UTC), loc)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, loc), p.Start)
}
