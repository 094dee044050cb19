package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/cptop/internal/model"
)

var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func event(offset int64, at time.Time, modelName, session string, prompt int64) model.UsageEvent {
	return model.UsageEvent{
		Timestamp:  at,
		Model:      modelName,
		SessionID:  session,
		DurationMS: 1000,
		Usage:      model.TokenUsage{PromptTokens: prompt, CompletionTokens: 10, CachedTokens: 5},
		Source:     model.SourceLocation{File: "process-1.log", Offset: offset},
	}
}

func TestSessions_ThreeTurns(t *testing.T) {
	events := []model.UsageEvent{
		event(200, t0.Add(12*time.Minute), "X", "abc-123", 300),
		event(0, t0, "X", "abc-123", 100),
		event(100, t0.Add(5*time.Minute), "Y", "abc-123", 200),
	}

	sessions := Sessions(events, Options{})
	require.Len(t, sessions, 1)

	s := sessions[0]
	assert.Equal(t, "abc-123", s.SessionID)
	assert.Equal(t, 12*time.Minute, s.Duration())
	assert.Equal(t, 3, s.TurnCount)
	assert.Equal(t, []string{"X", "Y"}, s.ModelsUsed)
	assert.Equal(t, model.TokenUsage{PromptTokens: 600, CompletionTokens: 30, CachedTokens: 15}, s.Usage)
	assert.Equal(t, int64(3000), s.TotalDuration)
	assert.Equal(t, []string{"process-1.log"}, s.Files)
}

func TestSessions_SkipsMissingID(t *testing.T) {
	events := []model.UsageEvent{
		event(0, t0, "X", "", 100),
		event(100, t0.Add(time.Minute), "X", "b", 100),
		event(200, t0.Add(-time.Minute), "X", "a", 100),
	}

	sessions := Sessions(events, Options{})
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].SessionID)
	assert.Equal(t, "b", sessions[1].SessionID)
	assert.Zero(t, sessions[1].Duration())
}

func TestSessions_PremiumUnits(t *testing.T) {
	a := event(0, t0, "X", "s", 1)
	b := event(100, t0.Add(time.Minute), "Y", "s", 1)
	weights := Weights{a.Source: 6, b.Source: 0.33}

	sessions := Sessions([]model.UsageEvent{a, b}, Options{Weights: weights})
	require.Len(t, sessions, 1)
	assert.InDelta(t, 6.33, sessions[0].PremiumUnits, 1e-9)
}

func TestFilterEvents(t *testing.T) {
	events := []model.UsageEvent{
		event(0, t0.Add(-time.Hour), "X", "s", 1),
		event(100, t0, "X", "s", 1),
		event(200, t0.Add(time.Hour), "X", "s", 1),
	}

	filtered := FilterEvents(events, Options{Since: t0, Until: t0.Add(time.Hour)})
	assert.Len(t, filtered, 2)
	assert.Len(t, FilterEvents(events, Options{}), 3)
}

func TestByDay(t *testing.T) {
	a := event(0, t0, "X", "s", 1)
	b := event(100, t0.Add(time.Hour), "Y", "s", 1)
	c := event(200, t0.Add(24*time.Hour), "X", "s", 1)
	d := event(300, t0.Add(24*time.Hour), "mystery", "s", 1)

	days := ByDay([]model.UsageEvent{c, a, b, d}, Options{
		Timezone: time.UTC,
		Weights:  Weights{a.Source: 1, c.Source: 1},
		Unknown:  map[model.SourceLocation]bool{d.Source: true},
	})

	require.Len(t, days, 2)
	assert.Equal(t, "2026-01-15", days[0].Date)
	assert.Equal(t, 2, days[0].Calls)
	assert.Equal(t, 1, days[0].PremiumCalls)
	assert.Equal(t, []string{"X", "Y"}, days[0].Models)
	assert.Equal(t, "2026-01-16", days[1].Date)
	assert.Equal(t, 1, days[1].UnknownModels)

	total := CalculateTotal(days)
	assert.Equal(t, 4, total.Calls)
	assert.Equal(t, 2, total.PremiumCalls)
	assert.InDelta(t, 2.0, total.PremiumUnits, 1e-9)
	assert.Equal(t, []string{"X", "Y", "mystery"}, total.Models)
}

func TestByDay_Timezone(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*3600)
	late := event(0, time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC), "X", "s", 1)

	days := ByDay([]model.UsageEvent{late}, Options{Timezone: loc})
	require.Len(t, days, 1)
	assert.Equal(t, "2026-01-15", days[0].Date)
}

func TestAnnotateSessions(t *testing.T) {
	sessions := Sessions([]model.UsageEvent{
		event(0, t0, "X", "abc-123", 1),
		event(100, t0, "X", "def-456", 1),
	}, Options{})

	AnnotateSessions(sessions, map[string]model.SessionMarkers{
		"abc-123": {Starts: 1, TurnEnds: 4},
		"zzz":     {Starts: 1},
	})

	require.Len(t, sessions, 2)
	require.NotNil(t, sessions[0].Markers)
	assert.Equal(t, model.SessionMarkers{Starts: 1, TurnEnds: 4}, *sessions[0].Markers)
	assert.Equal(t, 1, sessions[0].TurnCount)
	assert.Nil(t, sessions[1].Markers)
}
