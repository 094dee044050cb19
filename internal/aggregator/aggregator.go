package aggregator

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/zhaobenny/cptop/internal/model"
)

// Weights holds the premium units each billed event consumed, keyed by source
type Weights map[model.SourceLocation]float64

// Options for aggregation
type Options struct {
	Since    time.Time
	Until    time.Time
	Timezone *time.Location
	// Weights and Unknown come from a ledger run. Both may be nil.
	Weights Weights
	Unknown map[model.SourceLocation]bool
}

// FilterEvents filters events based on date range. Both bounds are inclusive.
func FilterEvents(events []model.UsageEvent, opts Options) []model.UsageEvent {
	return lo.Filter(events, func(e model.UsageEvent, _ int) bool {
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			return false
		}
		if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
			return false
		}
		return true
	})
}

// Sessions groups events by session id. Events without one are left out.
// Sessions are ordered by start time then id.
func Sessions(events []model.UsageEvent, opts Options) []model.Session {
	withID := lo.Filter(events, func(e model.UsageEvent, _ int) bool {
		return e.SessionID != ""
	})
	grouped := lo.GroupBy(withID, func(e model.UsageEvent) string {
		return e.SessionID
	})

	results := make([]model.Session, 0, len(grouped))
	for id, group := range grouped {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		s := model.Session{
			SessionID: id,
			StartTime: group[0].Timestamp,
			EndTime:   group[len(group)-1].Timestamp,
			TurnCount: len(group),
		}
		for _, e := range group {
			s.Usage = s.Usage.Add(e.Usage)
			s.TotalDuration += e.DurationMS
			s.PremiumUnits += opts.Weights[e.Source]
		}
		s.ModelsUsed = lo.Uniq(lo.Map(group, func(e model.UsageEvent, _ int) string {
			return e.Model
		}))
		s.Files = lo.Uniq(lo.Map(group, func(e model.UsageEvent, _ int) string {
			return e.Source.File
		}))
		results = append(results, s)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].StartTime.Equal(results[j].StartTime) {
			return results[i].SessionID < results[j].SessionID
		}
		return results[i].StartTime.Before(results[j].StartTime)
	})

	return results
}

// AnnotateSessions attaches logged markers to the sessions they belong to
func AnnotateSessions(sessions []model.Session, markers map[string]model.SessionMarkers) {
	for i := range sessions {
		if m, ok := markers[sessions[i].SessionID]; ok {
			sessions[i].Markers = &m
		}
	}
}

// ByDay aggregates usage by calendar day, oldest first
func ByDay(events []model.UsageEvent, opts Options) []model.DailyUsage {
	grouped := make(map[string]*model.DailyUsage)

	for _, e := range events {
		ts := e.Timestamp
		if opts.Timezone != nil {
			ts = ts.In(opts.Timezone)
		}
		key := ts.Format("2006-01-02")

		d, ok := grouped[key]
		if !ok {
			d = &model.DailyUsage{Date: key, UnitsByModel: make(map[string]float64)}
			grouped[key] = d
		}

		d.Calls++
		d.Usage = d.Usage.Add(e.Usage)
		d.Models = append(d.Models, e.Model)
		if opts.Unknown[e.Source] {
			d.UnknownModels++
		}
		if units, ok := opts.Weights[e.Source]; ok {
			d.PremiumCalls++
			d.PremiumUnits += units
			d.UnitsByModel[e.Model] += units
		}
	}

	results := make([]model.DailyUsage, 0, len(grouped))
	for _, key := range lo.Keys(grouped) {
		d := grouped[key]
		d.Models = lo.Uniq(d.Models)
		sort.Strings(d.Models)
		results = append(results, *d)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Date < results[j].Date
	})

	return results
}

// CalculateTotal returns the sum over daily rows
func CalculateTotal(days []model.DailyUsage) model.DailyUsage {
	total := model.DailyUsage{Date: "Total", UnitsByModel: make(map[string]float64)}
	var models []string

	for _, d := range days {
		total.Calls += d.Calls
		total.PremiumCalls += d.PremiumCalls
		total.PremiumUnits += d.PremiumUnits
		total.UnknownModels += d.UnknownModels
		total.Usage = total.Usage.Add(d.Usage)
		for m, u := range d.UnitsByModel {
			total.UnitsByModel[m] += u
		}
		models = append(models, d.Models...)
	}

	total.Models = lo.Uniq(models)
	sort.Strings(total.Models)

	return total
}
