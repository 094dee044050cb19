package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/zhaobenny/cptop/internal/aggregator"
	"github.com/zhaobenny/cptop/internal/model"
	"github.com/zhaobenny/cptop/internal/pricing"
)

// Options for a ledger run
type Options struct {
	// Seats scales per-seat plans. Flat plans ignore it.
	Seats int
	// Location anchors billing period boundaries and daily buckets.
	Location *time.Location
	// Since and Until limit which periods, sessions and days are reported.
	// Quota is always folded over every event so earlier usage is honored.
	Since time.Time
	Until time.Time
}

// resolved is an event with its effective billing weight
type resolved struct {
	event   model.UsageEvent
	mult    float64
	premium bool
	known   bool
}

func (r resolved) billable() bool {
	return r.known && r.premium && r.mult > 0
}

type bucket struct {
	period model.BillingPeriod
	events []resolved
}

// Calculate folds events into a usage report. Events may arrive in any order:
// each billing period is processed chronologically, with ties kept in input
// order. An invalid plan aborts before anything is computed.
func Calculate(events []model.UsageEvent, plan model.Plan, table pricing.Table, now time.Time, opts Options) (*model.UsageReport, error) {
	seats := opts.Seats
	if !plan.PerSeat && seats < 1 {
		seats = 1
	}
	if err := pricing.ValidatePlan(plan, seats); err != nil {
		return nil, fmt.Errorf("calculate usage: %w", err)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	report := &model.UsageReport{
		Plan:        plan,
		Seats:       seats,
		GeneratedAt: now,
	}

	var (
		buckets = make(map[time.Time]*bucket)
		all     = make([]resolved, 0, len(events))
	)
	for _, ev := range events {
		r := resolve(ev, table)
		if !r.known {
			report.Anomalies = append(report.Anomalies, model.Anomaly{
				Source:    ev.Source,
				Timestamp: ev.Timestamp,
				Model:     ev.Model,
				Reason:    model.ErrUnknownModel.Error(),
			})
		}
		all = append(all, r)

		period := pricing.BillingPeriodFor(plan.BillingCycleStartDay, ev.Timestamp, loc)
		b, ok := buckets[period.Start]
		if !ok {
			b = &bucket{period: period}
			buckets[period.Start] = b
		}
		b.events = append(b.events, r)
	}

	current := pricing.BillingPeriodFor(plan.BillingCycleStartDay, now, loc)
	if _, ok := buckets[current.Start]; !ok {
		buckets[current.Start] = &bucket{period: current}
	}

	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	weights := make(aggregator.Weights)
	for _, start := range starts {
		b := buckets[start]
		pr := fold(b, plan, seats)
		for _, c := range pr.Charges {
			weights[c.Source] = c.IncludedUnits + c.OverageUnits
		}

		if b.period.Start.Equal(current.Start) {
			cur := pr
			cur.DaysRemaining = int(math.Ceil(b.period.End.Sub(now).Hours() / 24))
			report.Current = &cur
		}
		if !overlaps(b.period, opts.Since, opts.Until) || len(b.events) == 0 {
			continue
		}
		report.Periods = append(report.Periods, pr)
		report.Totals = addTotals(report.Totals, pr.Totals)
	}

	inWindow := make([]resolved, 0, len(all))
	for _, r := range all {
		if inside(r.event.Timestamp, opts.Since, opts.Until) {
			inWindow = append(inWindow, r)
		}
	}
	report.Models = modelStats(inWindow)

	unknown := make(map[model.SourceLocation]bool, len(report.Anomalies))
	for _, a := range report.Anomalies {
		unknown[a.Source] = true
	}
	aggOpts := aggregator.Options{
		Since:    opts.Since,
		Until:    opts.Until,
		Timezone: loc,
		Weights:  weights,
		Unknown:  unknown,
	}
	filtered := aggregator.FilterEvents(events, aggOpts)
	report.Sessions = aggregator.Sessions(filtered, aggOpts)
	report.Daily = aggregator.ByDay(filtered, aggOpts)

	return report, nil
}

// resolve picks the event's own billing fields over the table. An explicit
// non-premium flag settles the event without a lookup.
func resolve(ev model.UsageEvent, table pricing.Table) resolved {
	r := resolved{event: ev}
	b := ev.Billing
	if b != nil && b.IsPremium != nil && !*b.IsPremium {
		r.known = true
		if b.Multiplier != nil {
			r.mult = *b.Multiplier
		}
		return r
	}

	if b != nil && b.Multiplier != nil {
		r.mult = *b.Multiplier
	} else {
		mult, err := table.Lookup(ev.Model)
		if err != nil {
			return r
		}
		r.mult = mult
	}
	r.known = true
	r.premium = r.mult > 0
	if b != nil && b.IsPremium != nil {
		r.premium = *b.IsPremium
	}
	return r
}

// fold runs the chronological quota fold for one period
func fold(b *bucket, plan model.Plan, seats int) model.PeriodReport {
	sorted := make([]resolved, len(b.events))
	copy(sorted, b.events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].event.Timestamp.Before(sorted[j].event.Timestamp)
	})

	quota := plan.QuotaFor(seats)
	pr := model.PeriodReport{
		Period:        b.period,
		IncludedQuota: quota,
		Models:        make(map[string]*model.ModelCharge),
	}

	remaining := quota
	for _, r := range sorted {
		mc, ok := pr.Models[r.event.Model]
		if !ok {
			mc = &model.ModelCharge{Model: r.event.Model}
			pr.Models[r.event.Model] = mc
		}
		mc.Calls++
		pr.Totals.Calls++

		if !r.billable() {
			continue
		}

		included := math.Min(r.mult, math.Max(remaining, 0))
		overage := r.mult - included
		remaining = math.Max(remaining-included, 0)

		var cost float64
		if plan.AllowsOverage {
			cost = overage * plan.OverageRate
		}

		mc.PremiumCalls++
		mc.IncludedUnits += included
		mc.OverageUnits += overage
		mc.OverageCost += cost

		pr.Totals.PremiumCalls++
		pr.Totals.IncludedUnits += included
		pr.Totals.OverageUnits += overage
		pr.Totals.OverageCost += cost

		pr.Charges = append(pr.Charges, model.Charge{
			Source:        r.event.Source,
			Timestamp:     r.event.Timestamp,
			Model:         r.event.Model,
			Multiplier:    r.mult,
			IncludedUnits: included,
			OverageUnits:  overage,
			OverageCost:   cost,
		})
	}

	pr.RemainingQuota = remaining
	switch {
	case quota > 0:
		pr.UsagePercent = pr.Totals.IncludedUnits / quota * 100
	case pr.Totals.OverageUnits > 0:
		pr.UsagePercent = 100
	}
	pr.Totals.PlanCost = plan.PriceFor(seats)
	pr.Totals.EstimatedSpend = pr.Totals.PlanCost + pr.Totals.OverageCost
	pr.Stats = modelStats(sorted)
	return pr
}

func addTotals(a, b model.Totals) model.Totals {
	return model.Totals{
		Calls:          a.Calls + b.Calls,
		PremiumCalls:   a.PremiumCalls + b.PremiumCalls,
		IncludedUnits:  a.IncludedUnits + b.IncludedUnits,
		OverageUnits:   a.OverageUnits + b.OverageUnits,
		OverageCost:    a.OverageCost + b.OverageCost,
		PlanCost:       a.PlanCost + b.PlanCost,
		EstimatedSpend: a.EstimatedSpend + b.EstimatedSpend,
	}
}

// overlaps reports whether the period intersects [since, until]. Zero bounds are open.
func overlaps(p model.BillingPeriod, since, until time.Time) bool {
	if !since.IsZero() && !p.End.After(since) {
		return false
	}
	if !until.IsZero() && p.Start.After(until) {
		return false
	}
	return true
}

func inside(t, since, until time.Time) bool {
	if !since.IsZero() && t.Before(since) {
		return false
	}
	if !until.IsZero() && t.After(until) {
		return false
	}
	return true
}

// IsInvalidPlan reports whether err came from plan validation
func IsInvalidPlan(err error) bool {
	return errors.Is(err, model.ErrInvalidPlan)
}
