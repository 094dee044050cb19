package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/zhaobenny/cptop/internal/aggregator"
	"github.com/zhaobenny/cptop/internal/model"
	"github.com/zhaobenny/cptop/internal/pricing"
)

const dateFormat = "2006-01-02"

// ReportOptions controls what PrintReport shows
type ReportOptions struct {
	TableOptions
	AllPeriods bool
}

// PrintReport prints the quota summary of the current billing period
func PrintReport(w io.Writer, r *model.UsageReport, opts ReportOptions) {
	fmt.Fprintln(w)
	seats := ""
	if r.Plan.PerSeat {
		seats = fmt.Sprintf(" × %d seats", r.Seats)
	}
	fmt.Fprintf(w, "Plan: %s%s\n", r.Plan.Label(), seats)

	if r.Current != nil {
		printPeriod(w, *r.Current, r.Plan, opts.TableOptions, true)
	}

	if opts.AllPeriods {
		for _, p := range r.Periods {
			if r.Current != nil && p.Period.Start.Equal(r.Current.Period.Start) {
				continue
			}
			printPeriod(w, p, r.Plan, opts.TableOptions, false)
		}
		if len(r.Periods) > 1 {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "All periods: %s premium requests, %s overage, %s estimated spend\n",
				FormatUnits(r.Totals.IncludedUnits+r.Totals.OverageUnits),
				FormatCost(r.Totals.OverageCost),
				FormatCost(r.Totals.EstimatedSpend))
		}
	}

	if len(r.Anomalies) > 0 {
		names := lo.Uniq(lo.Map(r.Anomalies, func(a model.Anomaly, _ int) string { return a.Model }))
		sort.Strings(names)
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Warning: %d calls to models without a known multiplier were not billed (%s)\n",
			len(r.Anomalies), strings.Join(names, ", "))
	}
	fmt.Fprintln(w)
}

func printPeriod(w io.Writer, p model.PeriodReport, plan model.Plan, opts TableOptions, current bool) {
	fmt.Fprintln(w)
	title := "Billing period"
	if current {
		title = "Current period"
	}
	// Periods end at midnight of the next cycle start, so show the day before.
	fmt.Fprintf(w, "%s: %s → %s", title,
		p.Period.Start.Format(dateFormat),
		p.Period.End.Add(-time.Nanosecond).Format(dateFormat))
	if current {
		fmt.Fprintf(w, " (%d days left)", p.DaysRemaining)
	}
	fmt.Fprintln(w)

	used := p.Totals.IncludedUnits
	fmt.Fprintf(w, "Premium requests: %s / %s included (%s), %s remaining\n",
		FormatUnits(used), FormatUnits(p.IncludedQuota), FormatPercent(p.UsagePercent), FormatUnits(p.RemainingQuota))
	if p.Totals.OverageUnits > 0 {
		if plan.AllowsOverage {
			fmt.Fprintf(w, "Overage: %s requests, %s\n", FormatUnits(p.Totals.OverageUnits), FormatCost(p.Totals.OverageCost))
		} else {
			fmt.Fprintf(w, "Over quota: %s requests (plan does not allow overage)\n", FormatUnits(p.Totals.OverageUnits))
		}
	}
	fmt.Fprintf(w, "Estimated spend: %s\n", FormatCost(p.Totals.EstimatedSpend))

	if len(p.Models) == 0 {
		return
	}
	fmt.Fprintln(w)
	printCharges(w, p, opts)
}

func printCharges(w io.Writer, p model.PeriodReport, opts TableOptions) {
	compact := shouldUseCompact(opts)

	names := lo.Keys(p.Models)
	sort.Slice(names, func(i, j int) bool {
		a, b := p.Models[names[i]], p.Models[names[j]]
		if a.Units() != b.Units() {
			return a.Units() > b.Units()
		}
		return names[i] < names[j]
	})

	t := &table{headers: []string{"Model", "Calls", "Premium", "Included", "Overage", "Cost"}}
	if compact {
		t.headers = []string{"Model", "Calls", "Units", "Cost"}
	}
	for _, name := range names {
		c := p.Models[name]
		if compact {
			t.add(shortenModelName(name), strconv.Itoa(c.Calls), FormatUnits(c.Units()), FormatCost(c.OverageCost))
			continue
		}
		t.add(name, strconv.Itoa(c.Calls), strconv.Itoa(c.PremiumCalls),
			FormatUnits(c.IncludedUnits), FormatUnits(c.OverageUnits), FormatCost(c.OverageCost))
	}
	if len(names) > 1 {
		tot := p.Totals
		if compact {
			t.footer = []string{"Total", strconv.Itoa(tot.Calls), FormatUnits(tot.IncludedUnits + tot.OverageUnits), FormatCost(tot.OverageCost)}
		} else {
			t.footer = []string{"Total", strconv.Itoa(tot.Calls), strconv.Itoa(tot.PremiumCalls),
				FormatUnits(tot.IncludedUnits), FormatUnits(tot.OverageUnits), FormatCost(tot.OverageCost)}
		}
	}
	t.render(w)
}

// PrintSessions prints one row per session
func PrintSessions(w io.Writer, sessions []model.Session, loc *time.Location, opts TableOptions) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}
	if loc == nil {
		loc = time.Local
	}
	compact := shouldUseCompact(opts)

	t := &table{headers: []string{"Session", "Started", "Duration", "Turns", "Turn Ends", "Units", "Prompt", "Completion", "Avg Latency", "Models"}}
	if compact {
		t.headers = []string{"Session", "Started", "Turns", "Units"}
	}
	for _, s := range sessions {
		started := s.StartTime.In(loc).Format("2006-01-02 15:04")
		if compact {
			t.add(shortenSessionID(s.SessionID), started, strconv.Itoa(s.TurnCount), FormatUnits(s.PremiumUnits))
			continue
		}
		t.add(
			shortenSessionID(s.SessionID),
			started,
			s.Duration().Round(time.Second).String(),
			strconv.Itoa(s.TurnCount),
			turnEnds(s.Markers),
			FormatUnits(s.PremiumUnits),
			FormatNumber(s.Usage.PromptTokens),
			FormatNumber(s.Usage.CompletionTokens),
			fmt.Sprintf("%.0fms", s.AvgLatencyMS()),
			strings.Join(lo.Map(s.ModelsUsed, func(m string, _ int) string { return shortenModelName(m) }), ", "),
		)
	}

	fmt.Fprintln(w)
	t.render(w)
	fmt.Fprintln(w)
}

// turnEnds shows the logged turn end markers, "-" when none were logged
func turnEnds(m *model.SessionMarkers) string {
	if m == nil {
		return "-"
	}
	return strconv.Itoa(m.TurnEnds)
}

// PrintDaily prints one row per calendar day with a total
func PrintDaily(w io.Writer, days []model.DailyUsage, opts TableOptions) {
	if len(days) == 0 {
		fmt.Fprintln(w, "No usage data found.")
		return
	}
	compact := shouldUseCompact(opts)

	t := &table{headers: []string{"Date", "Calls", "Premium", "Units", "Prompt", "Completion", "Cached"}}
	if compact {
		t.headers = []string{"Date", "Calls", "Units", "Tokens"}
	}
	row := func(d model.DailyUsage) []string {
		if compact {
			return []string{d.Date, strconv.Itoa(d.Calls), FormatUnits(d.PremiumUnits), FormatNumber(d.Usage.Total())}
		}
		return []string{
			d.Date,
			strconv.Itoa(d.Calls),
			strconv.Itoa(d.PremiumCalls),
			FormatUnits(d.PremiumUnits),
			FormatNumber(d.Usage.PromptTokens),
			FormatNumber(d.Usage.CompletionTokens),
			FormatNumber(d.Usage.CachedTokens),
		}
	}
	for _, d := range days {
		t.rows = append(t.rows, row(d))
	}
	total := aggregator.CalculateTotal(days)
	if len(days) > 1 {
		t.footer = row(total)
	}

	fmt.Fprintln(w)
	t.render(w)
	if total.UnknownModels > 0 {
		fmt.Fprintf(w, "\n%d calls used models without a known multiplier.\n", total.UnknownModels)
	}
	if compact {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "(Compact mode - expand terminal for full view)")
	}
	fmt.Fprintln(w)
}

// PrintModelStats prints latency and token analytics per model
func PrintModelStats(w io.Writer, stats []model.ModelStats, opts TableOptions) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No model calls found.")
		return
	}
	compact := shouldUseCompact(opts)

	t := &table{headers: []string{"Model", "Calls", "p50", "p95", "Mean", "Prompt", "Completion", "Cache Hit"}}
	if compact {
		t.headers = []string{"Model", "Calls", "p50", "p95"}
	}
	ms := func(v float64) string { return fmt.Sprintf("%.0fms", v) }
	for _, s := range stats {
		if compact {
			t.add(shortenModelName(s.Model), strconv.Itoa(s.Tokens.Calls), ms(s.Latency.P50MS), ms(s.Latency.P95MS))
			continue
		}
		t.add(
			s.Model,
			strconv.Itoa(s.Tokens.Calls),
			ms(s.Latency.P50MS),
			ms(s.Latency.P95MS),
			ms(s.Latency.MeanMS),
			FormatNumber(s.Tokens.Usage.PromptTokens),
			FormatNumber(s.Tokens.Usage.CompletionTokens),
			FormatPercent(s.Tokens.CacheHitRate*100),
		)
	}

	fmt.Fprintln(w)
	t.render(w)
	fmt.Fprintln(w)
}

// PrintPlans lists the published plans, marking the active one
func PrintPlans(w io.Writer, plans []model.Plan, active string) {
	t := &table{headers: []string{"Plan", "Price", "Included", "Overage", "Per Seat"}}
	for _, p := range plans {
		name := p.Name
		if p.Key == active {
			name += " *"
		}
		overage := "-"
		if p.AllowsOverage {
			overage = fmt.Sprintf("$%.2f/req", p.OverageRate)
		}
		t.add(
			fmt.Sprintf("%s (%s)", name, p.Key),
			FormatCost(p.MonthlyPrice)+"/mo",
			FormatUnits(p.IncludedQuota),
			overage,
			lo.Ternary(p.PerSeat, "yes", "no"),
		)
	}

	fmt.Fprintln(w)
	t.render(w)
	fmt.Fprintln(w)
}

// PrintMultipliers lists the multiplier table
func PrintMultipliers(w io.Writer, entries []pricing.Multiplier) {
	t := &table{headers: []string{"Model", "Name", "Multiplier"}}
	for _, e := range entries {
		mult := strconv.FormatFloat(e.Multiplier, 'f', -1, 64) + "x"
		if e.Overridden {
			mult += " (config)"
		}
		t.add(e.Model, e.DisplayName, mult)
	}

	fmt.Fprintln(w)
	t.render(w)
	fmt.Fprintln(w)
}
