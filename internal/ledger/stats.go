package ledger

import (
	"sort"

	"github.com/zhaobenny/cptop/internal/model"
)

// modelStats computes latency and token analytics per model, sorted by model
func modelStats(events []resolved) []model.ModelStats {
	durations := make(map[string][]int64)
	tokens := make(map[string]*model.TokenStats)

	for _, r := range events {
		name := r.event.Model
		ts, ok := tokens[name]
		if !ok {
			ts = &model.TokenStats{}
			tokens[name] = ts
		}
		ts.Calls++
		ts.Usage = ts.Usage.Add(r.event.Usage)

		// Billing-only events carry no latency.
		if r.event.DurationMS > 0 {
			durations[name] = append(durations[name], r.event.DurationMS)
		}
	}

	out := make([]model.ModelStats, 0, len(tokens))
	for name, ts := range tokens {
		ts.CacheHitRate = ts.Usage.CacheHitRate()
		out = append(out, model.ModelStats{
			Model:   name,
			Latency: Latency(durations[name]),
			Tokens:  *ts,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Model < out[j].Model
	})
	return out
}

// Latency summarizes durations in milliseconds
func Latency(durations []int64) model.LatencyStats {
	if len(durations) == 0 {
		return model.LatencyStats{}
	}
	sorted := make([]int64, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, d := range sorted {
		sum += d
	}
	return model.LatencyStats{
		Count:  len(sorted),
		MeanMS: float64(sum) / float64(len(sorted)),
		MinMS:  sorted[0],
		MaxMS:  sorted[len(sorted)-1],
		P50MS:  Percentile(sorted, 50),
		P95MS:  Percentile(sorted, 95),
	}
}

// Percentile returns the p-th percentile of sorted values using linear
// interpolation between closest ranks.
func Percentile(sorted []int64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	k := float64(len(sorted)-1) * p / 100
	lo := int(k)
	hi := lo + 1
	if hi >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := k - float64(lo)
	return float64(sorted[lo]) + frac*float64(sorted[hi]-sorted[lo])
}
