package model

import "time"

// ModelCharge accumulates quota consumption for one model in one period
type ModelCharge struct {
	Model         string  `json:"model"`
	Calls         int     `json:"calls"`
	PremiumCalls  int     `json:"premium_calls"`
	IncludedUnits float64 `json:"included_units"`
	OverageUnits  float64 `json:"overage_units"`
	OverageCost   float64 `json:"overage_cost"`
}

// Units returns included plus overage units
func (c ModelCharge) Units() float64 {
	return c.IncludedUnits + c.OverageUnits
}

// Charge is the classification of a single premium event
type Charge struct {
	Source        SourceLocation `json:"source"`
	Timestamp     time.Time      `json:"timestamp"`
	Model         string         `json:"model"`
	Multiplier    float64        `json:"multiplier"`
	IncludedUnits float64        `json:"included_units"`
	OverageUnits  float64        `json:"overage_units"`
	OverageCost   float64        `json:"overage_cost"`
}

// LatencyStats summarizes duration_ms over a set of calls
type LatencyStats struct {
	Count  int     `json:"count"`
	MeanMS float64 `json:"mean_ms"`
	MinMS  int64   `json:"min_ms"`
	MaxMS  int64   `json:"max_ms"`
	P50MS  float64 `json:"p50_ms"`
	P95MS  float64 `json:"p95_ms"`
}

// TokenStats summarizes token volume over a set of calls
type TokenStats struct {
	Calls        int        `json:"calls"`
	Usage        TokenUsage `json:"usage"`
	CacheHitRate float64    `json:"cache_hit_rate"`
}

// ModelStats holds latency and token analytics for one model
type ModelStats struct {
	Model   string       `json:"model"`
	Latency LatencyStats `json:"latency"`
	Tokens  TokenStats   `json:"tokens"`
}

// Totals is the sum over a set of charges
type Totals struct {
	Calls          int     `json:"calls"`
	PremiumCalls   int     `json:"premium_calls"`
	IncludedUnits  float64 `json:"included_units"`
	OverageUnits   float64 `json:"overage_units"`
	OverageCost    float64 `json:"overage_cost"`
	PlanCost       float64 `json:"plan_cost"`
	EstimatedSpend float64 `json:"estimated_spend"`
}

// PeriodReport is the ledger outcome for one billing period
type PeriodReport struct {
	Period         BillingPeriod           `json:"period"`
	IncludedQuota  float64                 `json:"included_quota"`
	RemainingQuota float64                 `json:"remaining_quota"`
	UsagePercent   float64                 `json:"usage_percent"`
	DaysRemaining  int                     `json:"days_remaining,omitempty"`
	Models         map[string]*ModelCharge `json:"models"`
	Stats          []ModelStats            `json:"stats"`
	Charges        []Charge                `json:"charges"`
	Totals         Totals                  `json:"totals"`
}

// Anomaly is an event excluded from billing
type Anomaly struct {
	Source    SourceLocation `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Model     string         `json:"model"`
	Reason    string         `json:"reason"`
}

// UsageReport is everything the presentation layer needs
type UsageReport struct {
	Plan        Plan           `json:"plan"`
	Seats       int            `json:"seats"`
	GeneratedAt time.Time      `json:"generated_at"`
	Periods     []PeriodReport `json:"periods"`
	Current     *PeriodReport  `json:"current,omitempty"`
	Totals      Totals         `json:"totals"`
	Models      []ModelStats   `json:"models"`
	Sessions    []Session      `json:"sessions"`
	Daily       []DailyUsage   `json:"daily"`
	Anomalies   []Anomaly      `json:"anomalies,omitempty"`
}
