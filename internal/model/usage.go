package model

import "time"

// SourceLocation points at the marker line an event was extracted from.
// (File, Offset) is the dedup key for incremental ingestion.
type SourceLocation struct {
	File   string `json:"file"`
	Offset int64  `json:"offset"`
	Line   int    `json:"line"`
}

// Billing is the billing metadata carried by a log block. A nil field was
// absent from the block.
type Billing struct {
	Multiplier *float64 `json:"multiplier,omitempty"`
	IsPremium  *bool    `json:"is_premium,omitempty"`
}

// NewBilling returns billing with both fields present
func NewBilling(multiplier float64, premium bool) *Billing {
	return &Billing{Multiplier: &multiplier, IsPremium: &premium}
}

// Empty reports whether no billing field is present
func (b *Billing) Empty() bool {
	return b == nil || (b.Multiplier == nil && b.IsPremium == nil)
}

// Merge fills the fields b lacks from fallback. Either side may be nil.
func (b *Billing) Merge(fallback *Billing) *Billing {
	if b.Empty() {
		if fallback.Empty() {
			return nil
		}
		out := *fallback
		return &out
	}
	out := *b
	if fallback != nil {
		if out.Multiplier == nil {
			out.Multiplier = fallback.Multiplier
		}
		if out.IsPremium == nil {
			out.IsPremium = fallback.IsPremium
		}
	}
	return &out
}

// TokenUsage contains token counts from a single model call
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	CachedTokens     int64 `json:"cached_tokens"`
}

// Add returns the field-wise sum of two usages
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		CachedTokens:     u.CachedTokens + o.CachedTokens,
	}
}

// Total returns prompt plus completion tokens
func (u TokenUsage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// CacheHitRate returns cached / (prompt + cached), or 0 when nothing was sent.
func (u TokenUsage) CacheHitRate() float64 {
	denom := u.PromptTokens + u.CachedTokens
	if denom <= 0 {
		return 0
	}
	return float64(u.CachedTokens) / float64(denom)
}

// UsageEvent represents a single model invocation parsed from a Copilot CLI log.
// Billing is nil when neither the telemetry block nor a preceding model info
// block supplied billing fields. A missing multiplier is looked up in the
// multiplier table.
type UsageEvent struct {
	Timestamp  time.Time      `json:"timestamp"`
	Model      string         `json:"model"`
	Billing    *Billing       `json:"billing,omitempty"`
	Usage      TokenUsage     `json:"usage"`
	DurationMS int64          `json:"duration_ms"`
	SessionID  string         `json:"session_id,omitempty"`
	Initiator  string         `json:"initiator,omitempty"`
	Source     SourceLocation `json:"source"`
}

// HintKind identifies a session boundary marker
type HintKind string

const (
	HintSessionStart HintKind = "session_start"
	HintTurnEnd      HintKind = "assistant_turn_end"
)

// SessionHint is a session lifecycle marker seen in the log
type SessionHint struct {
	Kind      HintKind       `json:"kind"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Source    SourceLocation `json:"source"`
}

// SessionMarkers counts the lifecycle markers logged for one session. They
// annotate a session and play no part in deriving it from events.
type SessionMarkers struct {
	Starts   int `json:"starts"`
	TurnEnds int `json:"turn_ends"`
}

// Plan is a Copilot subscription plan
type Plan struct {
	Key                  string  `json:"key" yaml:"key"`
	Name                 string  `json:"name" yaml:"name"`
	MonthlyPrice         float64 `json:"monthly_price" yaml:"monthly_price"`
	IncludedQuota        float64 `json:"included_quota" yaml:"included_quota"`
	OverageRate          float64 `json:"overage_rate" yaml:"overage_rate"`
	AllowsOverage        bool    `json:"allows_overage" yaml:"allows_overage"`
	PerSeat              bool    `json:"per_seat" yaml:"per_seat"`
	BillingCycleStartDay int     `json:"billing_cycle_start_day" yaml:"billing_cycle_start_day"`
}

// QuotaFor returns the included quota for the given seat count
func (p Plan) QuotaFor(seats int) float64 {
	if p.PerSeat {
		return p.IncludedQuota * float64(seats)
	}
	return p.IncludedQuota
}

// PriceFor returns the monthly price for the given seat count
func (p Plan) PriceFor(seats int) float64 {
	if p.PerSeat {
		return p.MonthlyPrice * float64(seats)
	}
	return p.MonthlyPrice
}

// Label returns a human friendly plan label
func (p Plan) Label() string {
	if p.MonthlyPrice == 0 {
		return p.Name + " (Free)"
	}
	return p.Name
}

// BillingPeriod is the half-open interval [Start, End)
type BillingPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the period
func (p BillingPeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Key returns a stable identifier for the period
func (p BillingPeriod) Key() string {
	return p.Start.Format("2006-01-02")
}

// Session is derived from events sharing a session id
type Session struct {
	SessionID     string     `json:"session_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	TurnCount     int        `json:"turn_count"`
	ModelsUsed    []string   `json:"models_used"`
	Usage         TokenUsage `json:"usage"`
	TotalDuration int64      `json:"total_duration_ms"`
	PremiumUnits  float64    `json:"premium_units"`
	Files         []string   `json:"files"`
	// Markers is nil when the log recorded no markers for the session.
	Markers *SessionMarkers `json:"markers,omitempty"`
}

// Duration returns the time between the first and last event
func (s Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// AvgLatencyMS returns the mean call latency in the session
func (s Session) AvgLatencyMS() float64 {
	if s.TurnCount == 0 {
		return 0
	}
	return float64(s.TotalDuration) / float64(s.TurnCount)
}

// DailyUsage represents usage aggregated by calendar day
type DailyUsage struct {
	Date          string             `json:"date"`
	Calls         int                `json:"calls"`
	PremiumCalls  int                `json:"premium_calls"`
	PremiumUnits  float64            `json:"premium_units"`
	Usage         TokenUsage         `json:"usage"`
	Models        []string           `json:"models"`
	UnitsByModel  map[string]float64 `json:"units_by_model"`
	UnknownModels int                `json:"unknown_models,omitempty"`
}
