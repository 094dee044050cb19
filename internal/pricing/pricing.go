package pricing

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/zhaobenny/cptop/internal/model"
)

// Multiplier is one row of the multiplier table
type Multiplier struct {
	Model       string  `json:"model"`
	Multiplier  float64 `json:"multiplier"`
	DisplayName string  `json:"display_name"`
	Overridden  bool    `json:"overridden,omitempty"`
}

// publishedMultipliers maps model families (as they appear in logs) to the
// number of premium requests one call consumes.
var publishedMultipliers = []Multiplier{
	// Included with paid plans
	{Model: "gpt-4o", Multiplier: 0, DisplayName: "GPT-4o"},
	{Model: "gpt-4.1", Multiplier: 0, DisplayName: "GPT-4.1"},
	{Model: "gpt-5-mini", Multiplier: 0, DisplayName: "GPT-5-mini"},
	// Low multiplier
	{Model: "gemini-2.0-flash", Multiplier: 0.25, DisplayName: "Gemini 2.0 Flash"},
	{Model: "o3-mini", Multiplier: 0.33, DisplayName: "o3-mini"},
	{Model: "o4-mini", Multiplier: 0.33, DisplayName: "o4-mini"},
	{Model: "claude-haiku-4.5", Multiplier: 0.33, DisplayName: "Claude Haiku 4.5"},
	// Standard
	{Model: "claude-3.5-sonnet", Multiplier: 1, DisplayName: "Claude 3.5 Sonnet"},
	{Model: "claude-3.7-sonnet", Multiplier: 1, DisplayName: "Claude 3.7 Sonnet"},
	{Model: "claude-sonnet-4", Multiplier: 1, DisplayName: "Claude Sonnet 4"},
	{Model: "claude-sonnet-4.5", Multiplier: 1, DisplayName: "Claude Sonnet 4.5"},
	{Model: "claude-sonnet-4.6", Multiplier: 1, DisplayName: "Claude Sonnet 4.6"},
	{Model: "gemini-2.0-pro", Multiplier: 1, DisplayName: "Gemini 2.0 Pro"},
	{Model: "gemini-2.5-pro", Multiplier: 1, DisplayName: "Gemini 2.5 Pro"},
	{Model: "gemini-3-pro-preview", Multiplier: 1, DisplayName: "Gemini 3 Pro (Preview)"},
	{Model: "gpt-5.1", Multiplier: 1, DisplayName: "GPT-5.1"},
	{Model: "gpt-5.1-codex", Multiplier: 1, DisplayName: "GPT-5.1 Codex"},
	{Model: "gpt-5.1-codex-mini", Multiplier: 1, DisplayName: "GPT-5.1 Codex Mini"},
	{Model: "gpt-5.2", Multiplier: 1, DisplayName: "GPT-5.2"},
	{Model: "gpt-5.2-codex", Multiplier: 1, DisplayName: "GPT-5.2 Codex"},
	{Model: "gpt-5.3-codex", Multiplier: 1, DisplayName: "GPT-5.3 Codex"},
	{Model: "claude-3.7-sonnet-thinking", Multiplier: 1.25, DisplayName: "Claude 3.7 Thinking"},
	// High multiplier
	{Model: "spark", Multiplier: 4, DisplayName: "Spark"},
	{Model: "gpt-5.1-codex-max", Multiplier: 5, DisplayName: "GPT-5.1 Codex Max"},
	{Model: "claude-opus-4.6", Multiplier: 6, DisplayName: "Claude Opus 4.6"},
	{Model: "claude-opus-4.6-fast", Multiplier: 6, DisplayName: "Claude Opus 4.6 (fast)"},
	{Model: "claude-opus-4.6-1m", Multiplier: 6, DisplayName: "Claude Opus 4.6 (1M)"},
	{Model: "claude-opus-4", Multiplier: 10, DisplayName: "Claude Opus 4"},
	{Model: "claude-opus-4.5", Multiplier: 10, DisplayName: "Claude Opus 4.5"},
	{Model: "gpt-4.5", Multiplier: 50, DisplayName: "GPT-4.5"},
}

// GetEmbeddedMultipliers returns the published multipliers keyed by model family
func GetEmbeddedMultipliers() map[string]float64 {
	out := make(map[string]float64, len(publishedMultipliers))
	for _, m := range publishedMultipliers {
		out[m.Model] = m.Multiplier
	}
	return out
}

// Table is an immutable model → multiplier mapping with overrides already applied
type Table struct {
	entries    map[string]Multiplier
	normalized map[string]string
}

// NewTable merges overrides over defaults. Override wins.
func NewTable(defaults, overrides map[string]float64) (Table, error) {
	t := Table{
		entries:    make(map[string]Multiplier, len(defaults)+len(overrides)),
		normalized: make(map[string]string, len(defaults)+len(overrides)),
	}

	display := make(map[string]string, len(publishedMultipliers))
	for _, m := range publishedMultipliers {
		display[m.Model] = m.DisplayName
	}

	add := func(name string, mult float64, overridden bool) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("empty model name in multiplier table")
		}
		if mult < 0 || math.IsNaN(mult) || math.IsInf(mult, 0) {
			return fmt.Errorf("multiplier for %q must be a non-negative number, got %v", name, mult)
		}
		dn := display[name]
		if dn == "" {
			dn = name
		}
		key := normalizeModelName(name)
		if prev, ok := t.normalized[key]; ok && prev != name {
			// An override spelled differently replaces the default entry.
			delete(t.entries, prev)
		}
		t.entries[name] = Multiplier{Model: name, Multiplier: mult, DisplayName: dn, Overridden: overridden}
		t.normalized[key] = name
		return nil
	}

	for _, name := range sortedKeys(defaults) {
		if err := add(name, defaults[name], false); err != nil {
			return Table{}, err
		}
	}
	for _, name := range sortedKeys(overrides) {
		if err := add(name, overrides[name], true); err != nil {
			return Table{}, err
		}
	}
	return t, nil
}

// DefaultTable returns the published table without overrides
func DefaultTable() Table {
	t, err := NewTable(GetEmbeddedMultipliers(), nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the multiplier for a model. Unknown models fail closed.
func (t Table) Lookup(modelName string) (float64, error) {
	if m, ok := t.entries[modelName]; ok {
		return m.Multiplier, nil
	}
	if name, ok := t.normalized[normalizeModelName(modelName)]; ok {
		return t.entries[name].Multiplier, nil
	}
	return 0, &model.UnknownModelError{Model: modelName}
}

// Len returns the number of models in the table
func (t Table) Len() int {
	return len(t.entries)
}

// Entries returns all rows sorted by multiplier then name
func (t Table) Entries() []Multiplier {
	out := make([]Multiplier, 0, len(t.entries))
	for _, m := range t.entries {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Multiplier == out[j].Multiplier {
			return out[i].Model < out[j].Model
		}
		return out[i].Multiplier < out[j].Multiplier
	})
	return out
}

// normalizeModelName normalizes model names for matching
func normalizeModelName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, "_", "-")
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
