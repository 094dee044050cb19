package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/term"
)

const (
	compactThreshold = 100 // Terminal width below which compact mode kicks in
	defaultWidth     = 120
)

// TableOptions controls table display behavior
type TableOptions struct {
	ForceCompact bool
}

// getTerminalWidth returns the current terminal width
func getTerminalWidth() int {
	// Check COLUMNS env var first
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if width, err := strconv.Atoi(cols); err == nil && width > 0 {
			return width
		}
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	return defaultWidth
}

// shouldUseCompact determines if compact mode should be used
func shouldUseCompact(opts TableOptions) bool {
	if opts.ForceCompact {
		return true
	}
	return getTerminalWidth() < compactThreshold
}

// FormatNumber formats a number with thousand separators
func FormatNumber(n int64) string {
	if n == 0 {
		return "0"
	}

	str := strconv.FormatInt(n, 10)
	negative := n < 0
	if negative {
		str = str[1:]
	}

	var b strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}

// FormatCost formats a cost value as currency
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.2f", cost)
}

// FormatUnits formats premium request units, dropping a needless fraction
func FormatUnits(u float64) string {
	if u == float64(int64(u)) {
		return FormatNumber(int64(u))
	}
	return strconv.FormatFloat(u, 'f', 2, 64)
}

// FormatPercent formats a percentage with one decimal
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

// shortenModelName drops the vendor prefix for narrow tables
// claude-sonnet-4.5 -> sonnet-4.5
func shortenModelName(name string) string {
	if rest, ok := strings.CutPrefix(name, "claude-"); ok {
		return rest
	}
	return name
}

// shortenSessionID truncates session UUID to first 8 chars
func shortenSessionID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// table is a plain text table. The first column is left aligned and the
// rest right aligned.
type table struct {
	headers []string
	rows    [][]string
	footer  []string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) widths() []int {
	all := append([][]string{t.headers}, t.rows...)
	if t.footer != nil {
		all = append(all, t.footer)
	}
	return lo.Map(t.headers, func(_ string, col int) int {
		return lo.Max(lo.Map(all, func(row []string, _ int) int {
			if col >= len(row) {
				return 0
			}
			return len([]rune(row[col]))
		}))
	})
}

func (t *table) render(w io.Writer) {
	widths := t.widths()
	rule := strings.Repeat("─", lo.Sum(widths)+2*(len(widths)-1))

	line := func(cells []string) {
		parts := make([]string, len(widths))
		for i, width := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == 0 {
				parts[i] = fmt.Sprintf("%-*s", width, cell)
			} else {
				parts[i] = fmt.Sprintf("%*s", width, cell)
			}
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	line(t.headers)
	fmt.Fprintln(w, rule)
	for _, row := range t.rows {
		line(row)
	}
	if t.footer != nil {
		fmt.Fprintln(w, rule)
		line(t.footer)
	}
}

// PrintJSON outputs any value as indented JSON
func PrintJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
