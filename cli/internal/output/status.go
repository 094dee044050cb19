package output

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/zhaobenny/cptop/cli/internal/scan"
	"github.com/zhaobenny/cptop/internal/database"
)

// Status describes the event cache for the status command
type Status struct {
	LogDir   string
	DBPath   string
	Counts   database.Counts
	LastScan *database.Scan
	Files    []database.FileState
}

// PrintStatus prints cache and scan bookkeeping
func PrintStatus(w io.Writer, s Status) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Log directory: %s\n", s.LogDir)
	fmt.Fprintf(w, "Database:      %s\n", s.DBPath)
	fmt.Fprintf(w, "Events:        %s in %d files, %d sessions\n",
		FormatNumber(s.Counts.Events), s.Counts.Files, s.Counts.Sessions)
	if !s.Counts.First.IsZero() {
		fmt.Fprintf(w, "Range:         %s → %s\n",
			s.Counts.First.Local().Format(time.DateTime), s.Counts.Last.Local().Format(time.DateTime))
	}

	if s.LastScan == nil {
		fmt.Fprintln(w, "Last scan:     never (run 'cptop scan')")
	} else {
		l := s.LastScan
		fmt.Fprintf(w, "Last scan:     %s (%s, %d new events, %d malformed blocks, %d unreadable files)\n",
			l.FinishedAt.Local().Format(time.DateTime), l.ID, l.NewEvents, l.Failures, l.Errors)
	}

	if len(s.Files) == 0 {
		fmt.Fprintln(w)
		return
	}
	t := &table{headers: []string{"File", "Offset", "Lines", "Events", "Malformed", "Scanned"}}
	for _, f := range s.Files {
		t.add(
			f.File,
			FormatNumber(f.Cursor.Offset),
			FormatNumber(int64(f.Cursor.Line)),
			strconv.Itoa(f.Events),
			strconv.Itoa(f.Failures),
			f.ScannedAt.Local().Format(time.DateTime),
		)
	}
	fmt.Fprintln(w)
	t.render(w)
	fmt.Fprintln(w)
}

// PrintScanSummary prints the outcome of a scan run
func PrintScanSummary(w io.Writer, s *scan.Summary, verbose bool) {
	fmt.Fprintf(w, "Scanned %d files in %s: %s new events", s.Files, s.Duration.Round(time.Millisecond), FormatNumber(s.NewEvents))
	if s.Failures > 0 {
		fmt.Fprintf(w, ", %d malformed blocks skipped", s.Failures)
	}
	if len(s.FileErrors) > 0 {
		fmt.Fprintf(w, ", %d files unreadable", len(s.FileErrors))
	}
	fmt.Fprintln(w)

	if !verbose {
		return
	}
	t := &table{headers: []string{"File", "Status", "New", "Malformed"}}
	for _, r := range s.Results {
		t.add(r.Path, r.Status, FormatNumber(r.Inserted), strconv.Itoa(len(r.Failures)))
	}
	fmt.Fprintln(w)
	t.render(w)
	for _, r := range s.Results {
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s:%d %s: %s\n", f.Source.File, f.Source.Line, f.Marker, f.Reason)
		}
	}
}
