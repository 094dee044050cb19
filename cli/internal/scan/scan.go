package scan

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zhaobenny/cptop/internal/database"
	"github.com/zhaobenny/cptop/internal/metrics"
	"github.com/zhaobenny/cptop/internal/model"
	"github.com/zhaobenny/cptop/internal/parser"
)

// File outcomes, also used as the files_scanned_total label
const (
	StatusScanned   = "ok"
	StatusUnchanged = "unchanged"
	StatusRotated   = "rotated"
	StatusError     = "error"
)

// Options for a scan run
type Options struct {
	Dir string
	// IdleAfter marks a file complete once it has not been written for this long.
	IdleAfter time.Duration
	// Force rescans every file from the start.
	Force   bool
	Workers int
}

// FileResult is the outcome for one log file
type FileResult struct {
	Path     string
	Status   string
	Final    bool
	Inserted int64
	Failures []model.ParseFailure
	Err      error
}

// Summary is the outcome of a scan run
type Summary struct {
	ScanID     string
	Files      int
	NewEvents  int64
	Failures   int
	FileErrors []error
	Results    []FileResult
	Duration   time.Duration
}

// Scanner ingests Copilot logs into the event cache
type Scanner struct {
	db      *database.DB
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// Unreadable files tend to stay unreadable, so repeated warnings from
	// the service loop are throttled.
	warnReadError rate.Sometimes
}

// New creates a scanner. log and m may be nil.
func New(db *database.DB, log *zap.Logger, m *metrics.Metrics) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Scanner{
		db:            db,
		log:           log,
		metrics:       m,
		now:           time.Now,
		warnReadError: rate.Sometimes{First: 3, Interval: time.Hour},
	}
}

type job struct {
	path   string
	name   string
	size   int64
	fp     string
	final  bool
	cursor parser.Cursor
	status string

	result parser.Result
	err    error
}

// Run scans every log under opts.Dir. Files are extracted in parallel and
// committed one at a time. A file that cannot be read does not stop the run.
func (s *Scanner) Run(ctx context.Context, opts Options) (*Summary, error) {
	start := s.now()
	summary := &Summary{ScanID: xid.New().String()}

	paths, err := parser.FindLogFiles(opts.Dir)
	if err != nil {
		return nil, err
	}
	summary.Files = len(paths)

	jobs := make([]*job, 0, len(paths))
	for _, path := range paths {
		j, err := s.prepare(path, start, opts)
		if err != nil {
			j.status, j.err = StatusError, err
		}
		jobs = append(jobs, j)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, j := range jobs {
		if j.status != StatusScanned && j.status != StatusRotated {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			j.result, j.err = parser.ParseFile(j.path, j.name, j.cursor, parser.Options{Final: j.final})
			if j.err != nil {
				j.status = StatusError
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, j := range jobs {
		res := FileResult{Path: j.path, Status: j.status, Final: j.final}

		switch j.status {
		case StatusError:
			res.Err = j.err
			summary.FileErrors = append(summary.FileErrors, j.err)
			s.warnReadError.Do(func() {
				s.log.Warn("cannot read log file", zap.String("file", j.path), zap.Error(j.err))
			})
		case StatusScanned, StatusRotated:
			inserted, err := s.db.CommitScan(database.FileState{
				File:        j.name,
				Cursor:      j.result.Cursor,
				Fingerprint: j.fp,
				Size:        j.size,
				ScanID:      summary.ScanID,
				ScannedAt:   start,
				Failures:    len(j.result.Failures),
			}, j.result.Events, j.result.Hints)
			if err != nil {
				return nil, err
			}
			res.Inserted = inserted
			res.Failures = j.result.Failures
			summary.NewEvents += inserted
			summary.Failures += len(j.result.Failures)

			for _, f := range j.result.Failures {
				s.log.Warn("skipped malformed block",
					zap.String("file", f.Source.File),
					zap.Int("line", f.Source.Line),
					zap.String("marker", f.Marker),
					zap.String("reason", f.Reason),
				)
			}
			s.log.Debug("file scanned",
				zap.String("file", j.name),
				zap.Int64("from", j.cursor.Offset),
				zap.Int64("to", j.result.Cursor.Offset),
				zap.Int64("inserted", inserted),
				zap.Bool("final", j.final),
			)
		}

		s.metrics.FilesScanned.WithLabelValues(res.Status).Inc()
		summary.Results = append(summary.Results, res)
	}

	summary.Duration = s.now().Sub(start)
	s.metrics.ObserveScan(summary.Duration, summary.NewEvents, summary.Failures)

	if err := s.db.RecordScan(database.Scan{
		ID:         summary.ScanID,
		StartedAt:  start,
		FinishedAt: start.Add(summary.Duration),
		Files:      summary.Files,
		NewEvents:  summary.NewEvents,
		Failures:   summary.Failures,
		Errors:     len(summary.FileErrors),
	}); err != nil {
		return nil, err
	}

	s.log.Info("scan finished",
		zap.String("scan_id", summary.ScanID),
		zap.Int("files", summary.Files),
		zap.Int64("new_events", summary.NewEvents),
		zap.Int("failures", summary.Failures),
		zap.Int("errors", len(summary.FileErrors)),
	)
	return summary, nil
}

// prepare decides where scanning of a file resumes
func (s *Scanner) prepare(path string, now time.Time, opts Options) (*job, error) {
	j := &job{path: path, name: parser.SourceName(opts.Dir, path), status: StatusScanned}

	info, err := os.Stat(path)
	if err != nil {
		return j, &model.FileReadError{Path: path, Err: err}
	}
	j.size = info.Size()
	j.final = opts.IdleAfter > 0 && now.Sub(info.ModTime()) >= opts.IdleAfter

	j.fp, err = headFingerprint(path, j.size)
	if err != nil {
		return j, &model.FileReadError{Path: path, Err: err}
	}

	state, err := s.db.FileState(j.name)
	if err != nil {
		return j, err
	}
	if state == nil {
		return j, nil
	}

	same, err := sameHead(path, state.Fingerprint, j.size)
	if err != nil {
		return j, &model.FileReadError{Path: path, Err: err}
	}
	if opts.Force || !same || j.size < state.Cursor.Offset {
		if err := s.db.ResetFile(j.name); err != nil {
			return j, err
		}
		j.status = StatusRotated
		if opts.Force {
			j.status = StatusScanned
		}
		return j, nil
	}

	j.cursor = state.Cursor
	settled := j.cursor.Offset == j.size && j.cursor.State.Pending == nil
	if j.size == state.Size && (!j.final || settled) {
		j.status = StatusUnchanged
	}
	return j, nil
}
