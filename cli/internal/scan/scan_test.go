package scan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaobenny/cptop/internal/database"
	"github.com/zhaobenny/cptop/internal/metrics"
	"github.com/zhaobenny/cptop/internal/model"
)

const sampleLog = `2026-01-15T10:00:00.000Z [INFO] Using model: claude-sonnet-4.5
2026-01-15T10:00:01.000Z [DEBUG] PremiumRequestProcessor: Setting X-Initiator to 'user'
2026-01-15T10:00:02.000Z [DEBUG] Got model info: {
  "id": "claude-sonnet-4.5",
  "billing": {
    "is_premium": true,
    "multiplier": 1
  }
}
2026-01-15T10:00:05.000Z [INFO] [Telemetry] cli.model_call:
{
  "model": "claude-sonnet-4.5",
  "prompt_tokens_count": 1000,
  "completion_tokens_count": 200,
  "duration_ms": 3000,
  "session_id": "abc-123"
}
`

const secondCall = `2026-01-15T10:05:00.000Z [INFO] [Telemetry] cli.model_call: {"model": "gpt-4.1", "prompt_tokens_count": 10, "completion_tokens_count": 1, "session_id": "abc-123"}
`

var now = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dir     string
	db      *database.DB
	metrics *metrics.Metrics
	scanner *Scanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "cptop.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	m := metrics.New()
	s := New(db, nil, m)
	s.now = func() time.Time { return now }
	return &fixture{dir: t.TempDir(), db: db, metrics: m, scanner: s}
}

// write replaces a log file and sets how long ago it was last modified
func (f *fixture) write(t *testing.T, name, content string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, now.Add(-age), now.Add(-age)))
	return path
}

func (f *fixture) append(t *testing.T, name, content string, age time.Duration) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.NoError(t, os.Chtimes(path, now.Add(-age), now.Add(-age)))
}

func (f *fixture) run(t *testing.T, force bool) *Summary {
	t.Helper()
	summary, err := f.scanner.Run(context.Background(), Options{
		Dir:       f.dir,
		IdleAfter: 10 * time.Minute,
		Force:     force,
		Workers:   2,
	})
	require.NoError(t, err)
	return summary
}

func (f *fixture) eventCount(t *testing.T) int {
	t.Helper()
	events, err := f.db.Events(time.Time{}, time.Time{})
	require.NoError(t, err)
	return len(events)
}

func TestRun_IngestsAndSkipsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.write(t, "process-1.log", sampleLog, time.Hour)

	first := f.run(t, false)
	assert.Equal(t, 1, first.Files)
	assert.Equal(t, int64(1), first.NewEvents)
	require.Len(t, first.Results, 1)
	assert.Equal(t, StatusScanned, first.Results[0].Status)
	assert.True(t, first.Results[0].Final)
	assert.NotEmpty(t, first.ScanID)

	second := f.run(t, false)
	assert.Equal(t, int64(0), second.NewEvents)
	assert.Equal(t, StatusUnchanged, second.Results[0].Status)
	assert.NotEqual(t, first.ScanID, second.ScanID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FilesScanned.WithLabelValues(StatusUnchanged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsIngested))

	last, err := f.db.LastScan()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second.ScanID, last.ID)
}

func TestRun_SameNameInSubdirectories(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a/process-1.log", secondCall, time.Hour)
	f.write(t, "b/process-1.log", strings.ReplaceAll(secondCall, "abc-123", "def-456"), time.Hour)

	first := f.run(t, false)
	assert.Equal(t, int64(2), first.NewEvents)

	second := f.run(t, false)
	assert.Equal(t, int64(0), second.NewEvents)
	for _, r := range second.Results {
		assert.Equal(t, StatusUnchanged, r.Status, r.Path)
	}

	events, err := f.db.Events(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.ElementsMatch(t, []string{"a/process-1.log", "b/process-1.log"},
		[]string{events[0].Source.File, events[1].Source.File})

	for _, name := range []string{"a/process-1.log", "b/process-1.log"} {
		state, err := f.db.FileState(name)
		require.NoError(t, err)
		assert.NotNil(t, state, name)
	}
}

func TestRun_StoresSessionMarkers(t *testing.T) {
	f := newFixture(t)
	f.write(t, "process-1.log", `2026-01-15T10:00:00.000Z [INFO] {"kind": "session_start", "session_id": "abc-123"}
`+secondCall+`2026-01-15T10:05:01.000Z [INFO] {"kind": "assistant_turn_end", "session_id": "abc-123"}
`, time.Hour)

	f.run(t, false)
	f.run(t, true)

	markers, err := f.db.SessionMarkers()
	require.NoError(t, err)
	assert.Equal(t, map[string]model.SessionMarkers{"abc-123": {Starts: 1, TurnEnds: 1}}, markers)
}

func TestRun_AppendResumes(t *testing.T) {
	f := newFixture(t)
	f.write(t, "process-1.log", sampleLog, 0)

	first := f.run(t, false)
	assert.Equal(t, int64(1), first.NewEvents)
	assert.False(t, first.Results[0].Final)

	f.append(t, "process-1.log", secondCall, 0)
	second := f.run(t, false)
	assert.Equal(t, StatusScanned, second.Results[0].Status)
	assert.Equal(t, int64(1), second.NewEvents)

	events, err := f.db.Events(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "gpt-4.1", events[1].Model)
	assert.Equal(t, "abc-123", events[1].SessionID)
}

func TestRun_PendingBillingFlushedWhenIdle(t *testing.T) {
	f := newFixture(t)
	billingOnly := `2026-01-15T10:00:02.000Z [DEBUG] Got model info: {"id": "gpt-5.1", "billing": {"multiplier": 1}}
`
	f.write(t, "process-1.log", billingOnly, 0)

	active := f.run(t, false)
	assert.Equal(t, int64(0), active.NewEvents)

	fs, err := f.db.FileState("process-1.log")
	require.NoError(t, err)
	require.NotNil(t, fs)
	require.NotNil(t, fs.Cursor.State.Pending)

	// Same size, but the file has gone idle so the pending block is flushed.
	require.NoError(t, os.Chtimes(filepath.Join(f.dir, "process-1.log"), now.Add(-time.Hour), now.Add(-time.Hour)))
	idle := f.run(t, false)
	assert.Equal(t, StatusScanned, idle.Results[0].Status)
	assert.Equal(t, int64(1), idle.NewEvents)

	again := f.run(t, false)
	assert.Equal(t, StatusUnchanged, again.Results[0].Status)
}

func TestRun_RotatedFileIsRescanned(t *testing.T) {
	f := newFixture(t)
	f.write(t, "process-1.log", sampleLog, time.Hour)
	f.run(t, false)
	require.Equal(t, 1, f.eventCount(t))

	f.write(t, "process-1.log", secondCall, time.Hour)
	summary := f.run(t, false)
	assert.Equal(t, StatusRotated, summary.Results[0].Status)
	assert.Equal(t, int64(1), summary.NewEvents)

	events, err := f.db.Events(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "gpt-4.1", events[0].Model)
}

func TestRun_Force(t *testing.T) {
	f := newFixture(t)
	f.write(t, "process-1.log", sampleLog, time.Hour)
	f.run(t, false)

	summary := f.run(t, true)
	assert.Equal(t, StatusScanned, summary.Results[0].Status)
	assert.Equal(t, int64(1), summary.NewEvents)
	assert.Equal(t, 1, f.eventCount(t))
}

func TestRun_MalformedBlocksCounted(t *testing.T) {
	f := newFixture(t)
	broken := `2026-01-15T10:00:05.000Z [INFO] [Telemetry] cli.model_call: {"model": "gpt-4.1", "prompt_tokens_count": }
`
	f.write(t, "process-1.log", broken+secondCall, time.Hour)

	summary := f.run(t, false)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, int64(1), summary.NewEvents)
	require.Len(t, summary.Results[0].Failures, 1)
	assert.Equal(t, 1, summary.Results[0].Failures[0].Source.Line)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ParseFailures))
}

func TestRun_EmptyDir(t *testing.T) {
	f := newFixture(t)
	summary, err := f.scanner.Run(context.Background(), Options{Dir: filepath.Join(f.dir, "missing")})
	require.NoError(t, err)
	assert.Zero(t, summary.Files)
	assert.Empty(t, summary.Results)
}

func TestSameHead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "process-1.log")
	require.NoError(t, os.WriteFile(path, []byte("short head\n"), 0o644))

	fp, err := headFingerprint(path, 11)
	require.NoError(t, err)

	ok, err := sameHead(path, "", 11)
	require.NoError(t, err)
	assert.True(t, ok)

	// Growing past the fingerprinted prefix keeps the identity.
	require.NoError(t, os.WriteFile(path, []byte("short head\nmore lines\n"), 0o644))
	ok, err = sameHead(path, fp, 22)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sameHead(path, fp, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("other head\nmore lines\n"), 0o644))
	ok, err = sameHead(path, fp, 22)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sameHead(path, "garbage", 22)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_StartStop(t *testing.T) {
	f := newFixture(t)
	f.write(t, "process-1.log", sampleLog, time.Hour)

	svc := NewService(f.scanner, Options{Dir: f.dir, IdleAfter: 10 * time.Minute}, time.Hour)
	require.NoError(t, svc.Start(nil))

	assert.Eventually(t, func() bool {
		last, err := f.db.LastScan()
		return err == nil && last != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Stop(nil))
	assert.Equal(t, 1, f.eventCount(t))
}

func TestServiceConfig(t *testing.T) {
	cfg := ServiceConfig(30*time.Minute, "/etc/cptop.yaml")
	assert.Equal(t, ServiceName, cfg.Name)
	assert.Equal(t, []string{"--config", "/etc/cptop.yaml", "scan", "service", "run", "--interval=30m0s"}, cfg.Arguments)
}
