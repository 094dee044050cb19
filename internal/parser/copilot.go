package parser

import (
	"bytes"
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/zhaobenny/cptop/internal/model"
)

const (
	markerModelInfo = "Got model info:"
	markerModelCall = "[Telemetry] cli.model_call:"

	// maxBlockLines bounds how far a block may run before it is given up on
	maxBlockLines = 4096
)

var (
	reTimestamp   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z)`)
	reUsingModel  = regexp.MustCompile(`Using model:\s*(\S+)`)
	reInitiator   = regexp.MustCompile(`PremiumRequestProcessor: Setting X-Initiator to '(\w+)'`)
	reSessionID   = regexp.MustCompile(`"session_id":\s*"([^"]+)"`)
	reSessionKind = regexp.MustCompile(`"kind":\s*"(session_start|assistant_turn_end)"`)
)

// Options controls a scan
type Options struct {
	// Final marks the input as complete: a trailing unterminated line is
	// consumed and a pending model info block is flushed as an event.
	Final bool
}

// Item is one extracted value, exactly one field is set
type Item struct {
	Event *model.UsageEvent
	Hint  *model.SessionHint
}

// Result is everything extracted from one byte range
type Result struct {
	Events   []model.UsageEvent
	Hints    []model.SessionHint
	Failures []model.ParseFailure
	Cursor   Cursor
}

// Scanner extracts usage events from Copilot CLI process log text.
// data holds the bytes starting at the cursor offset.
type Scanner struct {
	source string
	data   []byte
	base   int64
	pos    int
	line   int
	opts   Options
	state  CarryState

	queue    []Item
	failures []model.ParseFailure
	stopped  bool
}

// NewScanner creates a scanner over data, which must begin at c.Offset of source.
func NewScanner(source string, data []byte, c Cursor, opts Options) *Scanner {
	return &Scanner{
		source: source,
		data:   data,
		base:   c.Offset,
		line:   c.Line,
		opts:   opts,
		state:  c.State,
	}
}

// Extract scans data to completion and collects everything it finds
func Extract(source string, data []byte, c Cursor, opts Options) Result {
	s := NewScanner(source, data, c, opts)
	var res Result
	for {
		item, ok := s.Next()
		if !ok {
			break
		}
		if item.Event != nil {
			res.Events = append(res.Events, *item.Event)
		}
		if item.Hint != nil {
			res.Hints = append(res.Hints, *item.Hint)
		}
	}
	res.Failures = s.Failures()
	res.Cursor = s.Cursor()
	return res
}

// Items returns a lazy sequence over data. Every iteration starts a fresh
// scan from c, so the sequence can be ranged over more than once.
func Items(source string, data []byte, c Cursor, opts Options) iter.Seq[Item] {
	return func(yield func(Item) bool) {
		s := NewScanner(source, data, c, opts)
		for {
			item, ok := s.Next()
			if !ok || !yield(item) {
				return
			}
		}
	}
}

// Next returns the next extracted item
func (s *Scanner) Next() (Item, bool) {
	for len(s.queue) == 0 && !s.stopped {
		s.step()
	}
	if len(s.queue) == 0 {
		return Item{}, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	return item, true
}

// Failures returns the blocks that could not be decoded so far
func (s *Scanner) Failures() []model.ParseFailure {
	return s.failures
}

// Cursor returns the resume point after the last consumed line
func (s *Scanner) Cursor() Cursor {
	return Cursor{
		Offset: s.base + int64(s.pos),
		Line:   s.line,
		State:  s.state,
	}
}

// nextLine returns the line starting at pos without its terminator and the
// position just past it.
func (s *Scanner) nextLine(pos int) (line []byte, next int, ok bool) {
	if pos >= len(s.data) {
		return nil, pos, false
	}
	i := bytes.IndexByte(s.data[pos:], '\n')
	if i < 0 {
		if !s.opts.Final {
			return nil, pos, false
		}
		return bytes.TrimSuffix(s.data[pos:], []byte("\r")), len(s.data), true
	}
	return bytes.TrimSuffix(s.data[pos:pos+i], []byte("\r")), pos + i + 1, true
}

func (s *Scanner) location(pos int, line int) model.SourceLocation {
	return model.SourceLocation{
		File:   s.source,
		Offset: s.base + int64(pos),
		Line:   line + 1,
	}
}

func (s *Scanner) emitEvent(ev model.UsageEvent) {
	s.queue = append(s.queue, Item{Event: &ev})
}

func (s *Scanner) fail(loc model.SourceLocation, marker, reason string) {
	s.failures = append(s.failures, model.ParseFailure{Source: loc, Marker: marker, Reason: reason})
}

// step consumes one line, or one block with its marker line
func (s *Scanner) step() {
	line, next, ok := s.nextLine(s.pos)
	if !ok {
		s.finish()
		return
	}

	text := string(line)
	loc := s.location(s.pos, s.line)
	ts, hasTS := lineTimestamp(text)

	switch {
	case strings.Contains(text, markerModelInfo):
		s.handleBlock(markerModelInfo, text, line, next, loc, ts, hasTS)
		return
	case strings.Contains(text, markerModelCall):
		s.handleBlock(markerModelCall, text, line, next, loc, ts, hasTS)
		return
	}

	if hasTS {
		s.state.LastTimestamp = ts
	}
	if m := reUsingModel.FindStringSubmatch(text); m != nil {
		s.state.Model = m[1]
	}
	if m := reInitiator.FindStringSubmatch(text); m != nil {
		s.state.Initiator = m[1]
	}
	var sid string
	if m := reSessionID.FindStringSubmatch(text); m != nil {
		sid = m[1]
		s.state.SessionID = sid
	}
	if m := reSessionKind.FindStringSubmatch(text); m != nil {
		hint := model.SessionHint{
			Kind:      model.HintKind(m[1]),
			SessionID: sid,
			Timestamp: s.state.LastTimestamp,
			Source:    loc,
		}
		s.queue = append(s.queue, Item{Hint: &hint})
	}

	s.pos = next
	s.line++
}

// handleBlock reads the JSON block announced by a marker line and decodes it.
// An incomplete block at the end of non-final input is left unconsumed.
func (s *Scanner) handleBlock(marker, text string, line []byte, next int, loc model.SourceLocation, ts time.Time, hasTS bool) {
	if !hasTS {
		ts = s.state.LastTimestamp
	}

	var (
		block   []byte
		end     int
		lines   int
		outcome blockOutcome
	)
	if i := strings.Index(text, marker); i >= 0 {
		if j := bytes.IndexByte(line[i+len(marker):], '{'); j >= 0 {
			start := s.pos + i + len(marker) + j
			block, end, lines, outcome = s.readBlock(start)
		} else if marker == markerModelCall {
			// The telemetry payload usually starts on the following line.
			nextText, _, ok := s.nextLine(next)
			switch {
			case !ok:
				outcome = blockIncomplete
			case bytes.HasPrefix(bytes.TrimSpace(nextText), []byte("{")):
				start := next + bytes.IndexByte(s.data[next:], '{')
				block, end, lines, outcome = s.readBlock(start)
				lines++
			default:
				outcome = blockMissing
				end = next
				lines = 1
			}
		} else {
			outcome = blockMissing
			end = next
			lines = 1
		}
	}

	switch outcome {
	case blockIncomplete:
		if !s.opts.Final {
			s.stopped = true
			s.finish()
			return
		}
		s.fail(loc, marker, "unterminated block")
		rest := s.data[s.pos:]
		s.line += bytes.Count(rest, []byte("\n"))
		if len(rest) > 0 && rest[len(rest)-1] != '\n' {
			s.line++
		}
		s.pos = len(s.data)
		s.finish()
		return
	case blockMissing:
		s.fail(loc, marker, "no JSON object after marker")
		s.advance(end, lines)
		return
	case blockAborted:
		s.fail(loc, marker, "block interrupted by a new log line")
		s.advance(end, lines)
		return
	case blockTooLarge:
		s.fail(loc, marker, "block exceeds size limit")
		s.advance(end, lines)
		return
	}

	if ts.IsZero() {
		s.fail(loc, marker, "no timestamp before block")
		s.advance(end, lines)
		return
	}
	s.state.LastTimestamp = ts

	switch marker {
	case markerModelInfo:
		info, err := decodeModelInfo(block)
		if err != nil {
			s.fail(loc, marker, err.Error())
			break
		}
		s.onModelInfo(info, ts, loc)
	case markerModelCall:
		call, err := decodeModelCall(block)
		if err != nil {
			s.fail(loc, marker, err.Error())
			break
		}
		s.onModelCall(call, ts, loc)
	}
	s.advance(end, lines)
}

func (s *Scanner) advance(end, lines int) {
	s.pos = end
	s.line += lines
}

func (s *Scanner) onModelInfo(info modelInfo, ts time.Time, loc model.SourceLocation) {
	if s.state.Pending != nil {
		s.emitEvent(s.state.Pending.event())
	}
	name := info.family
	if name == "" {
		name = s.state.Model
	}
	if name == "" {
		name = "unknown"
	}
	s.state.Pending = &PendingBilling{
		Model:     name,
		Billing:   info.billing,
		Timestamp: ts,
		SessionID: s.state.SessionID,
		Initiator: s.state.Initiator,
		Source:    loc,
	}
	s.state.Initiator = ""
}

func (s *Scanner) onModelCall(call modelCall, ts time.Time, loc model.SourceLocation) {
	name := call.model
	if name == "" {
		name = s.state.Model
	}
	if name == "" {
		name = "unknown"
	}

	ev := model.UsageEvent{
		Timestamp:  ts,
		Model:      name,
		Billing:    call.billing,
		Usage:      call.usage,
		DurationMS: call.durationMS,
		SessionID:  call.sessionID,
		Initiator:  s.state.Initiator,
		Source:     loc,
	}

	if p := s.state.Pending; p != nil && (p.Model == "unknown" || name == "unknown" || sameModel(p.Model, name)) {
		ev.Billing = ev.Billing.Merge(p.Billing)
		if ev.SessionID == "" {
			ev.SessionID = p.SessionID
		}
		if ev.Initiator == "" {
			ev.Initiator = p.Initiator
		}
		if name == "unknown" {
			ev.Model = p.Model
		}
		s.state.Pending = nil
	}
	if ev.SessionID == "" {
		ev.SessionID = s.state.SessionID
	} else {
		s.state.SessionID = ev.SessionID
	}
	s.state.Initiator = ""
	s.emitEvent(ev)
}

// finish ends the scan. Final input flushes the pending block.
func (s *Scanner) finish() {
	s.stopped = true
	if s.opts.Final && s.state.Pending != nil {
		s.emitEvent(s.state.Pending.event())
		s.state.Pending = nil
	}
}

func sameModel(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func lineTimestamp(line string) (time.Time, bool) {
	m := reTimestamp.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type blockOutcome int

const (
	blockComplete blockOutcome = iota
	blockIncomplete
	blockAborted
	blockMissing
	blockTooLarge
)

// readBlock collects a JSON object starting at data[start] == '{'. It tracks
// brace depth outside of string literals. It returns the block, the position
// after the line that closed it and the number of lines consumed.
func (s *Scanner) readBlock(start int) ([]byte, int, int, blockOutcome) {
	var (
		depth    int
		inString bool
		escaped  bool
		lines    int
	)
	lineStart := start
	for i := start; i < len(s.data); i++ {
		c := s.data[i]
		if c == '\n' {
			lines++
			if lines > maxBlockLines {
				return nil, i + 1, lines, blockTooLarge
			}
			// A fresh log line without an opening brace means the block was cut.
			rest, _, ok := s.nextLine(i + 1)
			if ok && reTimestamp.Match(rest) && !bytes.Contains(rest, []byte("{")) {
				return nil, i + 1, lines, blockAborted
			}
			lineStart = i + 1
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				// The rest of the closing line belongs to the block too.
				_, next, ok := s.nextLine(lineStart)
				if !ok {
					if !s.opts.Final {
						return nil, 0, 0, blockIncomplete
					}
					next = len(s.data)
				}
				return s.data[start : i+1], next, lines + 1, blockComplete
			}
		}
	}
	return nil, 0, 0, blockIncomplete
}
