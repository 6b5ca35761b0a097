package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"
)

// Kind identifies the tool family that produced a transcript file.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCodex  Kind = "codex"
	KindGemini Kind = "gemini"
)

// Kinds lists all supported source kinds.
func Kinds() []Kind {
	return []Kind{KindClaude, KindCodex, KindGemini}
}

// Role classifies an event within a session.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleReasoning Role = "reasoning"
	RoleOther     Role = "other"
)

// activeGap is the largest inter-event gap still counted as active time.
const activeGap = 5 * time.Minute

// maxConsecutiveMalformed is the number of consecutive unparseable lines
// tolerated before the whole file is considered corrupt. A single bad line
// (e.g. a torn write at the tail) is skipped silently.
const maxConsecutiveMalformed = 10

// ErrCorrupt marks a file whose malformed-line run exceeded the threshold.
// Callers record it against the file identity and do not retry until the
// file changes.
var ErrCorrupt = errors.New("transcript corrupt")

// Event is one entry of a session's canonical event stream. Ordinal is the
// zero-based position within the file's event sequence and stays stable
// across incremental appends.
type Event struct {
	Ordinal   int
	Role      Role
	Text      string
	ToolName  string
	Thinking  bool
	Timestamp time.Time
}

// TokenUsage is the per-session token breakdown. Total always equals the
// sum of the four components.
type TokenUsage struct {
	Input         int64
	Output        int64
	CacheRead     int64
	CacheCreation int64
	Total         int64
}

func (u *TokenUsage) finalize() {
	u.Total = u.Input + u.Output + u.CacheRead + u.CacheCreation
}

// RoleCounts holds message counts by role.
type RoleCounts struct {
	User      int64
	Assistant int64
	Tool      int64
	Reasoning int64
	Other     int64
}

func (c *RoleCounts) add(r Role) {
	switch r {
	case RoleUser:
		c.User++
	case RoleAssistant:
		c.Assistant++
	case RoleTool:
		c.Tool++
	case RoleReasoning:
		c.Reasoning++
	default:
		c.Other++
	}
}

// ParsedSession is the result of one parser invocation: the event list plus
// the running accumulators the cache stores per session.
type ParsedSession struct {
	SessionID string
	Title     string
	Model     string
	CWD       string

	Events         []Event
	Counts         RoleCounts
	ToolCalls      int64
	ThinkingBlocks int64
	Tokens         TokenUsage

	FirstTimestamp time.Time
	LastTimestamp  time.Time
	ActiveDuration time.Duration
}

// Parser converts a raw transcript stream into a ParsedSession. Parsers are
// stateless per invocation and consume the stream line by line, so a caller
// may hand them a byte range of a larger file (the incremental path).
type Parser interface {
	Kind() Kind
	Parse(r io.Reader) (*ParsedSession, error)
}

// ParserFor returns the parser for a source kind.
func ParserFor(k Kind) (Parser, error) {
	switch k {
	case KindClaude:
		return claudeParser{}, nil
	case KindCodex:
		return codexParser{}, nil
	case KindGemini:
		return geminiParser{}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", k)
	}
}

// Ext returns the transcript file extension for a source kind.
func Ext(k Kind) string {
	if k == KindGemini {
		return ".json"
	}
	return ".jsonl"
}

// lineFunc consumes one raw line. It returns false when the line could not
// be parsed.
type lineFunc func(line []byte) bool

// scanLines drives a parser's per-line callback over the stream, enforcing
// the malformed-line tolerance shared by all three formats.
func scanLines(r io.Reader, fn lineFunc) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	badRun := 0
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		if fn(line) {
			badRun = 0
			continue
		}
		badRun++
		if badRun > maxConsecutiveMalformed {
			return fmt.Errorf("%w: %d consecutive malformed lines ending at line %d", ErrCorrupt, badRun, lineNo)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to scan transcript: %w", err)
	}
	return nil
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\t' || b[start] == '\r') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}

// accumulator tracks the shared running state while a parser walks the
// event stream.
type accumulator struct {
	s       *ParsedSession
	ordinal int
	lastTS  time.Time
}

func newAccumulator() *accumulator {
	return &accumulator{s: &ParsedSession{Events: make([]Event, 0)}}
}

func (a *accumulator) event(ev Event) {
	ev.Ordinal = a.ordinal
	a.ordinal++
	a.s.Events = append(a.s.Events, ev)
	a.s.Counts.add(ev.Role)
	if ev.Role == RoleTool {
		a.s.ToolCalls++
	}
	if ev.Thinking {
		a.s.ThinkingBlocks++
	}
	if a.s.Title == "" && ev.Role == RoleUser && ev.Text != "" {
		a.s.Title = truncateTitle(ev.Text)
	}
	a.timestamp(ev.Timestamp)
}

// timestamp folds a (possibly zero) event timestamp into first/last bounds
// and the active-duration sum.
func (a *accumulator) timestamp(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if a.s.FirstTimestamp.IsZero() {
		a.s.FirstTimestamp = ts
	}
	if ts.After(a.s.LastTimestamp) {
		a.s.LastTimestamp = ts
	}
	if !a.lastTS.IsZero() {
		if gap := ts.Sub(a.lastTS); gap > 0 && gap < activeGap {
			a.s.ActiveDuration += gap
		}
	}
	a.lastTS = ts
}

func (a *accumulator) done() *ParsedSession {
	a.s.Tokens.finalize()
	return a.s
}

func truncateTitle(s string) string {
	const maxTitle = 80
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > maxTitle {
		return s[:maxTitle]
	}
	return s
}

// parseTimestamp accepts the RFC3339 variants seen across the three log
// families.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		ts, _ = time.Parse(time.RFC3339, s)
	}
	return ts
}
