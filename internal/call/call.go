package call

import (
	"strings"
	"time"
)

type Status string

const (
	StatusStarted Status = "STARTED"
	StatusActive  Status = "ACTIVE"
	StatusEnded   Status = "ENDED"
	StatusError   Status = "ERROR"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusError
}

// LegRole identifies one side of a two-party call.
type LegRole string

const (
	LegCaller LegRole = "CALLER"
	LegAgent  LegRole = "AGENT"
)

// ChannelIndex returns the stable channel position of a leg in stitched
// frames and multi-channel artifacts: caller first, agent second.
func (r LegRole) ChannelIndex() int {
	if r == LegAgent {
		return 1
	}
	return 0
}

// Call is the per-invocation unit of work. Created on the first media event
// and mutated by every subsequent event until a terminal status.
type Call struct {
	ID           string
	StartedAt    time.Time
	AgentID      string
	CallerNumber string
	AgentNumber  string
	Status       Status
}

// Transition moves the call to the given status. Terminal states absorb:
// once ENDED or ERROR, the status never changes again.
func (c *Call) Transition(s Status) bool {
	if c.Status.IsTerminal() {
		return false
	}
	c.Status = s
	return true
}

// NormalizeNumber replaces unusable display numbers (such as the "anonymous"
// caller IDs produced by some SIP origins) with the configured fallback.
func NormalizeNumber(num, fallback string) string {
	n := strings.TrimSpace(num)
	if n == "" || strings.EqualFold(n, "anonymous") {
		return fallback
	}
	return n
}

// AudioChunk is an immutable slice of one leg's audio. Offset is relative to
// the start of the call, not the start of the leg.
type AudioChunk struct {
	Leg    LegRole
	Offset time.Duration
	PCM    []byte // 16-bit little-endian mono samples
}

// WordSpan carries optional per-word detail on a finalized segment.
type WordSpan struct {
	Start      time.Duration
	End        time.Duration
	Word       string
	Confidence float64
	Redacted   bool
}

// TranscriptSegment is one partial or final transcription result for a leg.
// Finals are immutable once emitted; a later final supersedes, never mutates,
// earlier coverage of the same range.
type TranscriptSegment struct {
	ID           string
	CallID       string
	Leg          LegRole
	Start        time.Duration
	End          time.Duration
	Text         string
	IsPartial    bool
	RedactedText string
	Words        []WordSpan
}
