package call

import "time"

type EventType string

const (
	EventStarted EventType = "STARTED"
	EventSegment EventType = "SEGMENT"
	EventEnded   EventType = "ENDED"
	EventError   EventType = "ERROR"
)

// Event is a Call or TranscriptSegment transition on its way to the durable
// table and the downstream bus.
type Event struct {
	Type    EventType          `json:"type"`
	Call    Call               `json:"call"`
	Segment *TranscriptSegment `json:"segment,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	At      time.Time          `json:"at"`
}

func StartedEvent(c Call, at time.Time) Event {
	c.Status = StatusStarted
	return Event{Type: EventStarted, Call: c, At: at}
}

func SegmentEvent(c Call, seg TranscriptSegment, at time.Time) Event {
	c.Status = StatusActive
	return Event{Type: EventSegment, Call: c, Segment: &seg, At: at}
}

func EndedEvent(c Call, at time.Time) Event {
	c.Status = StatusEnded
	return Event{Type: EventEnded, Call: c, At: at}
}

func ErrorEvent(c Call, reason string, at time.Time) Event {
	c.Status = StatusError
	return Event{Type: EventError, Call: c, Reason: reason, At: at}
}
