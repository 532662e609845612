package filter

import (
	"context"

	"github.com/calldeck/callscribe/internal/call"
)

// CallStart carries the metadata a hook sees before any audio flows.
type CallStart struct {
	CallID       string `json:"callId"`
	CallerNumber string `json:"fromNumber"`
	AgentNumber  string `json:"toNumber"`
	StreamURL    string `json:"streamUrl,omitempty"`
}

// Decision is the hook's verdict. A rejected call is never transcribed
// and leaves no trace in the event store. The identity fields are optional
// overrides; empty means keep the trigger's value.
type Decision struct {
	ShouldProcess bool   `json:"shouldProcess"`
	Reason        string `json:"reason,omitempty"`
	CallID        string `json:"callId,omitempty"`
	AgentID       string `json:"agentId,omitempty"`
	CallerNumber  string `json:"fromNumber,omitempty"`
	AgentNumber   string `json:"toNumber,omitempty"`
}

// Apply folds the decision's overrides into the call.
func (d Decision) Apply(c *call.Call) {
	if d.CallID != "" {
		c.ID = d.CallID
	}
	if d.AgentID != "" {
		c.AgentID = d.AgentID
	}
	if d.CallerNumber != "" {
		c.CallerNumber = d.CallerNumber
	}
	if d.AgentNumber != "" {
		c.AgentNumber = d.AgentNumber
	}
}

// Hook is consulted once per call before processing starts. A hook
// error is treated by callers as a rejection, not a call failure.
type Hook interface {
	Evaluate(ctx context.Context, start CallStart) (Decision, error)
}

// AllowAll processes every call. Used when no hook is configured.
type AllowAll struct{}

func (AllowAll) Evaluate(context.Context, CallStart) (Decision, error) {
	return Decision{ShouldProcess: true}, nil
}

// StartFromCall builds the hook payload for a call.
func StartFromCall(c call.Call, streamURL string) CallStart {
	return CallStart{
		CallID:       c.ID,
		CallerNumber: c.CallerNumber,
		AgentNumber:  c.AgentNumber,
		StreamURL:    streamURL,
	}
}
