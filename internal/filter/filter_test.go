package filter

import (
	"context"
	"testing"

	"github.com/calldeck/callscribe/internal/call"
)

func TestDecisionApply_Overrides(t *testing.T) {
	c := call.Call{
		ID:           "call-1",
		AgentID:      "agent-1",
		CallerNumber: "+15550001111",
		AgentNumber:  "+15550002222",
	}

	Decision{
		ShouldProcess: true,
		AgentID:       "agent-9",
		CallerNumber:  "+15550009999",
	}.Apply(&c)

	if c.ID != "call-1" {
		t.Errorf("ID = %q, want unchanged call-1", c.ID)
	}
	if c.AgentID != "agent-9" {
		t.Errorf("AgentID = %q, want agent-9", c.AgentID)
	}
	if c.CallerNumber != "+15550009999" {
		t.Errorf("CallerNumber = %q, want override", c.CallerNumber)
	}
	if c.AgentNumber != "+15550002222" {
		t.Errorf("AgentNumber = %q, want unchanged", c.AgentNumber)
	}
}

func TestDecisionApply_EmptyKeepsCall(t *testing.T) {
	c := call.Call{ID: "call-2", CallerNumber: "+15550001111"}
	Decision{ShouldProcess: true}.Apply(&c)

	if c.ID != "call-2" || c.CallerNumber != "+15550001111" {
		t.Errorf("call mutated by empty decision: %+v", c)
	}
}

func TestAllowAll(t *testing.T) {
	d, err := AllowAll{}.Evaluate(context.Background(), CallStart{CallID: "call-3"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !d.ShouldProcess {
		t.Error("ShouldProcess = false, want true")
	}
}

func TestStartFromCall(t *testing.T) {
	c := call.Call{
		ID:           "call-4",
		CallerNumber: "+15550001111",
		AgentNumber:  "+15550002222",
	}
	start := StartFromCall(c, "wss://media.example.com/call-4/caller")

	if start.CallID != c.ID {
		t.Errorf("CallID = %q, want %q", start.CallID, c.ID)
	}
	if start.CallerNumber != c.CallerNumber || start.AgentNumber != c.AgentNumber {
		t.Errorf("numbers not carried over: %+v", start)
	}
	if start.StreamURL != "wss://media.example.com/call-4/caller" {
		t.Errorf("StreamURL = %q", start.StreamURL)
	}
}
