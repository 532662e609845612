package call

import "testing"

func TestTransition_TerminalAbsorbs(t *testing.T) {
	c := &Call{ID: "c1", Status: StatusStarted}
	if !c.Transition(StatusActive) {
		t.Fatal("expected STARTED -> ACTIVE to be allowed")
	}
	if !c.Transition(StatusEnded) {
		t.Fatal("expected ACTIVE -> ENDED to be allowed")
	}
	if c.Transition(StatusActive) {
		t.Fatal("expected ENDED to absorb further transitions")
	}
	if c.Status != StatusEnded {
		t.Fatalf("status = %s, want %s", c.Status, StatusEnded)
	}
}

func TestChannelIndex(t *testing.T) {
	if LegCaller.ChannelIndex() != 0 {
		t.Fatal("caller must occupy channel 0")
	}
	if LegAgent.ChannelIndex() != 1 {
		t.Fatal("agent must occupy channel 1")
	}
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+15551234567", "+15551234567"},
		{"anonymous", "+18005550000"},
		{"Anonymous", "+18005550000"},
		{"", "+18005550000"},
		{"  ", "+18005550000"},
	}
	for _, tt := range tests {
		if got := NormalizeNumber(tt.in, "+18005550000"); got != tt.want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
