package audio

import (
	"testing"
	"time"

	"github.com/calldeck/callscribe/internal/call"
)

func testStitcher(maxWait time.Duration) *Stitcher {
	return NewStitcher(StitcherConfig{
		SampleRate: 8000,
		Window:     100 * time.Millisecond,
		MaxWait:    maxWait,
		StartGrace: maxWait,
	})
}

// tone produces a chunk of constant-value samples so tests can tell legs
// and silence apart.
func tone(leg call.LegRole, offset, dur time.Duration, value int16) call.AudioChunk {
	n := int(int64(dur) * 8000 / int64(time.Second))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return call.AudioChunk{Leg: leg, Offset: offset, PCM: PCMFromSamples(samples)}
}

func countValue(samples []int16, value int16) int {
	n := 0
	for _, s := range samples {
		if s == value {
			n++
		}
	}
	return n
}

func TestStitcher_EmitsWhenBothLegsReady(t *testing.T) {
	s := testStitcher(time.Second)
	s.Push(tone(call.LegCaller, 0, 100*time.Millisecond, 100))
	s.Push(tone(call.LegAgent, 0, 100*time.Millisecond, -100))

	frame, ok := s.Pull()
	if !ok {
		t.Fatal("expected a frame once both legs have the window")
	}
	if frame.Offset != 0 {
		t.Fatalf("offset = %s, want 0", frame.Offset)
	}
	if got := countValue(frame.Caller, 100); got != 800 {
		t.Fatalf("caller samples = %d, want 800", got)
	}
	if got := countValue(frame.Agent, -100); got != 800 {
		t.Fatalf("agent samples = %d, want 800", got)
	}
}

func TestStitcher_HoldsForSlowerLegUntilMaxWait(t *testing.T) {
	s := testStitcher(time.Second)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	s.Push(tone(call.LegCaller, 0, 100*time.Millisecond, 100))
	if _, ok := s.Pull(); ok {
		t.Fatal("expected stitcher to hold while agent leg may still arrive")
	}

	clock = clock.Add(1100 * time.Millisecond)
	frame, ok := s.Pull()
	if !ok {
		t.Fatal("expected silence-filled frame after max wait")
	}
	if got := countValue(frame.Agent, 0); got != 800 {
		t.Fatalf("agent channel should be all silence, got %d zero samples", got)
	}
	filled, _ := s.Stats()
	if filled != 1 {
		t.Fatalf("silenceFilled = %d, want 1", filled)
	}
}

func TestStitcher_DeadLegBacklogDrainsOnceAged(t *testing.T) {
	s := testStitcher(50 * time.Millisecond)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	// One second of caller audio, agent leg dead: ten full windows
	// buffered behind the missing leg.
	s.Push(tone(call.LegCaller, 0, time.Second, 100))

	clock = clock.Add(100 * time.Millisecond)
	var frames []StitchedFrame
	for {
		frame, ok := s.Pull()
		if !ok {
			break
		}
		frames = append(frames, frame)
	}
	if len(frames) != 10 {
		t.Fatalf("drained %d of 10 aged windows, want all", len(frames))
	}
	for i, f := range frames {
		if countValue(f.Caller, 100) != 800 {
			t.Fatalf("frame %d: caller audio missing", i)
		}
		if countValue(f.Agent, 0) != 800 {
			t.Fatalf("frame %d: agent channel should be silence", i)
		}
	}
}

func TestStitcher_FreshWindowStillWaitsAfterBacklogDrain(t *testing.T) {
	s := testStitcher(50 * time.Millisecond)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	s.Push(tone(call.LegCaller, 0, 100*time.Millisecond, 100))
	clock = clock.Add(100 * time.Millisecond)
	if _, ok := s.Pull(); !ok {
		t.Fatal("expected aged window to emit")
	}

	// Audio that just arrived has not aged past MaxWait yet.
	s.Push(tone(call.LegCaller, 100*time.Millisecond, 100*time.Millisecond, 100))
	if _, ok := s.Pull(); ok {
		t.Fatal("expected stitcher to hold a window younger than max wait")
	}
	clock = clock.Add(60 * time.Millisecond)
	if _, ok := s.Pull(); !ok {
		t.Fatal("expected window to emit once its audio aged past max wait")
	}
}

func TestStitcher_NeverEmitsWithoutAnyAudio(t *testing.T) {
	s := testStitcher(time.Millisecond)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	clock = clock.Add(time.Hour)
	if _, ok := s.Pull(); ok {
		t.Fatal("expected no frame when neither leg has produced audio")
	}
}

func TestStitcher_LegSkewFilledWithSilence(t *testing.T) {
	s := testStitcher(time.Second)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	// Caller speaks from 0, agent joins 200ms late.
	s.Push(tone(call.LegCaller, 0, 400*time.Millisecond, 100))
	s.Push(tone(call.LegAgent, 200*time.Millisecond, 200*time.Millisecond, -100))

	clock = clock.Add(2 * time.Second)
	var frames []StitchedFrame
	for {
		frame, ok := s.Pull()
		if !ok {
			break
		}
		frames = append(frames, frame)
		clock = clock.Add(2 * time.Second)
	}
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}
	// First two agent windows are the skew gap.
	if countValue(frames[0].Agent, 0) != 800 || countValue(frames[1].Agent, 0) != 800 {
		t.Fatal("expected first 200ms of agent channel to be silence")
	}
	if countValue(frames[2].Agent, -100) != 800 || countValue(frames[3].Agent, -100) != 800 {
		t.Fatal("expected agent audio from 200ms onward")
	}
	for i, f := range frames {
		if countValue(f.Caller, 100) != 800 {
			t.Fatalf("frame %d: caller audio missing", i)
		}
	}
}

func TestStitcher_GapWithinLegReadsAsSilence(t *testing.T) {
	s := testStitcher(time.Second)
	s.Push(tone(call.LegCaller, 0, 40*time.Millisecond, 100))
	s.Push(tone(call.LegCaller, 60*time.Millisecond, 40*time.Millisecond, 100))
	s.Push(tone(call.LegAgent, 0, 100*time.Millisecond, -100))

	frame, ok := s.Pull()
	if !ok {
		t.Fatal("expected a frame")
	}
	if got := countValue(frame.Caller, 100); got != 640 {
		t.Fatalf("caller audio samples = %d, want 640", got)
	}
	if got := countValue(frame.Caller, 0); got != 160 {
		t.Fatalf("caller silence samples = %d, want 160 (20ms gap)", got)
	}
}

func TestStitcher_StaleChunksDropped(t *testing.T) {
	s := testStitcher(time.Second)
	s.Push(tone(call.LegCaller, 0, 100*time.Millisecond, 100))
	s.Push(tone(call.LegAgent, 0, 100*time.Millisecond, -100))
	if _, ok := s.Pull(); !ok {
		t.Fatal("expected first frame")
	}

	// A duplicate of already-emitted audio must not rewind the cursor.
	s.Push(tone(call.LegCaller, 0, 100*time.Millisecond, 50))
	_, stale := s.Stats()
	if stale != 1 {
		t.Fatalf("stale = %d, want 1", stale)
	}

	// Overlapping chunk keeps only the tail past the cursor.
	s.Push(tone(call.LegCaller, 50*time.Millisecond, 100*time.Millisecond, 70))
	s.Push(tone(call.LegCaller, 150*time.Millisecond, 50*time.Millisecond, 80))
	s.Push(tone(call.LegAgent, 100*time.Millisecond, 100*time.Millisecond, -100))
	frame, ok := s.Pull()
	if !ok {
		t.Fatal("expected second frame")
	}
	if got := countValue(frame.Caller, 70); got != 400 {
		t.Fatalf("tail samples = %d, want 400 (50ms)", got)
	}
	if got := countValue(frame.Caller, 80); got != 400 {
		t.Fatalf("follow-on samples = %d, want 400 (50ms)", got)
	}
}

func TestStitcher_FlushPadsFinalWindow(t *testing.T) {
	s := testStitcher(time.Second)
	s.Push(tone(call.LegCaller, 0, 150*time.Millisecond, 100))
	s.Push(tone(call.LegAgent, 0, 100*time.Millisecond, -100))

	frames := s.Flush()
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	last := frames[1]
	if got := countValue(last.Caller, 100); got != 400 {
		t.Fatalf("final caller audio = %d samples, want 400", got)
	}
	if got := countValue(last.Caller, 0); got != 400 {
		t.Fatalf("final caller padding = %d samples, want 400", got)
	}
	if frames := s.Flush(); frames != nil {
		t.Fatal("second flush should be empty")
	}
}

func TestInterleaveAndMix(t *testing.T) {
	caller := []int16{1, 2}
	agent := []int16{3}
	inter := Interleave(caller, agent)
	want := []int16{1, 3, 2, 0}
	for i := range want {
		if inter[i] != want[i] {
			t.Fatalf("interleave[%d] = %d, want %d", i, inter[i], want[i])
		}
	}
	mixed := MixMono([]int16{100, 100}, []int16{-100, 300})
	if mixed[0] != 0 || mixed[1] != 200 {
		t.Fatalf("mix = %v, want [0 200]", mixed)
	}
}

func TestPCMRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	got := SamplesFromPCM(PCMFromSamples(samples))
	if len(got) != len(samples) {
		t.Fatalf("length = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}
