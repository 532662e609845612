package artifact

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/calldeck/callscribe/internal/audio"
	"github.com/calldeck/callscribe/internal/call"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failKey string // key whose writes always fail
	flaky   int    // number of leading writes that fail regardless of key
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: make(map[string][]byte)}
}

func (m *memoryObjects) Put(_ context.Context, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flaky > 0 {
		m.flaky--
		return errors.New("slow down")
	}
	if m.failKey != "" && key == m.failKey {
		return errors.New("access denied")
	}
	m.objects[key] = body
	return nil
}

func (m *memoryObjects) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

func testBuffers() Buffers {
	caller := make([]int16, 8000)
	agent := make([]int16, 8000)
	for i := range caller {
		caller[i] = 100
		agent[i] = -100
	}
	return Buffers{Caller: caller, Agent: agent, SampleRate: 8000}
}

func TestFlush_WritesMergedAndLegArtifacts(t *testing.T) {
	store := newMemoryObjects()
	w := NewWriter(store, "recordings/merged", "recordings/legs", false)

	manifest, err := w.Flush(context.Background(), "call-1", testBuffers())
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if manifest.MergedKey != "recordings/merged/call-1.wav" {
		t.Fatalf("merged key = %q", manifest.MergedKey)
	}
	if manifest.LegKeys[call.LegCaller] != "recordings/legs/call-1-caller.wav" {
		t.Fatalf("caller key = %q", manifest.LegKeys[call.LegCaller])
	}
	if manifest.LegKeys[call.LegAgent] != "recordings/legs/call-1-agent.wav" {
		t.Fatalf("agent key = %q", manifest.LegKeys[call.LegAgent])
	}

	merged := store.objects[manifest.MergedKey]
	samples, rate, channels, err := audio.DecodeWAV(merged)
	if err != nil {
		t.Fatalf("merged artifact is not valid WAV: %v", err)
	}
	if rate != 8000 || channels != 2 {
		t.Fatalf("merged rate=%d channels=%d, want 8000/2", rate, channels)
	}
	// Stereo interleave: caller on channel 0, agent on channel 1.
	if samples[0] != 100 || samples[1] != -100 {
		t.Fatalf("channel order wrong: first frame = [%d %d]", samples[0], samples[1])
	}
}

func TestStage_WritesRawLegUnderFixedPrefix(t *testing.T) {
	store := newMemoryObjects()
	w := NewWriter(store, "merged", "legs", false)

	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = -1000
	}
	key, err := w.Stage(context.Background(), "call-1", call.LegAgent, samples, 8000)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if key != "raw-audio/call-1-agent.wav" {
		t.Fatalf("staged key = %q, want raw-audio/call-1-agent.wav", key)
	}

	got, rate, channels, err := audio.DecodeWAV(store.objects[key])
	if err != nil {
		t.Fatalf("staged artifact is not valid WAV: %v", err)
	}
	if rate != 8000 || channels != 1 {
		t.Fatalf("staged rate=%d channels=%d, want 8000/1", rate, channels)
	}
	if len(got) != len(samples) || got[0] != -1000 {
		t.Fatalf("staged audio does not match capture: len=%d first=%d", len(got), got[0])
	}
}

func TestStage_EmptyCaptureIsNoOp(t *testing.T) {
	store := newMemoryObjects()
	w := NewWriter(store, "merged", "legs", false)

	key, err := w.Stage(context.Background(), "call-1", call.LegCaller, nil, 8000)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if key != "" || len(store.keys()) != 0 {
		t.Fatalf("expected no staged object, got key=%q objects=%v", key, store.keys())
	}
}

func TestStage_PersistentFailureReported(t *testing.T) {
	store := newMemoryObjects()
	store.failKey = "raw-audio/call-1-caller.wav"
	w := NewWriter(store, "merged", "legs", false,
		WithWriteRetries(1), WithRetryDelay(time.Millisecond))

	_, err := w.Stage(context.Background(), "call-1", call.LegCaller, []int16{1, 2, 3}, 8000)
	if !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("Stage() error = %v, want ErrStorageWrite", err)
	}
	if !strings.Contains(err.Error(), "call-1") {
		t.Fatalf("error does not name the call: %v", err)
	}
}

func TestFlush_MonoMixesChannels(t *testing.T) {
	store := newMemoryObjects()
	w := NewWriter(store, "merged", "legs", true)

	manifest, err := w.Flush(context.Background(), "call-1", testBuffers())
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	samples, _, channels, err := audio.DecodeWAV(store.objects[manifest.MergedKey])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if channels != 1 {
		t.Fatalf("channels = %d, want 1", channels)
	}
	if samples[0] != 0 {
		t.Fatalf("mixed sample = %d, want 0 (average of +100/-100)", samples[0])
	}
}

func TestFlush_PartialBufferStillWritten(t *testing.T) {
	store := newMemoryObjects()
	w := NewWriter(store, "merged", "legs", false)

	buf := testBuffers()
	buf.Agent = nil // agent leg never arrived
	manifest, err := w.Flush(context.Background(), "call-1", buf)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if manifest.MergedKey == "" {
		t.Fatal("merged artifact missing")
	}
	if _, ok := manifest.LegKeys[call.LegAgent]; ok {
		t.Fatal("agent artifact should be skipped when no audio was buffered")
	}
	if _, ok := manifest.LegKeys[call.LegCaller]; !ok {
		t.Fatal("caller artifact missing")
	}
}

func TestFlush_EmptyBuffersSkip(t *testing.T) {
	store := newMemoryObjects()
	w := NewWriter(store, "merged", "legs", false)
	manifest, err := w.Flush(context.Background(), "call-1", Buffers{SampleRate: 8000})
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if manifest.MergedKey != "" || len(store.keys()) != 0 {
		t.Fatal("nothing should be written for an empty buffer")
	}
}

func TestFlush_RetriesTransientFailures(t *testing.T) {
	store := newMemoryObjects()
	store.flaky = 2
	w := NewWriter(store, "merged", "legs", false, WithRetryDelay(time.Millisecond))

	if _, err := w.Flush(context.Background(), "call-1", testBuffers()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(store.keys()) != 3 {
		t.Fatalf("objects = %d, want 3", len(store.keys()))
	}
}

func TestFlush_PersistentFailureReportedButOthersWritten(t *testing.T) {
	store := newMemoryObjects()
	store.failKey = "legs/call-1-agent.wav"
	w := NewWriter(store, "merged", "legs", false,
		WithWriteRetries(1), WithRetryDelay(time.Millisecond))

	manifest, err := w.Flush(context.Background(), "call-1", testBuffers())
	if !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("error = %v, want ErrStorageWrite", err)
	}
	if !strings.Contains(err.Error(), "call-1") {
		t.Fatalf("error should name the call: %v", err)
	}
	if manifest.MergedKey == "" {
		t.Fatal("merged artifact should have been written despite leg failure")
	}
	if _, ok := manifest.LegKeys[call.LegCaller]; !ok {
		t.Fatal("caller artifact should have been written despite agent failure")
	}
	if _, ok := manifest.LegKeys[call.LegAgent]; ok {
		t.Fatal("agent artifact must not appear in the manifest")
	}
}
