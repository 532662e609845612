package audio

import (
	"sync"
	"time"

	"github.com/calldeck/callscribe/internal/call"
)

// StitchedFrame is one aligned window of both legs' audio. Caller always
// occupies channel 0, agent channel 1, so downstream channel indices stay
// stable regardless of which leg produced data first.
type StitchedFrame struct {
	Offset time.Duration
	Caller []int16
	Agent  []int16
}

// Duration returns the frame length given the stitcher's sample rate.
func (f StitchedFrame) Duration(sampleRate int) time.Duration {
	return time.Duration(len(f.Caller)) * time.Second / time.Duration(sampleRate)
}

type StitcherConfig struct {
	SampleRate int           // per-leg samples per second
	Window     time.Duration // length of each emitted frame
	MaxWait    time.Duration // how long to hold a window for the slower leg
	StartGrace time.Duration // extra allowance before a leg's first audio (start skew)
}

// Stitcher aligns two independently timestamped leg streams into one
// multi-channel timeline. Push accepts chunks in any order; Pull emits the
// next window once both legs have coverage or the window has aged past
// MaxWait, in which case the missing span is filled with silence. The emit
// cursor never rewinds: chunks that arrive behind it are dropped, which
// also makes a leg restart a plain continuation as long as the restarted
// leg reports call-relative offsets.
type Stitcher struct {
	mu sync.Mutex

	rate          int
	windowSamples int64
	maxWait       time.Duration
	startGrace    time.Duration

	cursor  int64       // absolute sample index of the next window start
	readyAt []time.Time // arrival time of the first audio per pending window

	legs map[call.LegRole]*legBuffer

	silenceFilled uint64
	stale         uint64

	now func() time.Time
}

type legBuffer struct {
	data     []int16 // anchored at the stitcher cursor
	written  int64   // absolute high-water sample index
	everSeen bool
}

func NewStitcher(cfg StitcherConfig) *Stitcher {
	s := &Stitcher{
		rate:          cfg.SampleRate,
		windowSamples: int64(cfg.Window) * int64(cfg.SampleRate) / int64(time.Second),
		maxWait:       cfg.MaxWait,
		startGrace:    cfg.StartGrace,
		legs: map[call.LegRole]*legBuffer{
			call.LegCaller: {},
			call.LegAgent:  {},
		},
		now: time.Now,
	}
	return s
}

// Push writes one chunk into its leg's jitter buffer at the position given
// by the chunk's call-relative offset. Gaps left between chunks read back
// as silence.
func (s *Stitcher) Push(chunk call.AudioChunk) {
	samples := SamplesFromPCM(chunk.PCM)
	if len(samples) == 0 {
		return
	}
	pos := int64(chunk.Offset) * int64(s.rate) / int64(time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()

	leg := s.legs[chunk.Leg]
	if leg == nil {
		return
	}
	leg.everSeen = true

	end := pos + int64(len(samples))
	if end <= s.cursor {
		s.stale++
		return
	}
	if pos < s.cursor {
		samples = samples[s.cursor-pos:]
		pos = s.cursor
	}

	idx := pos - s.cursor
	need := idx + int64(len(samples))
	for int64(len(leg.data)) < need {
		leg.data = append(leg.data, 0)
	}
	copy(leg.data[idx:need], samples)
	if end > leg.written {
		leg.written = end
	}
	s.extendReadyLocked()
}

// extendReadyLocked stamps an arrival time on every window the high-water
// mark now reaches into. Window aging is measured from the moment its first
// audio arrived, so a backlog behind a dead leg drains as each window
// crosses MaxWait instead of one window per MaxWait.
func (s *Stitcher) extendReadyLocked() {
	high := s.cursor
	for _, leg := range s.legs {
		if leg.written > high {
			high = leg.written
		}
	}
	pending := int((high - s.cursor + s.windowSamples - 1) / s.windowSamples)
	for len(s.readyAt) < pending {
		s.readyAt = append(s.readyAt, s.now())
	}
}

// Pull emits the next stitched window if it is ready, reporting false when
// the stitcher prefers to keep waiting for the slower leg.
func (s *Stitcher) Pull() (StitchedFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pullLocked()
}

func (s *Stitcher) pullLocked() (StitchedFrame, bool) {
	end := s.cursor + s.windowSamples

	ready := true
	awaitingFirstAudio := false
	for _, leg := range s.legs {
		if leg.written < end {
			ready = false
		}
		if !leg.everSeen {
			awaitingFirstAudio = true
		}
	}
	if !ready {
		if len(s.readyAt) == 0 {
			return StitchedFrame{}, false
		}
		wait := s.maxWait
		if awaitingFirstAudio && s.startGrace > wait {
			wait = s.startGrace
		}
		if s.now().Sub(s.readyAt[0]) < wait {
			return StitchedFrame{}, false
		}
		s.silenceFilled++
	}
	return s.emitLocked(), true
}

func (s *Stitcher) emitLocked() StitchedFrame {
	frame := StitchedFrame{
		Offset: time.Duration(s.cursor) * time.Second / time.Duration(s.rate),
		Caller: s.takeLocked(call.LegCaller),
		Agent:  s.takeLocked(call.LegAgent),
	}
	s.cursor += s.windowSamples
	if len(s.readyAt) > 0 {
		s.readyAt = s.readyAt[1:]
	}
	return frame
}

func (s *Stitcher) takeLocked(role call.LegRole) []int16 {
	leg := s.legs[role]
	ws := int(s.windowSamples)
	out := make([]int16, ws)
	copy(out, leg.data)
	if len(leg.data) > ws {
		leg.data = leg.data[ws:]
	} else {
		leg.data = leg.data[:0]
	}
	if leg.written < s.cursor+s.windowSamples {
		leg.written = s.cursor + s.windowSamples
	}
	return out
}

// Flush drains everything buffered past the cursor, padding the final
// partial window with silence. Used at end of call.
func (s *Stitcher) Flush() []StitchedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	var frames []StitchedFrame
	for {
		anyData := false
		for _, leg := range s.legs {
			if leg.written > s.cursor {
				anyData = true
			}
		}
		if !anyData {
			return frames
		}
		frames = append(frames, s.emitLocked())
	}
}

// Stats reports how many windows needed silence fill and how many stale
// chunks were discarded.
func (s *Stitcher) Stats() (silenceFilled, staleChunks uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silenceFilled, s.stale
}
