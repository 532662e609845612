package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/calldeck/callscribe/internal/call"
)

// State is the session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	defaultRingCapacity   = 50
	defaultReconnectLimit = 5
	defaultDrainTimeout   = 10 * time.Second
)

type SessionOption func(*Session)

func WithRingCapacity(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.ringCap = n
		}
	}
}

func WithReconnectLimit(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.reconnectLimit = uint64(n)
		}
	}
}

func WithDrainTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.drainTimeout = d }
}

// WithReconnectDelay shortens the first reconnect backoff, used by tests.
func WithReconnectDelay(d time.Duration) SessionOption {
	return func(s *Session) { s.reconnectDelay = d }
}

// Session drives one call's streaming transcription. It connects lazily on
// the first frame, replays a bounded ring of recent audio across service
// reconnects, rebases result timestamps onto the call timeline, and
// deduplicates finals re-transcribed from replayed audio so downstream sees
// per-leg finals in non-decreasing start order exactly once.
type Session struct {
	streamer   Streamer
	cfg        StreamConfig
	downstream Receiver

	ringCap        int
	reconnectLimit uint64
	reconnectDelay time.Duration
	drainTimeout   time.Duration

	mu         sync.Mutex
	state      State
	writer     SessionWriter
	gen        int
	ring       [][]byte
	ringBytes  int
	sentBytes  int64
	timeBase   time.Duration
	dropped    uint64
	reconnects uint64

	lastFinalEnd map[call.LegRole]time.Duration

	drained   chan struct{}
	drainOnce sync.Once
}

func NewSession(streamer Streamer, cfg StreamConfig, downstream Receiver, opts ...SessionOption) *Session {
	s := &Session{
		streamer:       streamer,
		cfg:            cfg,
		downstream:     downstream,
		ringCap:        defaultRingCapacity,
		reconnectLimit: defaultReconnectLimit,
		reconnectDelay: 500 * time.Millisecond,
		drainTimeout:   defaultDrainTimeout,
		state:          StateIdle,
		lastFinalEnd:   make(map[call.LegRole]time.Duration),
		drained:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dropped reports how many buffered frames were evicted unsent because the
// replay ring overflowed while the service applied backpressure.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Reconnects reports how many times the session rebuilt its stream.
func (s *Session) Reconnects() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Send streams one audio frame, connecting on first use and reconnecting
// transparently on recoverable failures. The frame enters the replay ring
// before transmission so a reconnect never loses it.
func (s *Session) Send(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		s.state = StateConnecting
		if err := s.connectLocked(ctx); err != nil {
			s.state = StateClosed
			return fmt.Errorf("%w: connect: %v", ErrSessionFailure, err)
		}
		s.state = StateStreaming
	case StateStreaming:
	case StateDraining, StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("send in unexpected state %s", s.state)
	}

	s.bufferLocked(pcm)
	s.sentBytes += int64(len(pcm))

	if err := s.writer.Send(pcm); err != nil {
		if !IsRecoverable(err) {
			s.state = StateClosed
			return fmt.Errorf("%w: %v", ErrSessionFailure, err)
		}
		slog.Warn("transcription stream send failed; reconnecting",
			"call_id", s.cfg.CallID, "error", err)
		if err := s.reconnectLocked(ctx); err != nil {
			s.state = StateClosed
			return err
		}
		s.state = StateStreaming
	}
	return nil
}

func (s *Session) bufferLocked(pcm []byte) {
	frame := make([]byte, len(pcm))
	copy(frame, pcm)
	if len(s.ring) == s.ringCap {
		s.ringBytes -= len(s.ring[0])
		s.ring = s.ring[1:]
		s.dropped++
	}
	s.ring = append(s.ring, frame)
	s.ringBytes += len(frame)
}

func (s *Session) connectLocked(ctx context.Context) error {
	s.gen++
	recv := &sessionReceiver{session: s, gen: s.gen}
	writer, err := s.streamer.Start(ctx, s.cfg, recv)
	if err != nil {
		return err
	}
	s.writer = writer
	return nil
}

// reconnectLocked re-establishes the stream and replays the ring. Result
// timestamps of the new stream restart at zero, so the time base advances
// to where the replayed audio begins on the call timeline.
func (s *Session) reconnectLocked(ctx context.Context) error {
	s.state = StateReconnecting
	s.reconnects++
	if s.writer != nil {
		_ = s.writer.Close()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.reconnectDelay

	attempt := 0
	op := func() error {
		attempt++
		if err := s.connectLocked(ctx); err != nil {
			slog.Warn("transcription reconnect attempt failed",
				"call_id", s.cfg.CallID, "attempt", attempt, "error", err)
			return err
		}
		for _, frame := range s.ring {
			if err := s.writer.Send(frame); err != nil {
				_ = s.writer.Close()
				return err
			}
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.reconnectLimit), ctx)); err != nil {
		return fmt.Errorf("%w: reconnect ceiling exceeded: %v", ErrSessionFailure, err)
	}

	bps := int64(s.cfg.BytesPerSecond())
	replayStart := s.sentBytes - int64(s.ringBytes)
	s.timeBase = time.Duration(replayStart * int64(time.Second) / bps)
	slog.Info("transcription stream reconnected",
		"call_id", s.cfg.CallID, "replayed_frames", len(s.ring), "time_base", s.timeBase)
	return nil
}

// Drain closes the send side, waits for the service to deliver its final
// results up to the drain timeout, and closes the session.
func (s *Session) Drain(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateDraining {
		s.mu.Unlock()
		return
	}
	if s.state == StateIdle {
		s.state = StateClosed
		s.mu.Unlock()
		return
	}
	s.state = StateDraining
	writer := s.writer
	timeout := s.drainTimeout
	s.mu.Unlock()

	if writer != nil {
		_ = writer.Close()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.drained:
	case <-timer.C:
		slog.Warn("transcription drain timed out", "call_id", s.cfg.CallID, "timeout", timeout)
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// deliver applies timestamp rebasing and final ordering before forwarding a
// segment. Finals that start inside already-finalized coverage are replay
// duplicates and are suppressed, as are partials that a final already
// superseded.
func (s *Session) deliver(gen int, seg call.TranscriptSegment) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	seg.Start += s.timeBase
	seg.End += s.timeBase
	seg.CallID = s.cfg.CallID
	if seg.ID == "" {
		seg.ID = uuid.New().String()
	}
	if seg.Start < s.lastFinalEnd[seg.Leg] {
		s.mu.Unlock()
		return
	}
	if !seg.IsPartial {
		s.lastFinalEnd[seg.Leg] = seg.End
	}
	s.mu.Unlock()

	s.downstream.OnSegment(seg)
}

func (s *Session) streamErrored(gen int, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if IsRecoverable(err) {
		// The send path notices the broken stream and reconnects.
		slog.Warn("transcription stream interrupted",
			"call_id", s.cfg.CallID, "state", s.state, "error", err)
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()
	s.downstream.OnError(fmt.Errorf("%w: %v", ErrSessionFailure, err))
}

func (s *Session) streamDone(gen int) {
	s.mu.Lock()
	current := gen == s.gen
	draining := s.state == StateDraining
	s.mu.Unlock()
	if !current {
		return
	}
	if draining {
		s.drainOnce.Do(func() { close(s.drained) })
	}
	s.downstream.OnDone()
}

// sessionReceiver routes adapter callbacks back into the session, tagged
// with the stream generation so late callbacks from an abandoned stream
// cannot corrupt the current one.
type sessionReceiver struct {
	session *Session
	gen     int
}

func (r *sessionReceiver) OnSegment(seg call.TranscriptSegment) { r.session.deliver(r.gen, seg) }
func (r *sessionReceiver) OnError(err error)                    { r.session.streamErrored(r.gen, err) }
func (r *sessionReceiver) OnDone()                              { r.session.streamDone(r.gen) }
