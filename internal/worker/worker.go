package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calldeck/callscribe/internal/artifact"
	"github.com/calldeck/callscribe/internal/audio"
	"github.com/calldeck/callscribe/internal/call"
	"github.com/calldeck/callscribe/internal/config"
	"github.com/calldeck/callscribe/internal/filter"
	"github.com/calldeck/callscribe/internal/mediastream"
	"github.com/calldeck/callscribe/internal/metrics"
	"github.com/calldeck/callscribe/internal/recorder"
	"github.com/calldeck/callscribe/internal/transcribe"
)

// ErrCallInFlight means a trigger arrived for a call that is already being
// processed. Re-delivered triggers for finished calls are accepted and rely
// on idempotent record keys.
var ErrCallInFlight = errors.New("call already in flight")

// Trigger is one call-start event. Both stream URLs are required; the rest
// is optional metadata.
type Trigger struct {
	CallID          string
	AgentID         string
	CallerNumber    string
	AgentNumber     string
	CallerStreamURL string
	AgentStreamURL  string
	StartedAt       time.Time
}

// Worker processes calls end to end: filter hook, media pumps, stitching,
// transcription, event records, artifacts. All state is per call; a Worker
// may run any number of calls concurrently.
type Worker struct {
	cfg       *config.Config
	source    mediastream.Source
	streamer  transcribe.Streamer
	store     recorder.EventStore
	bus       recorder.EventBus
	artifacts *artifact.Writer
	hook      filter.Hook
	metrics   *metrics.Metrics
	pumpOpts  []mediastream.PumpOption

	inflight sync.Map
}

type Option func(*Worker)

// WithPumpOptions tunes the per-leg media pumps, mainly their reattach
// backoff in tests.
func WithPumpOptions(opts ...mediastream.PumpOption) Option {
	return func(w *Worker) { w.pumpOpts = opts }
}

func New(
	cfg *config.Config,
	source mediastream.Source,
	streamer transcribe.Streamer,
	store recorder.EventStore,
	bus recorder.EventBus,
	artifacts *artifact.Writer,
	hook filter.Hook,
	m *metrics.Metrics,
	opts ...Option,
) *Worker {
	if hook == nil {
		hook = filter.AllowAll{}
	}
	w := &Worker{
		cfg:       cfg,
		source:    source,
		streamer:  streamer,
		store:     store,
		bus:       bus,
		artifacts: artifacts,
		hook:      hook,
		metrics:   m,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// InFlight reports whether a call is currently being processed.
func (w *Worker) InFlight(callID string) bool {
	_, ok := w.inflight.Load(callID)
	return ok
}

// Run processes exactly one call and blocks until it reaches a terminal
// status. Returns ErrCallInFlight without side effects when the call is
// already running.
func (w *Worker) Run(ctx context.Context, trig Trigger) error {
	if trig.CallID == "" {
		trig.CallID = uuid.NewString()
	}
	if _, loaded := w.inflight.LoadOrStore(trig.CallID, struct{}{}); loaded {
		return fmt.Errorf("%w: %s", ErrCallInFlight, trig.CallID)
	}
	defer w.inflight.Delete(trig.CallID)

	startedAt := trig.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	c := call.Call{
		ID:           trig.CallID,
		StartedAt:    startedAt,
		AgentID:      trig.AgentID,
		CallerNumber: call.NormalizeNumber(trig.CallerNumber, w.cfg.DefaultCallerNumber),
		AgentNumber:  trig.AgentNumber,
		Status:       call.StatusStarted,
	}

	decision, err := w.evaluateHook(ctx, c, trig.CallerStreamURL)
	if err != nil || !decision.ShouldProcess {
		w.metrics.CallsRejected.Inc()
		slog.Info("call rejected by filter hook",
			"call_id", c.ID, "reason", decision.Reason, "error", err)
		return nil
	}
	decision.Apply(&c)

	w.metrics.CallsStarted.Inc()
	w.metrics.ActiveCalls.Inc()
	began := time.Now()
	defer func() {
		w.metrics.ActiveCalls.Dec()
		w.metrics.CallDuration.Observe(time.Since(began).Seconds())
	}()

	slog.Info("call processing started",
		"call_id", c.ID, "caller", c.CallerNumber, "agent", c.AgentNumber)
	return w.process(ctx, c, trig)
}

func (w *Worker) evaluateHook(ctx context.Context, c call.Call, streamURL string) (filter.Decision, error) {
	hctx := ctx
	if w.cfg.FilterHookTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, w.cfg.FilterHookTimeout)
		defer cancel()
	}
	return w.hook.Evaluate(hctx, filter.StartFromCall(c, streamURL))
}

func (w *Worker) process(ctx context.Context, c call.Call, trig Trigger) error {
	rec := recorder.New(w.store, w.bus, c.ID, w.cfg.RecordTTL())
	rec.OnPublishFailure(w.metrics.PublishFailures.Inc)

	// Event records outlive the call deadline: ENDED/ERROR and late finals
	// are written even after a hard timeout.
	recCtx := context.WithoutCancel(ctx)

	if err := rec.Record(recCtx, call.StartedEvent(c, time.Now())); err != nil {
		w.metrics.RecordFailures.Inc()
		w.metrics.CallsFailed.Inc()
		return fmt.Errorf("record call start: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.ProcessingTimeout)
	defer cancel()

	stitcher := audio.NewStitcher(audio.StitcherConfig{
		SampleRate: audio.TelephonySampleRate,
		Window:     w.cfg.StitchWindow,
		MaxWait:    w.cfg.StitchMaxWait,
		StartGrace: w.cfg.LegSkewMax,
	})

	recv := &callReceiver{worker: w, rec: rec, call: c, ctx: recCtx, fatal: make(chan error, 1)}
	session := transcribe.NewSession(w.streamer, transcribe.StreamConfig{
		CallID:           c.ID,
		Language:         w.cfg.TranscribeLanguage,
		SampleRate:       audio.TelephonySampleRate,
		Channels:         2,
		RedactionEnabled: w.cfg.ContentRedactionEnabled,
		RedactionType:    w.cfg.ContentRedactionType,
		PIIEntityTypes:   w.cfg.PIIEntityTypes,
		VocabularyName:   w.cfg.CustomVocabularyName,
	}, recv,
		transcribe.WithRingCapacity(w.cfg.AudioBufferFrames),
		transcribe.WithDrainTimeout(w.cfg.DrainTimeout),
	)

	pumpErrs := make(chan error, 2)
	var pumps sync.WaitGroup
	refs := []mediastream.StreamRef{
		{CallID: c.ID, Leg: call.LegCaller, URL: trig.CallerStreamURL},
		{CallID: c.ID, Leg: call.LegAgent, URL: trig.AgentStreamURL},
	}
	pumpOpts := append([]mediastream.PumpOption{
		mediastream.WithReattachHook(w.metrics.LegReattaches.Inc),
	}, w.pumpOpts...)
	// Each leg's raw capture is touched only by that leg's pump goroutine
	// until pumps.Wait returns.
	raw := map[call.LegRole]*[]int16{
		call.LegCaller: new([]int16),
		call.LegAgent:  new([]int16),
	}
	for _, ref := range refs {
		pumps.Add(1)
		go func(ref mediastream.StreamRef) {
			defer pumps.Done()
			capture := raw[ref.Leg]
			pump := mediastream.NewPump(w.source, ref, pumpOpts...)
			pumpErrs <- pump.Run(callCtx, func(chunk call.AudioChunk) {
				w.metrics.ChunksReceived.WithLabelValues(string(chunk.Leg)).Inc()
				*capture = append(*capture, audio.SamplesFromPCM(chunk.PCM)...)
				stitcher.Push(chunk)
			})
		}(ref)
	}
	pumpsDone := make(chan struct{})
	go func() {
		pumps.Wait()
		close(pumpsDone)
	}()

	buffers := artifact.Buffers{SampleRate: audio.TelephonySampleRate}
	var fatal error

	ticker := time.NewTicker(w.cfg.StitchWindow)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-callCtx.Done():
			fatal = callCtx.Err()
			break loop
		case err := <-recv.fatal:
			fatal = err
			break loop
		case <-pumpsDone:
			break loop
		case <-ticker.C:
			if err := w.forward(callCtx, stitcher, session, &buffers); err != nil {
				fatal = err
				break loop
			}
		}
	}
	cancel()
	pumps.Wait()

	// Remaining buffered audio still lands in the artifacts; it is only
	// sent for transcription when the session is still usable.
	if err := w.drainStitcher(recCtx, stitcher, session, &buffers, fatal == nil); err != nil && fatal == nil {
		fatal = err
	}

	drainCtx, drainCancel := context.WithTimeout(recCtx, w.cfg.DrainTimeout)
	session.Drain(drainCtx)
	drainCancel()

	w.observeCounters(stitcher, session)

	if fatal == nil {
		fatal = w.classifyPumps(pumpErrs, &buffers)
	}
	w.finish(recCtx, rec, c, fatal)

	for leg, capture := range raw {
		if _, err := w.artifacts.Stage(recCtx, c.ID, leg, *capture, audio.TelephonySampleRate); err != nil {
			w.metrics.ArtifactFailures.Inc()
			slog.Error("raw audio staging failed", "call_id", c.ID, "leg", leg, "error", err)
		}
	}
	if manifest, err := w.artifacts.Flush(recCtx, c.ID, buffers); err != nil {
		w.metrics.ArtifactFailures.Inc()
		slog.Error("artifact flush failed", "call_id", c.ID, "error", err)
	} else if manifest.MergedKey != "" {
		slog.Info("artifacts stored", "call_id", c.ID, "merged_key", manifest.MergedKey)
	}
	return nil
}

// forward pulls every ready stitched frame, appends it to the artifact
// buffers, and sends its interleaved PCM to the session.
func (w *Worker) forward(
	ctx context.Context,
	stitcher *audio.Stitcher,
	session *transcribe.Session,
	buffers *artifact.Buffers,
) error {
	for {
		frame, ok := stitcher.Pull()
		if !ok {
			return nil
		}
		if err := w.emit(ctx, session, buffers, frame, true); err != nil {
			return err
		}
	}
}

// drainStitcher empties the stitcher at call end, padded partial window
// included. Frames always reach the artifact buffers; they are sent for
// transcription only while the session is still usable.
func (w *Worker) drainStitcher(
	ctx context.Context,
	stitcher *audio.Stitcher,
	session *transcribe.Session,
	buffers *artifact.Buffers,
	send bool,
) error {
	var firstErr error
	for _, frame := range stitcher.Flush() {
		if err := w.emit(ctx, session, buffers, frame, send); err != nil && firstErr == nil {
			firstErr = err
			send = false
		}
	}
	return firstErr
}

func (w *Worker) emit(
	ctx context.Context,
	session *transcribe.Session,
	buffers *artifact.Buffers,
	frame audio.StitchedFrame,
	send bool,
) error {
	w.metrics.StitchedFrames.Inc()
	buffers.Caller = append(buffers.Caller, frame.Caller...)
	buffers.Agent = append(buffers.Agent, frame.Agent...)
	if !send {
		return nil
	}
	pcm := audio.PCMFromSamples(audio.Interleave(frame.Caller, frame.Agent))
	return session.Send(ctx, pcm)
}

// classifyPumps inspects how the legs ended once both pumps have returned.
// A single unavailable leg is tolerated (the stitcher filled it with
// silence); a call with no audio at all is an error.
func (w *Worker) classifyPumps(pumpErrs chan error, buffers *artifact.Buffers) error {
	var unavailable int
	for i := 0; i < cap(pumpErrs); i++ {
		select {
		case err := <-pumpErrs:
			if errors.Is(err, mediastream.ErrLegUnavailable) {
				unavailable++
			}
		default:
		}
	}
	if unavailable > 0 && len(buffers.Caller) == 0 && len(buffers.Agent) == 0 {
		return mediastream.ErrLegUnavailable
	}
	return nil
}

// finish records the terminal event. A hard deadline is a normal call end;
// everything else terminal is an error with its taxonomy class as reason.
func (w *Worker) finish(ctx context.Context, rec *recorder.Recorder, c call.Call, fatal error) {
	now := time.Now()
	var ev call.Event
	switch {
	case fatal == nil:
		ev = call.EndedEvent(c, now)
		w.metrics.CallsCompleted.Inc()
	case errors.Is(fatal, context.DeadlineExceeded):
		slog.Warn("call hit processing deadline", "call_id", c.ID)
		ev = call.EndedEvent(c, now)
		w.metrics.CallsCompleted.Inc()
	default:
		slog.Error("call failed", "call_id", c.ID, "error", fatal)
		ev = call.ErrorEvent(c, fatal.Error(), now)
		w.metrics.CallsFailed.Inc()
	}
	if err := rec.Record(ctx, ev); err != nil {
		w.metrics.RecordFailures.Inc()
		slog.Error("terminal event record failed", "call_id", c.ID, "error", err)
	}
}

func (w *Worker) observeCounters(stitcher *audio.Stitcher, session *transcribe.Session) {
	silence, stale := stitcher.Stats()
	w.metrics.SilenceFilled.Add(float64(silence))
	w.metrics.StaleChunks.Add(float64(stale))
	w.metrics.SessionReconnects.Add(float64(session.Reconnects()))
	w.metrics.ReplayDropped.Add(float64(session.Dropped()))
}

// callReceiver routes session results: finals are durably recorded,
// partials are published best-effort, a session failure aborts the call.
type callReceiver struct {
	worker *Worker
	rec    *recorder.Recorder
	call   call.Call
	ctx    context.Context
	fatal  chan error
}

func (r *callReceiver) OnSegment(seg call.TranscriptSegment) {
	finality := "final"
	if seg.IsPartial {
		finality = "partial"
	}
	r.worker.metrics.Segments.WithLabelValues(finality).Inc()

	ev := call.SegmentEvent(r.call, seg, time.Now())
	if seg.IsPartial {
		r.rec.Publish(r.ctx, ev)
		return
	}
	if err := r.rec.Record(r.ctx, ev); err != nil {
		r.worker.metrics.RecordFailures.Inc()
		r.abort(err)
	}
}

func (r *callReceiver) OnError(err error) { r.abort(err) }

func (r *callReceiver) OnDone() {}

func (r *callReceiver) abort(err error) {
	select {
	case r.fatal <- err:
	default:
	}
}
