package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/calldeck/callscribe/internal/audio"
	"github.com/calldeck/callscribe/internal/call"
)

// ErrStorageWrite means an artifact could not be stored past the retry
// budget. Reported as a call-level error; never blocks event records.
var ErrStorageWrite = errors.New("artifact write failed")

// ObjectStore is the destination bucket. Keys are call-scoped, so
// concurrent multi-call writes never collide.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Buffers holds a call's accumulated audio at flush time.
type Buffers struct {
	Caller     []int16
	Agent      []int16
	SampleRate int
}

// Manifest lists what was actually stored.
type Manifest struct {
	MergedKey string
	LegKeys   map[call.LegRole]string
}

const (
	defaultWriteRetries = 3
	wavContentType      = "audio/wav"

	// rawAudioPrefix is the fixed staging prefix for per-leg audio as
	// received from the media stream, before alignment or silence fill.
	rawAudioPrefix = "raw-audio"
)

type Option func(*Writer)

func WithWriteRetries(n int) Option {
	return func(w *Writer) {
		if n >= 0 {
			w.retries = uint64(n)
		}
	}
}

// WithRetryDelay shortens the first retry backoff, used by tests.
func WithRetryDelay(d time.Duration) Option {
	return func(w *Writer) { w.retryDelay = d }
}

// Writer persists a call's merged and per-leg audio once, at call end.
type Writer struct {
	store        ObjectStore
	mergedPrefix string
	legPrefix    string
	mono         bool
	retries      uint64
	retryDelay   time.Duration
}

func NewWriter(store ObjectStore, mergedPrefix, legPrefix string, mono bool, opts ...Option) *Writer {
	w := &Writer{
		store:        store,
		mergedPrefix: mergedPrefix,
		legPrefix:    legPrefix,
		mono:         mono,
		retries:      defaultWriteRetries,
		retryDelay:   200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Flush writes the merged artifact and both per-leg mono artifacts. Buffers
// may be partial (fatal error or hard timeout); whatever audio exists is
// still stored. Each object retries independently, and a failed object does
// not stop the others: the manifest reports what succeeded alongside the
// error.
func (w *Writer) Flush(ctx context.Context, callID string, buf Buffers) (Manifest, error) {
	manifest := Manifest{LegKeys: make(map[call.LegRole]string)}
	if len(buf.Caller) == 0 && len(buf.Agent) == 0 {
		slog.Warn("no audio buffered; skipping artifact flush", "call_id", callID)
		return manifest, nil
	}

	var errs []error

	merged, channels := w.merged(buf)
	mergedKey := path.Join(w.mergedPrefix, callID+".wav")
	if err := w.putWAV(ctx, mergedKey, merged, buf.SampleRate, channels); err != nil {
		errs = append(errs, err)
	} else {
		manifest.MergedKey = mergedKey
	}

	legs := []struct {
		role    call.LegRole
		samples []int16
		suffix  string
	}{
		{call.LegCaller, buf.Caller, "-caller.wav"},
		{call.LegAgent, buf.Agent, "-agent.wav"},
	}
	for _, leg := range legs {
		if len(leg.samples) == 0 {
			continue
		}
		key := path.Join(w.legPrefix, callID+leg.suffix)
		if err := w.putWAV(ctx, key, leg.samples, buf.SampleRate, 1); err != nil {
			errs = append(errs, err)
			continue
		}
		manifest.LegKeys[leg.role] = key
	}

	if len(errs) > 0 {
		return manifest, fmt.Errorf("%w: %s: %v", ErrStorageWrite, callID, errors.Join(errs...))
	}
	return manifest, nil
}

// Stage writes one leg's captured audio under the fixed raw staging prefix.
// Unlike the flushed leg artifacts, staged audio is the stream as received:
// arrival order, no alignment, no silence fill.
func (w *Writer) Stage(ctx context.Context, callID string, leg call.LegRole, samples []int16, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	key := path.Join(rawAudioPrefix, callID+"-"+strings.ToLower(string(leg))+".wav")
	if err := w.putWAV(ctx, key, samples, sampleRate, 1); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrStorageWrite, callID, err)
	}
	return key, nil
}

func (w *Writer) merged(buf Buffers) ([]int16, int) {
	if w.mono {
		return audio.MixMono(buf.Caller, buf.Agent), 1
	}
	return audio.Interleave(buf.Caller, buf.Agent), 2
}

func (w *Writer) putWAV(ctx context.Context, key string, samples []int16, sampleRate, channels int) error {
	body, err := audio.EncodeWAV(samples, sampleRate, channels)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.retryDelay
	op := func() error {
		if err := w.store.Put(ctx, key, body, wavContentType); err != nil {
			slog.Warn("artifact write failed; retrying", "key", key, "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, w.retries), ctx)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}
