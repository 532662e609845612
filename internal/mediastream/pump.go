package mediastream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/calldeck/callscribe/internal/call"
)

const defaultAttachRetries = 3

// Pump drains one leg into sink until the stream ends. A transport failure
// mid-call is treated as a leg restart: the pump reopens the stream with
// exponential backoff and continues, since chunk offsets are carried by the
// frames themselves the timeline never resets. Once the retry budget is
// spent the pump gives up with ErrLegUnavailable.
type Pump struct {
	source  Source
	ref     StreamRef
	retries uint64

	initialBackoff time.Duration
	onReattach     func()
}

type PumpOption func(*Pump)

// WithAttachRetries overrides how many reopen attempts are made per failure.
func WithAttachRetries(n int) PumpOption {
	return func(p *Pump) {
		if n > 0 {
			p.retries = uint64(n)
		}
	}
}

// WithInitialBackoff shortens the first retry delay, used by tests.
func WithInitialBackoff(d time.Duration) PumpOption {
	return func(p *Pump) { p.initialBackoff = d }
}

// WithReattachHook installs a hook invoked on every mid-call reattachment,
// used to feed metrics.
func WithReattachHook(fn func()) PumpOption {
	return func(p *Pump) { p.onReattach = fn }
}

func NewPump(source Source, ref StreamRef, opts ...PumpOption) *Pump {
	p := &Pump{
		source:         source,
		ref:            ref,
		retries:        defaultAttachRetries,
		initialBackoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until the leg ends, the leg becomes unavailable, or ctx is
// done. Every received chunk is attributed to this pump's leg before being
// handed to sink.
func (p *Pump) Run(ctx context.Context, sink func(call.AudioChunk)) error {
	barren := uint64(0) // consecutive reattachments that produced no audio
	for {
		reader, err := p.open(ctx)
		if err != nil {
			return err
		}
		received := false
		err = p.drain(ctx, reader, func(c call.AudioChunk) {
			received = true
			sink(c)
		})
		_ = reader.Close()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		}
		if received {
			barren = 0
		} else {
			barren++
			if barren > p.retries {
				return fmt.Errorf("%w: %s leg dropped repeatedly without audio: %v", ErrLegUnavailable, p.ref.Leg, err)
			}
		}
		slog.Warn("leg stream dropped; reattaching",
			"call_id", p.ref.CallID, "leg", p.ref.Leg, "error", err)
		if p.onReattach != nil {
			p.onReattach()
		}
	}
}

func (p *Pump) open(ctx context.Context) (LegReader, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialBackoff
	reader, err := backoff.RetryWithData(func() (LegReader, error) {
		r, err := p.source.Open(ctx, p.ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			slog.Warn("failed to attach to leg stream; retrying",
				"call_id", p.ref.CallID, "leg", p.ref.Leg, "error", err)
			return nil, err
		}
		return r, nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, p.retries), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s leg: %v", ErrLegUnavailable, p.ref.Leg, err)
	}
	return reader, nil
}

func (p *Pump) drain(ctx context.Context, reader LegReader, sink func(call.AudioChunk)) error {
	for {
		chunk, err := reader.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				slog.Info("leg stream ended", "call_id", p.ref.CallID, "leg", p.ref.Leg)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		chunk.Leg = p.ref.Leg
		sink(chunk)
	}
}
