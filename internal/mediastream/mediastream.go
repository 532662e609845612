package mediastream

import (
	"context"
	"errors"

	"github.com/calldeck/callscribe/internal/call"
)

// ErrEndOfStream signals an orderly end of a leg's media: the call is over
// for that leg. It is distinct from a leg dropping, which surfaces as a
// transport error and, past the retry budget, as ErrLegUnavailable.
var ErrEndOfStream = errors.New("end of media stream")

// ErrLegUnavailable means one leg's stream never arrived or dropped
// permanently. The call continues on the other leg but ends in ERROR.
var ErrLegUnavailable = errors.New("leg unavailable")

// StreamRef identifies one leg's live media source.
type StreamRef struct {
	CallID string
	Leg    call.LegRole
	URL    string
}

// LegReader yields one leg's audio chunks in arrival order. Next blocks
// until a chunk is available, the stream ends, or ctx is done.
type LegReader interface {
	Next(ctx context.Context) (call.AudioChunk, error)
	Close() error
}

// Source attaches to live media streams. Implementations perform network
// I/O only; no local persistence.
type Source interface {
	Open(ctx context.Context, ref StreamRef) (LegReader, error)
}
