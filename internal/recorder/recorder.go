package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/calldeck/callscribe/internal/call"
)

// ErrStorageWrite means the durable table rejected an event past the retry
// budget. The caller reports it but must not lose already-recorded events.
var ErrStorageWrite = errors.New("event record write failed")

// Record is one row of the durable call-event table. The composite key
// (CallID, SortKey) is deterministic per logical event, so at-least-once
// delivery upstream collapses to exactly-once rows.
type Record struct {
	CallID    string         `json:"call_id" dynamodbav:"PK"`
	SortKey   string         `json:"sort_key" dynamodbav:"SK"`
	EventType call.EventType `json:"event_type" dynamodbav:"EventType"`
	CreatedAt time.Time      `json:"created_at" dynamodbav:"CreatedAt"`
	ExpiresAt int64          `json:"expires_at" dynamodbav:"ExpiresAt,unixtime"`
	Payload   []byte         `json:"payload" dynamodbav:"Payload"`
}

// EventStore is the durable table. Put must be idempotent: writing a record
// whose composite key already exists is a successful no-op.
type EventStore interface {
	Put(ctx context.Context, rec Record) error
}

// EventBus fans recorded events out to real-time consumers. Best-effort.
type EventBus interface {
	Publish(ctx context.Context, rec Record) error
}

const defaultWriteRetries = 3

type Option func(*Recorder)

func WithWriteRetries(n int) Option {
	return func(r *Recorder) {
		if n >= 0 {
			r.retries = uint64(n)
		}
	}
}

// WithRetryDelay shortens the first retry backoff, used by tests.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Recorder) { r.retryDelay = d }
}

// Recorder persists one call's events in strict order and mirrors each one
// onto the bus. It is call-scoped: the ordering sequence is not shared.
// Record is safe for concurrent use; writes are serialized so sort keys
// stay unique and row order matches key order.
type Recorder struct {
	store      EventStore
	bus        EventBus
	callID     string
	ttl        time.Duration
	retries    uint64
	retryDelay time.Duration

	mu  sync.Mutex
	seq uint64

	onPublishFailure func()
}

func New(store EventStore, bus EventBus, callID string, ttl time.Duration, opts ...Option) *Recorder {
	r := &Recorder{
		store:      store,
		bus:        bus,
		callID:     callID,
		ttl:        ttl,
		retries:    defaultWriteRetries,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnPublishFailure installs a hook invoked whenever a best-effort publish
// fails, used to feed metrics.
func (r *Recorder) OnPublishFailure(fn func()) { r.onPublishFailure = fn }

// Record durably writes the event, then publishes it. The durable write is
// retried with backoff and must succeed before the event counts as
// processed; a publish failure is logged and swallowed since durability
// takes precedence over notification.
func (r *Recorder) Record(ctx context.Context, ev call.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec, err := r.toRecord(ev, fmt.Sprintf("E#%010d", r.seq))
	if err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryDelay
	op := func() error {
		if err := r.store.Put(ctx, rec); err != nil {
			slog.Warn("event record write failed; retrying",
				"call_id", r.callID, "sort_key", rec.SortKey, "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, r.retries), ctx)); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrStorageWrite, r.callID, rec.SortKey, err)
	}

	r.publish(ctx, rec)
	return nil
}

// Publish mirrors an event onto the bus without a durable write. Used for
// partial segments, which real-time consumers want but the table does not
// keep.
func (r *Recorder) Publish(ctx context.Context, ev call.Event) {
	rec, err := r.toRecord(ev, fmt.Sprintf("P#%s#%d", ev.Type, ev.At.UnixMilli()))
	if err != nil {
		slog.Warn("failed to encode event for publish", "call_id", r.callID, "error", err)
		return
	}
	r.publish(ctx, rec)
}

func (r *Recorder) publish(ctx context.Context, rec Record) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, rec); err != nil {
		slog.Warn("event publish failed; durable record already written",
			"call_id", r.callID, "sort_key", rec.SortKey, "error", err)
		if r.onPublishFailure != nil {
			r.onPublishFailure()
		}
	}
}

func (r *Recorder) toRecord(ev call.Event, sortKey string) (Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("encode event payload: %w", err)
	}
	return Record{
		CallID:    r.callID,
		SortKey:   sortKey,
		EventType: ev.Type,
		CreatedAt: ev.At,
		ExpiresAt: ev.At.Add(r.ttl).Unix(),
		Payload:   payload,
	}, nil
}
