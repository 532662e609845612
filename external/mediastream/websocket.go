package mediastream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calldeck/callscribe/internal/call"
	"github.com/calldeck/callscribe/internal/mediastream"
)

// mediaFrame is one JSON message on a leg's media socket. Payload is
// base64-encoded PCM, which encoding/json maps onto []byte directly.
type mediaFrame struct {
	Event    string `json:"event"` // start | media | stop
	Leg      string `json:"leg"`
	Seq      uint64 `json:"seq"`
	OffsetMS int64  `json:"offset_ms"`
	Payload  []byte `json:"payload"`
}

// WebsocketSource attaches to media streams over one websocket per leg.
type WebsocketSource struct {
	dialer *websocket.Dialer
}

func NewWebsocketSource() *WebsocketSource {
	return &WebsocketSource{dialer: websocket.DefaultDialer}
}

func (s *WebsocketSource) Open(ctx context.Context, ref mediastream.StreamRef) (mediastream.LegReader, error) {
	conn, _, err := s.dialer.DialContext(ctx, ref.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s leg stream: %w", ref.Leg, err)
	}
	r := &websocketLegReader{conn: conn, ref: ref, closed: make(chan struct{})}
	// Reads have no context hook of their own; cancelling the call tears
	// the socket down so a blocked read returns.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-r.closed:
		}
	}()
	return r, nil
}

type websocketLegReader struct {
	conn   *websocket.Conn
	ref    mediastream.StreamRef
	closed chan struct{}
}

func (r *websocketLegReader) Next(ctx context.Context) (call.AudioChunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return call.AudioChunk{}, err
		}
		var frame mediaFrame
		if err := r.conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return call.AudioChunk{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return call.AudioChunk{}, mediastream.ErrEndOfStream
			}
			return call.AudioChunk{}, fmt.Errorf("read %s leg frame: %w", r.ref.Leg, err)
		}
		switch frame.Event {
		case "start":
			slog.Debug("leg stream started",
				"call_id", r.ref.CallID, "leg", r.ref.Leg, "seq", frame.Seq)
		case "media":
			if len(frame.Payload) == 0 {
				continue
			}
			return call.AudioChunk{
				Leg:    r.ref.Leg,
				Offset: time.Duration(frame.OffsetMS) * time.Millisecond,
				PCM:    frame.Payload,
			}, nil
		case "stop":
			return call.AudioChunk{}, mediastream.ErrEndOfStream
		default:
			slog.Debug("ignoring unknown media event",
				"call_id", r.ref.CallID, "leg", r.ref.Leg, "event", frame.Event)
		}
	}
}

func (r *websocketLegReader) Close() error {
	close(r.closed)
	deadline := time.Now().Add(time.Second)
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return r.conn.Close()
}
