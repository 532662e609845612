package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/calldeck/callscribe/internal/call"
)

// StreamConfig fixes the transcription options for a call's lifetime. It is
// built once from deployment configuration; nothing here changes per frame.
type StreamConfig struct {
	CallID           string
	Language         string
	SampleRate       int
	Channels         int
	RedactionEnabled bool
	RedactionType    string
	PIIEntityTypes   []string
	VocabularyName   string
}

// BytesPerSecond is the audio byte rate implied by the stream config.
func (c StreamConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * 2
}

// Receiver gets transcription results as they arrive. OnDone fires when the
// service has delivered its last result after the stream was closed.
type Receiver interface {
	OnSegment(seg call.TranscriptSegment)
	OnError(err error)
	OnDone()
}

// SessionWriter is one live stream to the speech service.
type SessionWriter interface {
	Send(pcm []byte) error
	Close() error
}

// Streamer opens streaming recognition sessions. Implementations tag each
// result with the leg derived from its channel and report transient
// service-side failures via MarkRecoverable so the session can reconnect.
type Streamer interface {
	Start(ctx context.Context, cfg StreamConfig, recv Receiver) (SessionWriter, error)
}

// ErrSessionFailure means the reconnect ceiling was exceeded or the service
// failed in a way no retry can fix. Fatal for the call.
var ErrSessionFailure = errors.New("transcription session failure")

// ErrSessionClosed is returned by Send after the session began draining.
var ErrSessionClosed = errors.New("transcription session closed")

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string { return fmt.Sprintf("recoverable: %v", e.err) }
func (e *recoverableError) Unwrap() error { return e.err }

// MarkRecoverable tags an error as a transient stream failure (service
// session expiry, idle timeout, broken transport) that warrants a reconnect
// rather than call failure.
func MarkRecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &recoverableError{err: err}
}

func IsRecoverable(err error) bool {
	var re *recoverableError
	return errors.As(err, &re)
}
