package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"github.com/calldeck/callscribe/internal/call"
	"github.com/calldeck/callscribe/internal/transcribe"
)

// channel identifiers assigned by the service when channel identification
// is enabled on a two-channel stream.
const (
	awsCallerChannel = "ch_0"
	awsAgentChannel  = "ch_1"
)

// AWSStreamer opens Amazon Transcribe streaming sessions with channel
// identification, so each leg of the interleaved stream is recognized
// separately.
type AWSStreamer struct {
	client *transcribestreaming.Client
}

func NewAWSStreamer(client *transcribestreaming.Client) transcribe.Streamer {
	return &AWSStreamer{client: client}
}

func (s *AWSStreamer) Start(ctx context.Context, cfg transcribe.StreamConfig, recv transcribe.Receiver) (transcribe.SessionWriter, error) {
	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:                types.LanguageCode(cfg.Language),
		MediaEncoding:               types.MediaEncodingPcm,
		MediaSampleRateHertz:        aws.Int32(int32(cfg.SampleRate)),
		EnableChannelIdentification: cfg.Channels > 1,
	}
	if cfg.Channels > 1 {
		input.NumberOfChannels = aws.Int32(int32(cfg.Channels))
	}
	if cfg.VocabularyName != "" {
		input.VocabularyName = aws.String(cfg.VocabularyName)
	}
	if cfg.RedactionEnabled {
		input.ContentRedactionType = types.ContentRedactionType(cfg.RedactionType)
		if len(cfg.PIIEntityTypes) > 0 {
			input.PiiEntityTypes = aws.String(strings.Join(cfg.PIIEntityTypes, ","))
		}
	}

	out, err := s.client.StartStreamTranscription(ctx, input)
	if err != nil {
		if isRetryableAWSError(err) {
			err = transcribe.MarkRecoverable(err)
		}
		return nil, fmt.Errorf("start transcribe stream: %w", err)
	}

	stream := out.GetStream()
	w := &awsSessionWriter{ctx: ctx, stream: stream}
	go receiveLoop(cfg, stream, recv)
	return w, nil
}

type awsSessionWriter struct {
	ctx    context.Context
	stream *transcribestreaming.StartStreamTranscriptionEventStream
}

func (w *awsSessionWriter) Send(pcm []byte) error {
	err := w.stream.Send(w.ctx, &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: pcm},
	})
	if err != nil && isRetryableAWSError(err) {
		return transcribe.MarkRecoverable(err)
	}
	return err
}

func (w *awsSessionWriter) Close() error {
	return w.stream.Close()
}

func receiveLoop(cfg transcribe.StreamConfig, stream *transcribestreaming.StartStreamTranscriptionEventStream, recv transcribe.Receiver) {
	for event := range stream.Events() {
		te, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok {
			slog.Debug("ignoring unknown transcript stream event", "call_id", cfg.CallID)
			continue
		}
		if te.Value.Transcript == nil {
			continue
		}
		for _, result := range te.Value.Transcript.Results {
			seg, ok := segmentFromResult(cfg, result)
			if !ok {
				continue
			}
			recv.OnSegment(seg)
		}
	}
	if err := stream.Err(); err != nil {
		if isRetryableAWSError(err) {
			err = transcribe.MarkRecoverable(err)
		}
		recv.OnError(err)
		return
	}
	recv.OnDone()
}

func segmentFromResult(cfg transcribe.StreamConfig, result types.Result) (call.TranscriptSegment, bool) {
	if len(result.Alternatives) == 0 {
		return call.TranscriptSegment{}, false
	}
	alt := result.Alternatives[0]
	text := aws.ToString(alt.Transcript)
	if text == "" {
		return call.TranscriptSegment{}, false
	}

	seg := call.TranscriptSegment{
		ID:        aws.ToString(result.ResultId),
		CallID:    cfg.CallID,
		Leg:       legFromChannel(aws.ToString(result.ChannelId)),
		Start:     secondsToDuration(result.StartTime),
		End:       secondsToDuration(result.EndTime),
		Text:      text,
		IsPartial: result.IsPartial,
	}
	// With redaction on, the service only ever returns redacted transcripts.
	if cfg.RedactionEnabled {
		seg.RedactedText = text
	}
	for _, item := range alt.Items {
		if item.Type != types.ItemTypePronunciation {
			continue
		}
		seg.Words = append(seg.Words, call.WordSpan{
			Start:      secondsToDuration(item.StartTime),
			End:        secondsToDuration(item.EndTime),
			Word:       aws.ToString(item.Content),
			Confidence: aws.ToFloat64(item.Confidence),
		})
	}
	return seg, true
}

func legFromChannel(channel string) call.LegRole {
	if channel == awsAgentChannel {
		return call.LegAgent
	}
	return call.LegCaller
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func isRetryableAWSError(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var internal *types.InternalFailureException
	var unavailable *types.ServiceUnavailableException
	var limit *types.LimitExceededException
	if errors.As(err, &internal) || errors.As(err, &unavailable) || errors.As(err, &limit) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}
