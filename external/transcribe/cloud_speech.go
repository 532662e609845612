package transcribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/calldeck/callscribe/internal/call"
	"github.com/calldeck/callscribe/internal/transcribe"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
}

// CloudSpeechStreamer opens Google Cloud Speech v2 streaming sessions with
// separate recognition per channel, mapping channel tags back onto legs.
// Content redaction is not available on this provider and is ignored.
type CloudSpeechStreamer struct {
	cfg CloudSpeechConfig
}

func NewCloudSpeechStreamer(cfg CloudSpeechConfig) transcribe.Streamer {
	cfg.Location = strings.TrimSpace(cfg.Location)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Location == "" {
		cfg.Location = "global"
	}
	return &CloudSpeechStreamer{cfg: cfg}
}

func (t *CloudSpeechStreamer) Start(ctx context.Context, scfg transcribe.StreamConfig, recv transcribe.Receiver) (transcribe.SessionWriter, error) {
	if scfg.RedactionEnabled {
		slog.Warn("content redaction is not supported by the google provider; transcribing unredacted",
			"call_id", scfg.CallID)
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if t.cfg.Location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.cfg.Location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	recognizer := fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.cfg.ProjectID, t.cfg.Location)
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         t.cfg.Model,
					LanguageCodes: []string{scfg.Language},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   int32(scfg.SampleRate),
							AudioChannelCount: int32(scfg.Channels),
						},
					},
					Features: &speechpb.RecognitionFeatures{
						MultiChannelMode:      speechpb.RecognitionFeatures_SEPARATE_RECOGNITION_PER_CHANNEL,
						EnableWordTimeOffsets: true,
						EnableWordConfidence:  true,
					},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
			},
		},
	}); err != nil {
		_ = stream.CloseSend()
		_ = client.Close()
		return nil, err
	}
	slog.Info("cloud speech stream initialized", "call_id", scfg.CallID, "location", t.cfg.Location)

	go t.receiveLoop(scfg, client, stream, recv)
	return &cloudSpeechWriter{stream: stream}, nil
}

type cloudSpeechWriter struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (w *cloudSpeechWriter) Send(pcm []byte) error {
	err := w.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: pcm},
	})
	if err != nil && isReconnectableStreamError(err) {
		return transcribe.MarkRecoverable(err)
	}
	return err
}

func (w *cloudSpeechWriter) Close() error {
	return w.stream.CloseSend()
}

func (t *CloudSpeechStreamer) receiveLoop(scfg transcribe.StreamConfig, client *speech.Client, stream speechpb.Speech_StreamingRecognizeClient, recv transcribe.Receiver) {
	defer func() { _ = client.Close() }()
	// The service reports only an end offset per result; starts are carried
	// by word offsets, with the previous final's end as the fallback.
	lastEnd := make(map[call.LegRole]time.Duration)
	for {
		resp, err := stream.Recv()
		if err != nil {
			switch {
			case err == io.EOF:
				recv.OnDone()
			case strings.Contains(err.Error(), "context canceled"):
				slog.Info("cloud speech receive loop stopped", "call_id", scfg.CallID)
			case isReconnectableStreamError(err):
				recv.OnError(transcribe.MarkRecoverable(err))
			default:
				recv.OnError(err)
			}
			return
		}
		for _, result := range resp.GetResults() {
			seg, ok := segmentFromStreamingResult(scfg, result, lastEnd)
			if !ok {
				continue
			}
			if !seg.IsPartial {
				lastEnd[seg.Leg] = seg.End
			}
			recv.OnSegment(seg)
		}
	}
}

func segmentFromStreamingResult(scfg transcribe.StreamConfig, result *speechpb.StreamingRecognitionResult, lastEnd map[call.LegRole]time.Duration) (call.TranscriptSegment, bool) {
	alts := result.GetAlternatives()
	if len(alts) == 0 || alts[0].GetTranscript() == "" {
		return call.TranscriptSegment{}, false
	}
	alt := alts[0]

	leg := call.LegCaller
	if int(result.GetChannelTag()) == call.LegAgent.ChannelIndex()+1 {
		leg = call.LegAgent
	}

	seg := call.TranscriptSegment{
		CallID:    scfg.CallID,
		Leg:       leg,
		End:       result.GetResultEndOffset().AsDuration(),
		Text:      alt.GetTranscript(),
		IsPartial: !result.GetIsFinal(),
	}
	seg.Start = lastEnd[leg]
	for _, w := range alt.GetWords() {
		span := call.WordSpan{
			Start:      w.GetStartOffset().AsDuration(),
			End:        w.GetEndOffset().AsDuration(),
			Word:       w.GetWord(),
			Confidence: float64(w.GetConfidence()),
		}
		seg.Words = append(seg.Words, span)
	}
	if len(seg.Words) > 0 {
		seg.Start = seg.Words[0].Start
	}
	return seg, true
}

func isReconnectableStreamError(err error) bool {
	if err == io.EOF || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable:
		return true
	case codes.Aborted:
		msg := strings.ToLower(st.Message())
		return strings.Contains(msg, "max duration") ||
			strings.Contains(msg, "stream timed out")
	default:
		return false
	}
}
