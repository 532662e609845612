package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/calldeck/callscribe/internal/artifact"
	"github.com/calldeck/callscribe/internal/config"
	"github.com/calldeck/callscribe/internal/filter"
	"github.com/calldeck/callscribe/internal/mediastream"
	"github.com/calldeck/callscribe/internal/metrics"
	"github.com/calldeck/callscribe/internal/recorder"
	"github.com/calldeck/callscribe/internal/transcribe"
	"github.com/calldeck/callscribe/internal/worker"
)

// blockingSource holds every leg open until the call is cancelled, keeping
// the call in flight for the duration of the test.
type blockingSource struct{}

func (blockingSource) Open(ctx context.Context, _ mediastream.StreamRef) (mediastream.LegReader, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type nullStore struct{}

func (nullStore) Put(context.Context, recorder.Record) error { return nil }

type nullBus struct{}

func (nullBus) Publish(context.Context, recorder.Record) error { return nil }

type nullObjects struct{}

func (nullObjects) Put(context.Context, string, []byte, string) error { return nil }

type nullStreamer struct{}

func (nullStreamer) Start(context.Context, transcribe.StreamConfig, transcribe.Receiver) (transcribe.SessionWriter, error) {
	return nullWriter{}, nil
}

type nullWriter struct{}

func (nullWriter) Send([]byte) error { return nil }
func (nullWriter) Close() error      { return nil }

func testServer(t *testing.T) (*Server, *worker.Worker, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		ListenAddr:          ":0",
		TranscribeLanguage:  "en-US",
		AudioBufferFrames:   10,
		ProcessingTimeout:   2 * time.Second,
		LegSkewMax:          50 * time.Millisecond,
		StitchWindow:        50 * time.Millisecond,
		StitchMaxWait:       30 * time.Millisecond,
		DrainTimeout:        100 * time.Millisecond,
		RecordTTLDays:       90,
		MergedAudioPrefix:   "merged",
		LegAudioPrefix:      "legs",
		DefaultCallerNumber: "+18005550000",
	}
	writer := artifact.NewWriter(nullObjects{}, cfg.MergedAudioPrefix, cfg.LegAudioPrefix, false)
	w := worker.New(cfg, blockingSource{}, nullStreamer{}, nullStore{}, nullBus{}, writer,
		filter.AllowAll{}, metrics.New(prometheus.NewRegistry()))
	s := New(cfg, w)
	s.callCtx = context.Background()
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return s, w, srv
}

func postTrigger(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal trigger: %v", err)
	}
	resp, err := http.Post(url+"/calls", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST /calls: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleCalls_AcceptsTrigger(t *testing.T) {
	_, w, srv := testServer(t)

	resp := postTrigger(t, srv.URL, triggerRequest{
		CallID:       "call-1",
		CallerStream: "ws://media/caller",
		AgentStream:  "ws://media/agent",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	deadline := time.After(time.Second)
	for !w.InFlight("call-1") {
		select {
		case <-deadline:
			t.Fatal("accepted call never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHandleCalls_DuplicateConflicts(t *testing.T) {
	_, w, srv := testServer(t)

	trig := triggerRequest{
		CallID:       "call-dup",
		CallerStream: "ws://media/caller",
		AgentStream:  "ws://media/agent",
	}
	if resp := postTrigger(t, srv.URL, trig); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", resp.StatusCode)
	}
	deadline := time.After(time.Second)
	for !w.InFlight("call-dup") {
		select {
		case <-deadline:
			t.Fatal("first call never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if resp := postTrigger(t, srv.URL, trig); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}
}

func TestHandleCalls_MalformedTrigger(t *testing.T) {
	_, _, srv := testServer(t)

	resp, err := http.Post(srv.URL+"/calls", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST /calls: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestHandleCalls_MissingStreams(t *testing.T) {
	_, _, srv := testServer(t)

	resp := postTrigger(t, srv.URL, triggerRequest{CallID: "call-2"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestHandleCalls_RejectsGet(t *testing.T) {
	_, _, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/calls")
	if err != nil {
		t.Fatalf("GET /calls: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	_, _, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
