package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medivoice/backend/internal/model/conversation"
)

type transcriptRecorder struct {
	mu      sync.Mutex
	entries []recordedTranscript
}

type recordedTranscript struct {
	sessionID string
	role      conversation.Role
	text      string
}

func (r *transcriptRecorder) record(sessionID string, role conversation.Role, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedTranscript{sessionID, role, text})
}

func (r *transcriptRecorder) snapshot() []recordedTranscript {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedTranscript, len(r.entries))
	copy(out, r.entries)
	return out
}

// fakeUpstream runs a websocket endpoint that acknowledges the configuration
// handshake and then replays the scripted events.
func fakeUpstream(t *testing.T, script []string) (*httptest.Server, chan map[string]any) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	configs := make(chan map[string]any, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("missing protocol header, got %q", got)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("missing bearer token")
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var configured map[string]any
		if err := conn.ReadJSON(&configured); err != nil {
			t.Errorf("failed to read configuration: %v", err)
			return
		}
		configs <- configured

		if err := conn.WriteJSON(map[string]any{"type": "session.updated"}); err != nil {
			return
		}
		for _, raw := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
				return
			}
		}

		// Hold the connection open until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	return server, configs
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client never reached state %s, stuck at %s", want, c.State())
}

func TestClientHandshakeAndTranscripts(t *testing.T) {
	script := []string{
		`{"type":"session.created","session":{"id":"sess_abc"}}`,
		`{"type":"input_audio_buffer.speech_started"}`,
		`{"type":"conversation.item.input_audio_transcription.completed","transcript":"my head hurts"}`,
		`{"type":"response.audio_transcript.delta","delta":"take "}`,
		`{"type":"response.audio_transcript.delta","delta":"care"}`,
		`{"type":"response.audio_transcript.done","transcript":"take care of yourself"}`,
	}
	server, configs := fakeUpstream(t, script)
	defer server.Close()

	rec := &transcriptRecorder{}
	client := NewClient("local-1", ClientOptions{
		WSBaseURL: wsURL(server),
		APIKey:    "test-key",
		Model:     "gpt-4o-realtime-preview",
	}, rec.record, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	configured := <-configs
	if configured["type"] != "session.update" {
		t.Errorf("expected session.update handshake, got %v", configured["type"])
	}
	session, _ := configured["session"].(map[string]any)
	if session["input_audio_format"] != "pcm16" {
		t.Errorf("unexpected input format: %v", session["input_audio_format"])
	}

	waitForState(t, client, StateStreaming)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries := rec.snapshot()
	if len(entries) != 2 {
		t.Fatalf("expected 2 transcripts, got %d: %+v", len(entries), entries)
	}
	if entries[0].role != conversation.RoleUser || entries[0].text != "my head hurts" {
		t.Errorf("unexpected user transcript: %+v", entries[0])
	}
	// Deltas are never surfaced; only the done event counts.
	if entries[1].role != conversation.RoleAssistant || entries[1].text != "take care of yourself" {
		t.Errorf("unexpected assistant transcript: %+v", entries[1])
	}
}

func TestClientSurvivesUnknownAndMalformedEvents(t *testing.T) {
	script := []string{
		`{"type":"some.future.event","payload":{"x":1}}`,
		`this is not json`,
		`{"type":"response.audio.delta","delta":"QUJD"}`,
		`{"type":"conversation.item.input_audio_transcription.completed","transcript":"still here"}`,
	}
	server, configs := fakeUpstream(t, script)
	defer server.Close()

	rec := &transcriptRecorder{}
	client := NewClient("local-2", ClientOptions{
		WSBaseURL: wsURL(server),
		APIKey:    "test-key",
		Model:     "gpt-4o-realtime-preview",
	}, rec.record, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()
	<-configs

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries := rec.snapshot()
	if len(entries) != 1 || entries[0].text != "still here" {
		t.Fatalf("transcript after bad events missing: %+v", entries)
	}
	if client.State() != StateStreaming {
		t.Errorf("bad events must not change state, got %s", client.State())
	}
}

func TestClientErrorEventMovesToErrorState(t *testing.T) {
	script := []string{
		`{"type":"error","error":{"type":"invalid_request_error","code":"bad_audio","message":"nope"}}`,
	}
	server, configs := fakeUpstream(t, script)
	defer server.Close()

	client := NewClient("local-3", ClientOptions{
		WSBaseURL: wsURL(server),
		APIKey:    "test-key",
		Model:     "gpt-4o-realtime-preview",
	}, nil, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()
	<-configs

	waitForState(t, client, StateError)
}

func TestClientConnectRejectsReuse(t *testing.T) {
	server, configs := fakeUpstream(t, nil)
	defer server.Close()

	client := NewClient("local-4", ClientOptions{
		WSBaseURL: wsURL(server),
		APIKey:    "test-key",
		Model:     "gpt-4o-realtime-preview",
	}, nil, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	<-configs

	if err := client.Connect(context.Background()); err == nil {
		t.Error("second Connect must fail")
	}

	client.Disconnect()
	client.Disconnect() // idempotent

	if client.State() != StateClosed {
		t.Errorf("expected Closed after Disconnect, got %s", client.State())
	}
}

func TestSendAudioOutsideStreamingIsDropped(t *testing.T) {
	client := NewClient("local-5", ClientOptions{
		WSBaseURL: "ws://127.0.0.1:1",
		APIKey:    "test-key",
		Model:     "gpt-4o-realtime-preview",
	}, nil, nil)

	// Disconnected client: must not panic, must not send.
	client.SendAudio([]byte{0x01, 0x02})

	if client.State() != StateDisconnected {
		t.Errorf("unexpected state %s", client.State())
	}
}

func TestDecodeEvent(t *testing.T) {
	raw := `{"type":"response.audio_transcript.done","transcript":"bye"}`
	event, err := decodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decodeEvent failed: %v", err)
	}
	if event.Type != eventAssistantDone || event.Transcript != "bye" {
		t.Errorf("unexpected event: %+v", event)
	}

	if _, err := decodeEvent([]byte("{")); err == nil {
		t.Error("expected error for truncated JSON")
	}

	var buf []byte
	buf = append(buf, []byte(`{"type":"error","error":{"code":"x","message":"y"}}`)...)
	event, err = decodeEvent(buf)
	if err != nil {
		t.Fatalf("decodeEvent failed: %v", err)
	}
	if event.Error == nil || event.Error.Code != "x" {
		t.Errorf("error detail not decoded: %+v", event.Error)
	}
}
