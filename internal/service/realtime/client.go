package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medivoice/backend/internal/metrics"
	"github.com/medivoice/backend/internal/model/conversation"
)

// State tracks the upstream connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConfiguring
	StateStreaming
	StateClosing
	StateClosed
	StateError
)

// String returns the lowercase state name for logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// TranscriptFunc receives completed transcripts from the upstream event loop.
// It is supplied at construction so the client can be tested against a fake
// sink and never reaches into the store directly.
type TranscriptFunc func(sessionID string, role conversation.Role, text string)

// ClientOptions carries the upstream connection parameters.
type ClientOptions struct {
	WSBaseURL         string // e.g. wss://api.openai.com/v1/realtime
	APIKey            string
	Model             string
	Voice             string
	Instructions      string
	MaxResponseTokens int
	HandshakeTimeout  time.Duration
}

// Client maintains one streaming connection to the upstream speech/LLM
// endpoint for a single session. Outbound audio is framed into protocol
// events; inbound events drive the state machine and the transcript callback.
type Client struct {
	sessionID    string
	opts         ClientOptions
	onTranscript TranscriptFunc
	dialer       *websocket.Dialer
	metrics      *metrics.Metrics

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}

	// Assistant deltas are buffered only for diagnostics; the done event is
	// the single source of truth and the buffer is discarded when it arrives.
	deltaBuf strings.Builder
}

// NewClient builds an upstream client for the given session. No connection is
// opened until Connect.
func NewClient(sessionID string, opts ClientOptions, onTranscript TranscriptFunc, m *metrics.Metrics) *Client {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	return &Client{
		sessionID:    sessionID,
		opts:         opts,
		onTranscript: onTranscript,
		metrics:      m,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		state: StateDisconnected,
		done:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev != next {
		log.Printf("[realtime] session=%s state %s -> %s", c.sessionID, prev, next)
	}
}

// Connect opens the upstream transport and sends the configuration handshake.
// On failure the client moves to the Error state and the caller decides the
// retry policy; the client never retries on its own.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect called in state %s", state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	wsURL := c.opts.WSBaseURL + "?model=" + c.opts.Model

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("failed to connect upstream realtime endpoint: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConfiguring
	c.mu.Unlock()
	log.Printf("[realtime] session=%s connected upstream", c.sessionID)

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(loopCtx, conn)

	if err := c.sendConfiguration(conn); err != nil {
		c.Disconnect()
		c.setState(StateError)
		return fmt.Errorf("failed to send session configuration: %w", err)
	}

	return nil
}

// sendConfiguration writes the fixed session.update handshake.
func (c *Client) sendConfiguration(conn *websocket.Conn) error {
	instructions := c.opts.Instructions
	if instructions == "" {
		instructions = "You are a medical intake assistant. Listen to the patient, ask clarifying questions about their symptoms and respond with audio."
	}
	voice := c.opts.Voice
	if voice == "" {
		voice = "alloy"
	}
	maxTokens := c.opts.MaxResponseTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	event := sessionUpdateEvent{
		Type: "session.update",
		Session: sessionOptions{
			Modalities:              []string{"text", "audio"},
			Instructions:            instructions,
			Voice:                   voice,
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: transcriptionOpts{Model: "whisper-1"},
			TurnDetection: turnDetectionOpts{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: 500,
			},
			Temperature:             0.8,
			MaxResponseOutputTokens: maxTokens,
		},
	}

	return c.writeJSON(conn, event)
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// SendAudio forwards one raw PCM16 frame upstream. Audio arriving outside the
// Streaming window is common around session start/stop and is dropped with a
// warning rather than treated as an error.
func (c *Client) SendAudio(data []byte) {
	c.mu.Lock()
	state := c.state
	conn := c.conn
	c.mu.Unlock()

	if state != StateStreaming || conn == nil {
		log.Printf("[realtime] session=%s dropping %d audio bytes in state %s", c.sessionID, len(data), state)
		return
	}

	event := audioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(data),
	}
	if err := c.writeJSON(conn, event); err != nil {
		log.Printf("[realtime] session=%s audio write failed: %v", c.sessionID, err)
	}
}

// readLoop consumes upstream events until the connection closes. A malformed
// event is logged and skipped; the loop only terminates on transport close or
// cancellation, so one bad event can never kill the session.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.state == StateClosing || c.state == StateClosed
			c.mu.Unlock()
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[realtime] session=%s upstream connection closed", c.sessionID)
			} else {
				log.Printf("[realtime] session=%s read error: %v", c.sessionID, err)
			}
			c.setState(StateClosed)
			return
		}

		event, err := decodeEvent(data)
		if err != nil {
			log.Printf("[realtime] session=%s undecodable event skipped: %v", c.sessionID, err)
			continue
		}

		c.handleEvent(event)
	}
}

// handleEvent dispatches one inbound upstream event.
func (c *Client) handleEvent(event upstreamEvent) {
	if c.metrics != nil {
		c.metrics.UpstreamEvents.WithLabelValues(event.Type).Inc()
	}

	switch event.Type {
	case eventSessionCreated:
		id := ""
		if event.Session != nil {
			id = event.Session.ID
		}
		log.Printf("[realtime] session=%s upstream session created: %s", c.sessionID, id)

	case eventSessionUpdated:
		// Configuration acknowledged; audio may flow now.
		c.mu.Lock()
		if c.state == StateConfiguring {
			c.state = StateStreaming
		}
		c.mu.Unlock()
		log.Printf("[realtime] session=%s upstream session configured", c.sessionID)

	case eventSpeechStarted:
		log.Printf("[realtime] session=%s speech started", c.sessionID)

	case eventSpeechStopped:
		log.Printf("[realtime] session=%s speech stopped", c.sessionID)

	case eventUserTranscriptCompleted:
		if event.Transcript == "" {
			log.Printf("[realtime] session=%s empty user transcript skipped", c.sessionID)
			return
		}
		if c.onTranscript != nil {
			c.onTranscript(c.sessionID, conversation.RoleUser, event.Transcript)
		}

	case eventAssistantDelta:
		// Partial text is not authoritative; keep it only until the done
		// event replaces it.
		c.deltaBuf.WriteString(event.Delta)

	case eventAssistantDone:
		c.deltaBuf.Reset()
		if event.Transcript == "" {
			log.Printf("[realtime] session=%s empty assistant transcript skipped", c.sessionID)
			return
		}
		if c.onTranscript != nil {
			c.onTranscript(c.sessionID, conversation.RoleAssistant, event.Transcript)
		}

	case eventAudioDelta:
		// Synthesized audio flows to the client over the media transport,
		// not through this server.

	case eventError:
		if event.Error != nil {
			log.Printf("[realtime] session=%s upstream error %s: %s", c.sessionID, event.Error.Code, event.Error.Message)
		} else {
			log.Printf("[realtime] session=%s upstream error event without detail", c.sessionID)
		}
		c.setState(StateError)

	default:
		log.Printf("[realtime] session=%s ignoring event type %q", c.sessionID, event.Type)
	}
}

// Disconnect closes the transport and stops the event loop. Valid from any
// state and idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()

		select {
		case <-c.done:
		case <-time.After(2 * time.Second):
		}
	}

	c.setState(StateClosed)
	log.Printf("[realtime] session=%s disconnected upstream", c.sessionID)
}
