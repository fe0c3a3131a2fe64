package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/medivoice/backend/internal/metrics"
)

var (
	ErrUpstreamAuth             = errors.New("upstream rejected credential request")
	ErrSignalingSessionNotFound = errors.New("signaling session not found")
	ErrBadAnswer                = errors.New("upstream returned malformed answer")
)

// SignalingOptions carries the REST-side upstream parameters.
type SignalingOptions struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string
	Voice   string
	Timeout time.Duration
}

// SessionTicket is returned to the downstream client so it can open the media
// transport directly against the upstream provider.
type SessionTicket struct {
	SessionID         string `json:"session_id"`
	UpstreamSessionID string `json:"openai_session_id"`
	ClientSecret      struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

type ephemeralCredential struct {
	secret    string
	upstream  string
	expiresAt int64
}

// SignalingRelay negotiates ephemeral credentials and relays the one-shot
// session-description handshake. It holds no media state; it only gates when
// an upstream streaming connection may be established for a session.
type SignalingRelay struct {
	opts    SignalingOptions
	client  *http.Client
	metrics *metrics.Metrics

	mu          sync.Mutex
	credentials map[string]*ephemeralCredential
}

// NewSignalingRelay builds a relay against the configured upstream provider.
func NewSignalingRelay(opts SignalingOptions, m *metrics.Metrics) *SignalingRelay {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SignalingRelay{
		opts:        opts,
		client:      &http.Client{Timeout: timeout},
		metrics:     m,
		credentials: make(map[string]*ephemeralCredential),
	}
}

// CreateSession obtains a short-lived client secret from the upstream
// provider and records it against the local session id.
func (r *SignalingRelay) CreateSession(ctx context.Context, sessionID string) (SessionTicket, error) {
	payload, err := json.Marshal(map[string]any{
		"model": r.opts.Model,
		"voice": r.voice(),
	})
	if err != nil {
		return SessionTicket{}, fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.BaseURL+"/realtime/sessions", bytes.NewReader(payload))
	if err != nil {
		return SessionTicket{}, fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.countFailure()
		return SessionTicket{}, fmt.Errorf("ephemeral session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		r.countFailure()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("[signaling] ephemeral session rejected: %d %s", resp.StatusCode, string(body))
		return SessionTicket{}, fmt.Errorf("%w: status %d", ErrUpstreamAuth, resp.StatusCode)
	}

	var upstream struct {
		ID           string `json:"id"`
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&upstream); err != nil {
		r.countFailure()
		return SessionTicket{}, fmt.Errorf("failed to decode session response: %w", err)
	}
	if upstream.ClientSecret.Value == "" {
		r.countFailure()
		return SessionTicket{}, fmt.Errorf("%w: empty client secret", ErrUpstreamAuth)
	}

	r.mu.Lock()
	r.credentials[sessionID] = &ephemeralCredential{
		secret:    upstream.ClientSecret.Value,
		upstream:  upstream.ID,
		expiresAt: upstream.ClientSecret.ExpiresAt,
	}
	r.mu.Unlock()

	log.Printf("[signaling] ephemeral session created session=%s upstream=%s", sessionID, upstream.ID)

	ticket := SessionTicket{SessionID: sessionID, UpstreamSessionID: upstream.ID}
	ticket.ClientSecret.Value = upstream.ClientSecret.Value
	ticket.ClientSecret.ExpiresAt = upstream.ClientSecret.ExpiresAt
	return ticket, nil
}

// RelayOffer forwards the SDP offer using the session's ephemeral credential
// and returns the upstream answer verbatim. The answer only gets a minimal
// structural check; the media negotiation itself is between the two peers.
func (r *SignalingRelay) RelayOffer(ctx context.Context, sessionID, offerSDP string) (string, error) {
	r.mu.Lock()
	cred, ok := r.credentials[sessionID]
	r.mu.Unlock()
	if !ok {
		return "", ErrSignalingSessionNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.BaseURL+"/realtime?model="+r.opts.Model, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("failed to build offer request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.secret)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := r.client.Do(req)
	if err != nil {
		r.countFailure()
		return "", fmt.Errorf("offer relay failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.countFailure()
		return "", fmt.Errorf("failed to read answer: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		r.countFailure()
		log.Printf("[signaling] offer rejected session=%s: %d %s", sessionID, resp.StatusCode, string(body))
		return "", fmt.Errorf("%w: status %d", ErrUpstreamAuth, resp.StatusCode)
	}

	answer := string(body)
	if !strings.HasPrefix(strings.TrimSpace(answer), "v=0") {
		r.countFailure()
		return "", fmt.Errorf("%w: missing v=0 marker", ErrBadAnswer)
	}

	log.Printf("[signaling] answer relayed session=%s bytes=%d", sessionID, len(answer))
	return answer, nil
}

// Teardown releases the credential record. The caller pairs this with
// Store.EndSession; the two lifecycles are coupled there, not here.
func (r *SignalingRelay) Teardown(sessionID string) {
	r.mu.Lock()
	_, existed := r.credentials[sessionID]
	delete(r.credentials, sessionID)
	r.mu.Unlock()
	if existed {
		log.Printf("[signaling] credential released session=%s", sessionID)
	}
}

// HasSession reports whether a credential is recorded for the session.
func (r *SignalingRelay) HasSession(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.credentials[sessionID]
	return ok
}

func (r *SignalingRelay) voice() string {
	if r.opts.Voice == "" {
		return "alloy"
	}
	return r.opts.Voice
}

func (r *SignalingRelay) countFailure() {
	if r.metrics != nil {
		r.metrics.SignalingFailures.Inc()
	}
}
