package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/medivoice/backend/internal/metrics"
	"github.com/medivoice/backend/internal/model/conversation"
)

var (
	ErrStreamNotFound = errors.New("no upstream stream for session")
	ErrStreamExists   = errors.New("upstream stream already running")
)

// Store is the slice of the conversation service the manager needs. Kept
// narrow so tests can hand in a recording fake.
type Store interface {
	AppendTranscript(ctx context.Context, sessionID string, role conversation.Role, content string) (conversation.TranscriptEntry, bool)
}

// Manager owns the upstream streaming clients, one per session. Handlers talk
// to the manager; they never hold a Client directly.
type Manager struct {
	opts    ClientOptions
	store   Store
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager builds a manager that appends every completed transcript to the
// given store.
func NewManager(opts ClientOptions, store Store, m *metrics.Metrics) *Manager {
	return &Manager{
		opts:    opts,
		store:   store,
		metrics: m,
		clients: make(map[string]*Client),
	}
}

// StartSession opens an upstream connection for the session. Starting a
// session that already has a live client is an error; callers must stop the
// old stream first.
func (m *Manager) StartSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if _, exists := m.clients[sessionID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, ErrStreamExists)
	}
	m.mu.Unlock()

	onTranscript := func(id string, role conversation.Role, text string) {
		m.store.AppendTranscript(context.Background(), id, role, text)
	}

	client := NewClient(sessionID, m.opts, onTranscript, m.metrics)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.clients[sessionID]; exists {
		// Lost the race to a concurrent starter; the existing stream wins.
		m.mu.Unlock()
		client.Disconnect()
		return fmt.Errorf("session %s: %w", sessionID, ErrStreamExists)
	}
	m.clients[sessionID] = client
	m.mu.Unlock()

	log.Printf("[realtime] session=%s upstream stream started", sessionID)
	return nil
}

// EnsureSession starts the upstream stream for the session unless one is
// already live. Called on the audio ingress path for every frame, so an
// existing stream and a lost start race are both success.
func (m *Manager) EnsureSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	_, exists := m.clients[sessionID]
	m.mu.Unlock()
	if exists {
		return nil
	}

	if err := m.StartSession(ctx, sessionID); err != nil && !errors.Is(err, ErrStreamExists) {
		return err
	}
	return nil
}

// SendAudio forwards one audio frame to the session's upstream client.
func (m *Manager) SendAudio(sessionID string, data []byte) error {
	m.mu.Lock()
	client, ok := m.clients[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrStreamNotFound
	}
	client.SendAudio(data)
	return nil
}

// StreamState reports the lifecycle state of the session's upstream client.
func (m *Manager) StreamState(sessionID string) (State, bool) {
	m.mu.Lock()
	client, ok := m.clients[sessionID]
	m.mu.Unlock()
	if !ok {
		return StateDisconnected, false
	}
	return client.State(), true
}

// StopSession tears down the session's upstream client. Idempotent.
func (m *Manager) StopSession(sessionID string) {
	m.mu.Lock()
	client, ok := m.clients[sessionID]
	delete(m.clients, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	client.Disconnect()
	log.Printf("[realtime] session=%s upstream stream stopped", sessionID)
}

// StopAll disconnects every live client, used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for id, client := range m.clients {
		clients = append(clients, client)
		delete(m.clients, id)
	}
	m.mu.Unlock()

	for _, client := range clients {
		client.Disconnect()
	}
}

// ActiveStreams reports how many upstream clients are currently held.
func (m *Manager) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
