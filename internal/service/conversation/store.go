package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medivoice/backend/internal/metrics"
	"github.com/medivoice/backend/internal/model/conversation"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// Store is the single source of truth for consultation sessions. Each session
// owns its transcript log and its subscriber set; both are guarded by the
// session's own mutex so independent sessions never serialize behind each
// other. The outer map has its own lock and is only held long enough to look
// a session up.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	metrics *metrics.Metrics
	now     func() time.Time
}

type sessionState struct {
	mu sync.Mutex

	id        string
	startTime time.Time
	endTime   *time.Time
	isActive  bool
	duration  float64
	entries   []conversation.TranscriptEntry
	analysis  *conversation.AnalysisResult
	subs      map[*Subscriber]struct{}
}

// NewStore bootstraps the in-memory session store. A nil metrics handle is
// allowed; instrumentation is then skipped.
func NewStore(m *metrics.Metrics) *Store {
	return &Store{
		sessions: make(map[string]*sessionState),
		metrics:  m,
		now:      time.Now,
	}
}

// getOrCreate returns the session record for id, creating it when missing.
func (s *Store) getOrCreate(id string) *sessionState {
	s.mu.RLock()
	state, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok = s.sessions[id]; ok {
		return state
	}

	state = &sessionState{
		id:        id,
		startTime: s.now().UTC(),
		isActive:  true,
		entries:   make([]conversation.TranscriptEntry, 0, 16),
		subs:      make(map[*Subscriber]struct{}),
	}
	s.sessions[id] = state

	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
		s.metrics.ActiveSessions.Inc()
	}
	log.Printf("[store] created session %s", id)
	return state
}

func (s *Store) lookup(id string) (*sessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	return state, ok
}

// CreateSession provisions a session if it does not exist yet. Calling it for
// a known id is a no-op and never resets the transcript log.
func (s *Store) CreateSession(_ context.Context, id string) {
	if id == "" {
		return
	}
	s.getOrCreate(id)
}

// AppendTranscript assigns an id and timestamp to the entry, appends it to the
// session log and fans it out to every subscriber. Unknown sessions are
// created implicitly so transcripts arriving before the signaling handshake
// completes are never discarded. Empty content is dropped without error to
// tolerate noisy upstream events. The returned bool reports whether the entry
// was stored.
func (s *Store) AppendTranscript(_ context.Context, sessionID string, role conversation.Role, content string) (conversation.TranscriptEntry, bool) {
	if sessionID == "" || !role.Valid() {
		log.Printf("[store] rejected transcript: session=%q role=%q", sessionID, role)
		return conversation.TranscriptEntry{}, false
	}
	if strings.TrimSpace(content) == "" {
		log.Printf("[store] skipped empty transcript for session %s", sessionID)
		return conversation.TranscriptEntry{}, false
	}

	state := s.getOrCreate(sessionID)

	entry := conversation.TranscriptEntry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	}

	// Append and fan-out happen under one lock so subscribers registered via
	// Subscribe never miss an entry and never see one twice.
	state.mu.Lock()
	state.entries = append(state.entries, entry)
	for sub := range state.subs {
		select {
		case sub.ch <- entry:
		default:
			sub.dropped++
			if s.metrics != nil {
				s.metrics.FanoutDrops.Inc()
			}
			log.Printf("[store] subscriber queue full, dropped entry for session %s (drops=%d)", sessionID, sub.dropped)
		}
	}
	count := len(state.entries)
	state.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TranscriptsStored.Inc()
	}
	log.Printf("[store] transcript #%d saved session=%s role=%s", count, sessionID, role)
	return entry, true
}

// EndSession marks the session inactive and fixes its duration, returning the
// final snapshot. Idempotent: ending an already-ended session changes nothing
// and returns the existing snapshot; an unknown session reports false.
// Negative durations from clock skew are clamped to zero and flagged in the
// log.
func (s *Store) EndSession(_ context.Context, id string) (conversation.Session, bool) {
	state, ok := s.lookup(id)
	if !ok {
		return conversation.Session{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.isActive {
		return state.snapshotLocked(), true
	}

	end := s.now().UTC()
	state.endTime = &end
	state.isActive = false

	duration := end.Sub(state.startTime).Seconds()
	if duration < 0 {
		log.Printf("[store] clock skew: negative duration for session %s, clamping to 0", id)
		duration = 0
	}
	state.duration = duration

	if s.metrics != nil {
		s.metrics.SessionsEnded.Inc()
		s.metrics.ActiveSessions.Dec()
		s.metrics.SessionDuration.Observe(duration)
	}
	log.Printf("[store] ended session %s (duration: %.1fs)", id, duration)
	return state.snapshotLocked(), true
}

// GetConversation returns a snapshot of the session. The caller never
// observes concurrent mutation through the returned value.
func (s *Store) GetConversation(_ context.Context, id string) (conversation.Session, error) {
	state, ok := s.lookup(id)
	if !ok {
		return conversation.Session{}, ErrSessionNotFound
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.snapshotLocked(), nil
}

// snapshotLocked copies the session state; callers must hold state.mu.
func (st *sessionState) snapshotLocked() conversation.Session {
	entries := make([]conversation.TranscriptEntry, len(st.entries))
	copy(entries, st.entries)

	snap := conversation.Session{
		ID:              st.id,
		StartTime:       st.startTime,
		IsActive:        st.isActive,
		DurationSeconds: st.duration,
		Transcripts:     entries,
	}
	if st.endTime != nil {
		end := *st.endTime
		snap.EndTime = &end
	}
	if st.analysis != nil {
		analysis := *st.analysis
		snap.Analysis = &analysis
	}
	return snap
}

// Summary returns the lightweight session view for status endpoints.
func (s *Store) Summary(_ context.Context, id string) (conversation.Summary, error) {
	state, ok := s.lookup(id)
	if !ok {
		return conversation.Summary{}, ErrSessionNotFound
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	summary := conversation.Summary{
		SessionID:       state.id,
		StartTime:       state.startTime,
		IsActive:        state.isActive,
		TranscriptCount: len(state.entries),
		DurationSeconds: state.duration,
	}
	if state.endTime != nil {
		end := *state.endTime
		summary.EndTime = &end
	}
	return summary, nil
}

// StoreAnalysis attaches the report to the session. Unknown sessions are
// logged and ignored: disconnect and finish can race, and a session cleaned
// up first is not an error. The first stored report wins.
func (s *Store) StoreAnalysis(_ context.Context, id string, result conversation.AnalysisResult) {
	state, ok := s.lookup(id)
	if !ok {
		log.Printf("[store] analysis for unknown session %s dropped", id)
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.analysis != nil {
		log.Printf("[store] analysis already stored for session %s, keeping first", id)
		return
	}
	state.analysis = &result
	log.Printf("[store] analysis stored for session %s", id)
}

// GetAnalysis returns the stored report, if any.
func (s *Store) GetAnalysis(_ context.Context, id string) (conversation.AnalysisResult, error) {
	state, ok := s.lookup(id)
	if !ok {
		return conversation.AnalysisResult{}, ErrSessionNotFound
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.analysis == nil {
		return conversation.AnalysisResult{}, ErrSessionNotFound
	}
	return *state.analysis, nil
}

// DeleteSession removes the session entirely and terminates its subscribers.
// The surrounding process calls this to bound resource usage once a finished
// session is no longer needed.
func (s *Store) DeleteSession(_ context.Context, id string) {
	s.mu.Lock()
	state, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	state.mu.Lock()
	if state.isActive && s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}
	for sub := range state.subs {
		delete(state.subs, sub)
		close(sub.ch)
		if s.metrics != nil {
			s.metrics.Subscribers.Dec()
		}
	}
	state.mu.Unlock()
	log.Printf("[store] deleted session %s", id)
}

// SessionCount reports the number of sessions currently held.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
