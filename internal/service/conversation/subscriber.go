package conversation

import (
	"context"

	"github.com/medivoice/backend/internal/model/conversation"
)

// subscriberQueueSize bounds each delivery queue. A viewer that cannot keep
// up loses entries rather than stalling the producer; the transcript log
// remains the authoritative record and can be replayed in full at any time.
const subscriberQueueSize = 100

// Subscriber is a bounded delivery queue owned by exactly one downstream
// connection for the lifetime of its subscription.
type Subscriber struct {
	ch      chan conversation.TranscriptEntry
	dropped uint64
}

// Events exposes the live queue. The channel is closed on Unsubscribe or when
// the session is deleted, which terminates the caller's drain loop.
func (sub *Subscriber) Events() <-chan conversation.TranscriptEntry {
	return sub.ch
}

// Subscribe registers a new queue under the session and returns it together
// with a snapshot of the entries appended so far. Registration and snapshot
// are taken under the session lock, so every entry is either in the snapshot
// or will arrive on the queue, never both and never neither. Unknown sessions
// are created implicitly, matching AppendTranscript's lazy-create policy.
func (s *Store) Subscribe(_ context.Context, sessionID string) (*Subscriber, []conversation.TranscriptEntry) {
	state := s.getOrCreate(sessionID)

	sub := &Subscriber{ch: make(chan conversation.TranscriptEntry, subscriberQueueSize)}

	state.mu.Lock()
	snapshot := make([]conversation.TranscriptEntry, len(state.entries))
	copy(snapshot, state.entries)
	state.subs[sub] = struct{}{}
	state.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Subscribers.Inc()
	}
	return sub, snapshot
}

// Unsubscribe removes the queue and closes it. Idempotent: unsubscribing a
// queue that is already gone is a no-op.
func (s *Store) Unsubscribe(_ context.Context, sessionID string, sub *Subscriber) {
	if sub == nil {
		return
	}

	state, ok := s.lookup(sessionID)
	if !ok {
		return
	}

	state.mu.Lock()
	_, registered := state.subs[sub]
	if registered {
		delete(state.subs, sub)
		// Closing under the session lock is safe: fan-out sends also hold it,
		// so no send can race the close.
		close(sub.ch)
	}
	state.mu.Unlock()

	if registered && s.metrics != nil {
		s.metrics.Subscribers.Dec()
	}
}

// SubscriberCount reports the live queues for a session, for observability.
func (s *Store) SubscriberCount(sessionID string) int {
	state, ok := s.lookup(sessionID)
	if !ok {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.subs)
}
