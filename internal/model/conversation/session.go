package conversation

import "time"

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known speakers.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// TranscriptEntry is one attributed utterance. Entries are immutable once
// appended; the id and timestamp are assigned by the store at append time.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session captures one end-to-end consultation instance.
type Session struct {
	ID              string            `json:"sessionId"`
	StartTime       time.Time         `json:"startTime"`
	EndTime         *time.Time        `json:"endTime,omitempty"`
	IsActive        bool              `json:"isActive"`
	DurationSeconds float64           `json:"durationSeconds,omitempty"`
	Transcripts     []TranscriptEntry `json:"transcripts"`
	Analysis        *AnalysisResult   `json:"analysis,omitempty"`
}

// Summary is the lightweight session view exposed by the HTTP API.
type Summary struct {
	SessionID       string     `json:"sessionId"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	IsActive        bool       `json:"isActive"`
	TranscriptCount int        `json:"transcriptCount"`
	DurationSeconds float64    `json:"durationSeconds"`
}
