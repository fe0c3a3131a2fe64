package realtime

import "encoding/json"

// Upstream event kinds. The decoder keeps an explicit unknown case so new
// kinds added by the provider are ignored instead of crashing the loop.
const (
	eventSessionCreated          = "session.created"
	eventSessionUpdated          = "session.updated"
	eventSpeechStarted           = "input_audio_buffer.speech_started"
	eventSpeechStopped           = "input_audio_buffer.speech_stopped"
	eventUserTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	eventAssistantDelta          = "response.audio_transcript.delta"
	eventAssistantDone           = "response.audio_transcript.done"
	eventAudioDelta              = "response.audio.delta"
	eventError                   = "error"
)

// upstreamEvent is the wire shape of inbound realtime events. Only the fields
// the dispatch loop needs are decoded; everything else stays in raw JSON.
type upstreamEvent struct {
	Type       string         `json:"type"`
	Transcript string         `json:"transcript,omitempty"`
	Delta      string         `json:"delta,omitempty"`
	Session    *sessionInfo   `json:"session,omitempty"`
	Error      *upstreamError `json:"error,omitempty"`
}

type sessionInfo struct {
	ID string `json:"id"`
}

type upstreamError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sessionUpdateEvent is the fixed configuration handshake sent right after
// the transport opens. It is never renegotiated mid-session.
type sessionUpdateEvent struct {
	Type    string         `json:"type"`
	Session sessionOptions `json:"session"`
}

type sessionOptions struct {
	Modalities              []string           `json:"modalities"`
	Instructions            string             `json:"instructions"`
	Voice                   string             `json:"voice"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription transcriptionOpts  `json:"input_audio_transcription"`
	TurnDetection           turnDetectionOpts  `json:"turn_detection"`
	Temperature             float64            `json:"temperature"`
	MaxResponseOutputTokens int                `json:"max_response_output_tokens"`
}

type transcriptionOpts struct {
	Model string `json:"model"`
}

type turnDetectionOpts struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

// audioAppendEvent wraps one base64-encoded PCM16 frame for the upstream
// input buffer.
type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func decodeEvent(data []byte) (upstreamEvent, error) {
	var ev upstreamEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}
