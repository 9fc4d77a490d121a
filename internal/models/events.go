package models

// Client event types emitted over the WebSocket connection.
const (
	EventTypePartial    = "partial"
	EventTypeFinal      = "final"
	EventTypeError      = "error"
	EventTypeStructured = "structured"
)

// ClientEvent is the JSON event relayed to the streaming client.
// Transcript events carry speaker/text/offsets; error events carry
// code/message; the structured event carries the validated result.
type ClientEvent struct {
	Type       string             `json:"type"`
	Speaker    SpeakerRole        `json:"speaker,omitempty"`
	Text       string             `json:"text,omitempty"`
	StartMs    int64              `json:"startMs,omitempty"`
	EndMs      int64              `json:"endMs,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Code       string             `json:"code,omitempty"`
	Message    string             `json:"message,omitempty"`
	Result     *StructuringResult `json:"result,omitempty"`
}

// TranscriptPartialEvent is published for every interim transcript.
type TranscriptPartialEvent struct {
	EventType      string      `json:"eventType"`
	ConsultationID string      `json:"consultationId"`
	TenantID       string      `json:"tenantId"`
	Timestamp      int64       `json:"timestamp"`
	Speaker        SpeakerRole `json:"speaker"`
	Text           string      `json:"text"`
	StartMs        int64       `json:"startMs"`
	EndMs          int64       `json:"endMs"`
}

// TranscriptFinalEvent is published for every final transcript segment.
type TranscriptFinalEvent struct {
	EventType      string      `json:"eventType"`
	ConsultationID string      `json:"consultationId"`
	TenantID       string      `json:"tenantId"`
	Timestamp      int64       `json:"timestamp"`
	Speaker        SpeakerRole `json:"speaker"`
	Text           string      `json:"text"`
	StartMs        int64       `json:"startMs"`
	EndMs          int64       `json:"endMs"`
	Confidence     float64     `json:"confidence"`
}
