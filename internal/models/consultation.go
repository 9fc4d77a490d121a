// Package models defines the data structures shared across the
// consultation capture pipeline.
package models

// SpeakerRole is the stable clinical role attributed to a transcript segment.
type SpeakerRole string

const (
	RoleDoctor  SpeakerRole = "Doctor"
	RolePatient SpeakerRole = "Patient"
	// RoleUnknown marks segments from engine channel labels beyond the
	// first two distinct ones. Never silently merged into Doctor/Patient.
	RoleUnknown SpeakerRole = "Unknown"
)

// AudioParams describes the encoding of the audio a client streams.
type AudioParams struct {
	SampleRateHz int    `json:"sampleRateHz"`
	Channels     int    `json:"channels"`
	Encoding     string `json:"encoding"` // LINEAR16, MULAW
	LanguageCode string `json:"languageCode"`
}

// ClinicalContext is optional context the clinic attaches to a session
// to ground the structuring call.
type ClinicalContext struct {
	ExamCatalogIDs []string `json:"examCatalogIds"`
	Allergies      []string `json:"allergies"`
	Medications    []string `json:"medications"`
}

// SessionMeta is the first (text) frame a client sends after connecting.
// It binds the connection to exactly one consultation.
type SessionMeta struct {
	ConsultationID string          `json:"consultationId"`
	TenantID       string          `json:"tenantId"`
	PhysicianID    string          `json:"physicianId"`
	PatientID      string          `json:"patientId"`
	Token          string          `json:"token"`
	Audio          AudioParams     `json:"audio"`
	Context        ClinicalContext `json:"context"`
}

// AudioFrame is one chunk of raw audio owned by exactly one session.
// Seq is strictly increasing within the session.
type AudioFrame struct {
	Seq      uint64
	Payload  []byte
	OffsetMs int64
}

// TranscriptSegment is one recognized utterance span. Partial segments
// are mutable placeholders; a final segment is immutable once emitted.
type TranscriptSegment struct {
	Speaker    SpeakerRole `json:"speaker"`
	Text       string      `json:"text"`
	IsFinal    bool        `json:"isFinal"`
	StartMs    int64       `json:"startMs"`
	EndMs      int64       `json:"endMs"`
	Confidence float64     `json:"confidence"`
}
