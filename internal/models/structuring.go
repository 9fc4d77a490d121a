package models

// SuggestionKind classifies a structured clinical suggestion.
// The validator also accepts the Portuguese forms the model tends to
// produce for pt-BR transcripts (diagnostico, exame, medicamento);
// values are passed through as returned by the model.
type SuggestionKind string

const (
	KindDiagnosis  SuggestionKind = "diagnosis"
	KindExam       SuggestionKind = "exam"
	KindMedication SuggestionKind = "medication"
)

// StructuringRequest carries a finalized transcript plus optional
// clinical context into the structuring engine.
type StructuringRequest struct {
	ConsultationID string
	TenantID       string
	Transcript     string
	ExamCatalogIDs []string
	Allergies      []string
	Medications    []string
}

// Suggestion is one discrete clinical suggestion extracted by the model.
type Suggestion struct {
	Kind        SuggestionKind `json:"kind"`
	Description string         `json:"description"`
	Rationale   string         `json:"rationale"`
	Confidence  float64        `json:"confidence"`
}

// StructuringResult is the schema-validated output of a structuring call.
// It is never surfaced before passing validation.
type StructuringResult struct {
	Anamnesis   string       `json:"anamnesis"`
	Suggestions []Suggestion `json:"suggestions"`
}

// TokenUsage reports the token counts of one structuring call for the
// billing collaborator. Not persisted by this service.
type TokenUsage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}
