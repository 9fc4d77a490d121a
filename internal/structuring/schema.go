package structuring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
)

// modelResponse mirrors the JSON object the model is instructed to
// return. Models answering pt-BR transcripts occasionally echo the
// Portuguese field name, so both are accepted.
type modelResponse struct {
	Anamnesis   string            `json:"anamnesis"`
	Anamnese    string            `json:"anamnese"`
	Suggestions []modelSuggestion `json:"suggestions"`
}

type modelSuggestion struct {
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	Rationale   string  `json:"rationale"`
	Confidence  float64 `json:"confidence"`
}

// allowedKinds accepts the canonical suggestion kinds plus the
// Portuguese forms models produce for pt-BR input. The kind value is
// passed through as returned, not rewritten.
var allowedKinds = map[string]struct{}{
	"diagnosis":   {},
	"exam":        {},
	"medication":  {},
	"diagnostico": {},
	"diagnóstico": {},
	"exame":       {},
	"medicamento": {},
	"medicação":   {},
	"medicacao":   {},
}

// parseResult validates the raw model output against the output schema
// and builds the result. The returned error describes the first
// violation so it can be fed back to the model on retry.
func parseResult(raw string, anamnesisOnly bool) (*models.StructuringResult, error) {
	var resp modelResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}

	anamnesis := strings.TrimSpace(resp.Anamnesis)
	if anamnesis == "" {
		anamnesis = strings.TrimSpace(resp.Anamnese)
	}
	if anamnesis == "" {
		return nil, fmt.Errorf("field %q must be a non-empty string", "anamnesis")
	}

	if anamnesisOnly {
		if len(resp.Suggestions) > 0 {
			return nil, fmt.Errorf("field %q must be omitted for an anamnesis-only request", "suggestions")
		}
		return &models.StructuringResult{Anamnesis: anamnesis, Suggestions: []models.Suggestion{}}, nil
	}

	suggestions := make([]models.Suggestion, 0, len(resp.Suggestions))
	for i, s := range resp.Suggestions {
		kind := strings.TrimSpace(s.Kind)
		if _, ok := allowedKinds[strings.ToLower(kind)]; !ok {
			return nil, fmt.Errorf("suggestions[%d].kind %q is not one of diagnosis|exam|medication", i, s.Kind)
		}
		if strings.TrimSpace(s.Description) == "" {
			return nil, fmt.Errorf("suggestions[%d].description must be a non-empty string", i)
		}
		suggestions = append(suggestions, models.Suggestion{
			Kind:        models.SuggestionKind(kind),
			Description: strings.TrimSpace(s.Description),
			Rationale:   strings.TrimSpace(s.Rationale),
			Confidence:  clamp01(s.Confidence),
		})
	}

	return &models.StructuringResult{Anamnesis: anamnesis, Suggestions: suggestions}, nil
}

// stripFences removes a surrounding markdown code fence, which models
// add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return s
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// clamp01 coerces out-of-range confidence values to the nearest bound.
// In-range values pass through unmodified.
func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
