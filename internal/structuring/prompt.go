package structuring

import (
	"fmt"
	"strings"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/collab"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
)

const systemPrompt = `You are a clinical documentation assistant. You receive the transcript of a doctor-patient consultation and produce a structured clinical summary for the physician to review.

Rules:
- Write the anamnesis in the language of the transcript, as free text summarizing the patient's reported history, complaints and relevant context.
- Suggestions must be grounded in what was actually said in the transcript. Do not invent findings.
- kind must be one of: diagnosis, exam, medication.
- confidence is your certainty in the suggestion, between 0.0 and 1.0.
- Take the listed allergies and current medications into account when suggesting medications.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "anamnesis": "<free-text anamnesis>",
  "suggestions": [
    {"kind": "<diagnosis|exam|medication>", "description": "<short description>", "rationale": "<why this follows from the transcript>", "confidence": <0.0-1.0>}
  ]
}`

const systemPromptAnamnesisOnly = `You are a clinical documentation assistant. You receive the transcript of a doctor-patient consultation and produce only the anamnesis: free text summarizing the patient's reported history, complaints and relevant context, in the language of the transcript.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "anamnesis": "<free-text anamnesis>"
}`

// buildPrompt assembles the system and user messages for one attempt.
// Validation errors from earlier attempts are appended so the model can
// self-correct.
func buildPrompt(req models.StructuringRequest, exams []collab.ExamEntry, validationErrs []string, anamnesisOnly bool) (system, user string) {
	system = systemPrompt
	if anamnesisOnly {
		system = systemPromptAnamnesisOnly
	}

	var sb strings.Builder
	sb.WriteString("Consultation transcript:\n")
	sb.WriteString(req.Transcript)
	sb.WriteString("\n")

	if len(req.Allergies) > 0 {
		fmt.Fprintf(&sb, "\nKnown allergies: %s\n", strings.Join(req.Allergies, ", "))
	}
	if len(req.Medications) > 0 {
		fmt.Fprintf(&sb, "\nCurrent medications: %s\n", strings.Join(req.Medications, ", "))
	}
	if len(exams) > 0 {
		sb.WriteString("\nExam catalog available for exam suggestions:\n")
		for _, e := range exams {
			fmt.Fprintf(&sb, "- %s: %s", e.ID, e.Name)
			if e.Description != "" {
				fmt.Fprintf(&sb, " (%s)", e.Description)
			}
			sb.WriteByte('\n')
		}
	}

	if len(validationErrs) > 0 {
		sb.WriteString("\nYour previous response failed schema validation:\n")
		for _, ve := range validationErrs {
			fmt.Fprintf(&sb, "- %s\n", ve)
		}
		sb.WriteString("Return a corrected JSON object only.\n")
	}

	return system, sb.String()
}
