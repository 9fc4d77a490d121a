// Package collab defines the interfaces of the external collaborators
// this service consumes: identity authorization, exam catalog lookup,
// and the persistence/token-usage sinks. Only the boundary lives here;
// real implementations live with their transports.
package collab

import (
	"context"
	"time"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
)

// Authorizer checks that a connecting client is allowed to stream for
// the consultation named in its session metadata.
type Authorizer interface {
	Authorize(ctx context.Context, meta models.SessionMeta) error
}

// ExamEntry is the descriptive metadata of one exam catalog item.
type ExamEntry struct {
	ID          string
	Name        string
	Description string
}

// ExamCatalog resolves exam catalog ids to descriptive metadata used as
// structuring context. Unknown ids are omitted from the result.
type ExamCatalog interface {
	Lookup(ctx context.Context, ids []string) ([]ExamEntry, error)
}

// ConsultationRecord is the finalized artifact handed to the
// persistence collaborator: transcript plus validated structuring result.
type ConsultationRecord struct {
	ConsultationID string                   `json:"consultationId"`
	TenantID       string                   `json:"tenantId"`
	PhysicianID    string                   `json:"physicianId"`
	PatientID      string                   `json:"patientId"`
	Transcript     string                   `json:"transcript"`
	Result         models.StructuringResult `json:"result"`
	FinalizedAt    time.Time                `json:"finalizedAt"`
}

// PersistenceSink accepts finalized consultation records for storage.
type PersistenceSink interface {
	SaveConsultation(ctx context.Context, rec ConsultationRecord) error
}

// UsageRecord reports the token consumption of one structuring call to
// the billing collaborator.
type UsageRecord struct {
	ConsultationID string            `json:"consultationId"`
	TenantID       string            `json:"tenantId"`
	Model          string            `json:"model"`
	Usage          models.TokenUsage `json:"usage"`
	At             time.Time         `json:"at"`
}

// TokenUsageSink accepts per-call token usage records.
type TokenUsageSink interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}
