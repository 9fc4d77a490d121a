// Package speaker maps the recognizer's unstable per-utterance channel
// labels to stable clinical roles within one consultation session.
//
// Attribution is a first-seen heuristic: the first distinct label
// becomes Doctor, the second Patient. This is not verified identity —
// if the patient speaks first the roles come out swapped. Stability is
// prioritized over correcting engine noise: once assigned, a label
// keeps its role for the whole session even if diarization later seems
// to swap speakers.
package speaker

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability/logging"
)

// Tracker holds the label→role table for exactly one session. It must
// never be shared or reused across sessions; the registry allocates one
// per session and discards it on close.
type Tracker struct {
	mu    sync.RWMutex
	roles map[string]models.SpeakerRole
	order []string
	log   zerolog.Logger
}

// NewTracker creates an empty tracker for one consultation session.
func NewTracker(consultationID string) *Tracker {
	return &Tracker{
		roles: make(map[string]models.SpeakerRole, 2),
		log:   logging.WithComponent("speaker").With().Str("consultationId", consultationID).Logger(),
	}
}

// Resolve returns the role for a raw channel label, assigning one on
// first appearance. O(1) per segment.
func (t *Tracker) Resolve(label string) models.SpeakerRole {
	t.mu.RLock()
	role, ok := t.roles[label]
	t.mu.RUnlock()
	if ok {
		return role
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Re-check under the write lock.
	if role, ok = t.roles[label]; ok {
		return role
	}

	switch len(t.order) {
	case 0:
		role = models.RoleDoctor
	case 1:
		role = models.RolePatient
	default:
		// Engine misattribution: more than two distinct labels in a
		// two-party consultation. Kept visible, never merged.
		role = models.RoleUnknown
		t.log.Warn().Str("label", label).Msg("Unexpected extra channel label, attributing Unknown")
	}

	t.roles[label] = role
	t.order = append(t.order, label)
	return role
}

// Labels returns the distinct labels seen so far, in first-seen order.
func (t *Tracker) Labels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}
