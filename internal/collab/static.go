package collab

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
)

// ErrUnauthorized is returned when the presented token does not match.
var ErrUnauthorized = errors.New("unauthorized")

// StaticTokenAuthorizer authorizes sessions against a single shared
// bearer token. An empty token disables the check (dev only).
type StaticTokenAuthorizer struct {
	token string
}

// NewStaticTokenAuthorizer creates an authorizer for the given token.
func NewStaticTokenAuthorizer(token string) *StaticTokenAuthorizer {
	if token == "" {
		log.Warn().Msg("AUTH_TOKEN empty, authorization disabled")
	}
	return &StaticTokenAuthorizer{token: token}
}

// Authorize checks the session token and the required identity fields.
func (a *StaticTokenAuthorizer) Authorize(_ context.Context, meta models.SessionMeta) error {
	if meta.ConsultationID == "" || meta.TenantID == "" {
		return errors.New("missing consultation or tenant id")
	}
	if a.token == "" {
		return nil
	}
	if meta.Token != a.token {
		return ErrUnauthorized
	}
	return nil
}

// StaticExamCatalog is an in-memory exam catalog keyed by id.
type StaticExamCatalog struct {
	entries map[string]ExamEntry
}

// NewStaticExamCatalog builds a catalog from the given entries.
func NewStaticExamCatalog(entries ...ExamEntry) *StaticExamCatalog {
	m := make(map[string]ExamEntry, len(entries))
	for _, e := range entries {
		m[e.ID] = e
	}
	return &StaticExamCatalog{entries: m}
}

// Lookup resolves ids to entries, skipping unknown ids.
func (c *StaticExamCatalog) Lookup(_ context.Context, ids []string) ([]ExamEntry, error) {
	out := make([]ExamEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			out = append(out, e)
		} else {
			log.Debug().Str("examId", id).Msg("Unknown exam catalog id, skipping")
		}
	}
	return out, nil
}
