package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/speaker"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/transcript"
)

// Registry errors.
var (
	ErrDuplicateSession = errors.New("consultation already has an open session")
	ErrSessionNotFound  = errors.New("session not found")
)

// Session bundles the per-consultation resources. Everything here is
// allocated when the client connects and released when the session
// reaches a terminal state; nothing is shared across consultations.
type Session struct {
	Meta       models.SessionMeta
	CreatedAt  time.Time
	Lifecycle  *Lifecycle
	Tracker    *speaker.Tracker
	Aggregator *transcript.Aggregator

	mu           sync.Mutex
	stream       *asr.Stream
	lastActivity time.Time

	stopOnce   sync.Once
	stopCh     chan struct{}
	stopReason string
}

// SetStream attaches the recognizer stream. Called once by the gateway
// after the session is registered.
func (s *Session) SetStream(st *asr.Stream) {
	s.mu.Lock()
	s.stream = st
	s.mu.Unlock()
}

// Stream returns the attached recognizer stream, or nil.
func (s *Session) Stream() *asr.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Touch records activity (a frame or a recognition event) for the
// idle-timeout monitor.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor returns how long the session has been without activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// RequestStop asks the owning gateway flow to begin finalization.
// Idempotent; only the first reason is kept.
func (s *Session) RequestStop(reason string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopReason = reason
		s.mu.Unlock()
		close(s.stopCh)
	})
}

// Stopped is closed once a stop has been requested.
func (s *Session) Stopped() <-chan struct{} {
	return s.stopCh
}

// StopReason returns the reason recorded by the first RequestStop call.
func (s *Session) StopReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason
}

// Registry maps consultation ids to live sessions. It is the only
// structure shared between the ingest flows and the reaper, so all
// access goes through its lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Open registers a new session for the consultation in the metadata.
// A consultation can have at most one open session.
func (r *Registry) Open(meta models.SessionMeta) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[meta.ConsultationID]; exists {
		return nil, ErrDuplicateSession
	}

	s := &Session{
		Meta:         meta,
		CreatedAt:    time.Now(),
		Lifecycle:    NewLifecycle(meta.ConsultationID),
		Tracker:      speaker.NewTracker(meta.ConsultationID),
		Aggregator:   transcript.NewAggregator(),
		lastActivity: time.Now(),
		stopCh:       make(chan struct{}),
	}
	r.sessions[meta.ConsultationID] = s
	return s, nil
}

// Get returns the live session for a consultation id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops the session from the registry. The per-session state
// (tracker, aggregator) goes with it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Abort force-closes a session (e.g. the clinic deleted the
// consultation): the recognizer connection is hard-closed and unflushed
// partials are discarded.
func (r *Registry) Abort(id string) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrSessionNotFound
	}

	if st := s.Stream(); st != nil {
		st.Abort()
	}
	s.Lifecycle.Fail()
	s.RequestStop("aborted")
	r.Remove(id)

	log.Warn().Str("consultationId", id).Msg("Session force-aborted")
	return nil
}

// Reap watches for idle sessions and requests finalization for any that
// exceed the idle timeout. Runs until the context is canceled.
func (r *Registry) Reap(ctx context.Context, idleTimeout, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.RLock()
			stale := make([]*Session, 0)
			for _, s := range r.sessions {
				if s.IdleFor() > idleTimeout && !s.Lifecycle.State().IsTerminal() {
					stale = append(stale, s)
				}
			}
			r.mu.RUnlock()

			for _, s := range stale {
				log.Info().
					Str("consultationId", s.Meta.ConsultationID).
					Dur("idle", s.IdleFor()).
					Msg("Idle timeout, requesting finalization")
				s.RequestStop("idle-timeout")
			}
		}
	}
}
