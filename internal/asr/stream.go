package asr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/faults"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability/logging"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability/metrics"
)

// Stream errors.
var (
	ErrStreamClosed       = errors.New("transcription stream closed")
	ErrSequenceRegression = errors.New("audio frame sequence regression")
)

// StreamConfig bounds the reconnect and replay behavior of a Stream.
type StreamConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// ReplayLimit caps the unacknowledged-frame buffer. When exceeded,
	// the oldest frames are dropped (and would be lost on a reconnect).
	ReplayLimit int
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		ReplayLimit:    512,
	}
}

// Stream is the streaming transcription session for one consultation.
// It guarantees at most one open recognizer connection at a time
// (duplicate concurrent streams would double-bill and desynchronize
// offsets), keeps a replay buffer of frames not yet acknowledged by a
// final result, and reconnects with bounded exponential backoff on
// connection loss, replaying the unacknowledged frames.
//
// Events() delivers recognition events in engine order. The channel is
// closed exactly once, after a terminal Error or Closed event.
type Stream struct {
	rec    Recognizer
	params Params
	cfg    StreamConfig
	log    zerolog.Logger
	m      *metrics.Metrics

	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	cur     RecognizerStream
	replay  []models.AudioFrame
	lastSeq uint64
	ackedMs int64
	closing bool
}

// OpenStream opens the recognizer connection and starts the event pump.
func OpenStream(ctx context.Context, rec Recognizer, params Params, cfg StreamConfig) (*Stream, error) {
	up, err := rec.Open(ctx, params)
	if err != nil {
		return nil, faults.Wrap(faults.CodeASRUnavailable, "open recognizer stream", err)
	}

	s := &Stream{
		rec:    rec,
		params: params,
		cfg:    cfg,
		log:    logging.WithRecognizer(params.ConsultationID, rec.Provider()),
		m:      metrics.DefaultMetrics,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		cur:    up,
	}
	go s.pump(ctx)
	return s, nil
}

// Events returns the recognition event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Feed forwards one audio frame to the recognizer. Sequence numbers
// must be strictly increasing. While a reconnect is in progress the
// frame is buffered and replayed once the connection is back.
func (s *Stream) Feed(ctx context.Context, frame models.AudioFrame) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if frame.Seq <= s.lastSeq {
		s.mu.Unlock()
		return ErrSequenceRegression
	}
	s.lastSeq = frame.Seq

	s.replay = append(s.replay, frame)
	s.trimReplayLocked()
	cur := s.cur
	s.mu.Unlock()

	if cur == nil {
		return nil // reconnect in progress, frame buffered
	}
	if err := cur.Feed(ctx, frame.Payload); err != nil {
		// The pump handles the connection loss; the frame stays in the
		// replay buffer.
		s.log.Debug().Err(err).Uint64("seq", frame.Seq).Msg("Feed failed, frame buffered for replay")
	}
	return nil
}

// Close half-closes the recognizer so in-flight audio is still
// transcribed, then waits for the event pump to drain.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closing = true
	cur := s.cur
	s.mu.Unlock()

	if cur != nil {
		if err := cur.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Recognizer close")
		}
	}
	<-s.done
	return nil
}

// Abort hard-closes the recognizer connection immediately, discarding
// unflushed partial results. Used for force-abort only.
func (s *Stream) Abort() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	cur := s.cur
	s.replay = nil
	s.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	s.log.Warn().Msg("Recognizer stream aborted")
}

// pump consumes the current connection's events, forwarding them to the
// consumer and reconnecting on connection loss.
func (s *Stream) pump(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	for {
		s.mu.Lock()
		cur := s.cur
		s.mu.Unlock()
		if cur == nil {
			return
		}

		clean := s.consume(ctx, cur)

		if ctx.Err() != nil {
			s.emit(ctx, Event{Type: EventClosed})
			return
		}
		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if clean || closing {
			s.emit(ctx, Event{Type: EventClosed})
			return
		}

		if !s.reconnect(ctx) {
			s.emit(ctx, Event{
				Type: EventError,
				Err:  faults.New(faults.CodeASRUnavailable, "recognizer unreachable after retries"),
			})
			return
		}
	}
}

// consume drains one connection. Returns true when the connection ended
// cleanly (engine finished) and false when it dropped.
func (s *Stream) consume(ctx context.Context, cur RecognizerStream) bool {
	for ev := range cur.Results() {
		switch ev.Type {
		case EventClosed:
			return true
		case EventError:
			s.m.RecordASRError(s.rec.Provider(), "stream")
			s.log.Warn().Err(ev.Err).Msg("Recognizer stream error")
			return false
		case EventFinal:
			s.ack(ev.EndMs)
			s.emit(ctx, ev)
		default:
			s.emit(ctx, ev)
		}
		if ctx.Err() != nil {
			return false
		}
	}
	// Results closed without a terminal event: treat as a drop unless
	// we asked for the close.
	return false
}

// reconnect re-establishes the recognizer connection with exponential
// backoff, replaying frames not yet acknowledged as consumed.
func (s *Stream) reconnect(ctx context.Context) bool {
	s.mu.Lock()
	s.cur = nil
	s.mu.Unlock()

	backoff := s.cfg.InitialBackoff
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			return false
		}
		s.mu.Unlock()

		up, err := s.rec.Open(ctx, s.params)
		if err != nil {
			s.m.RecordASRError(s.rec.Provider(), "reconnect")
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("Recognizer reconnect failed")
			if !retryable(err) {
				return false
			}
			continue
		}

		s.mu.Lock()
		pending := make([]models.AudioFrame, len(s.replay))
		copy(pending, s.replay)
		s.cur = up
		s.mu.Unlock()

		for _, f := range pending {
			if err := up.Feed(ctx, f.Payload); err != nil {
				s.log.Warn().Err(err).Uint64("seq", f.Seq).Msg("Replay feed failed")
				break
			}
		}

		s.m.RecordASRReconnect(len(pending))
		s.log.Info().
			Int("attempt", attempt).
			Int("replayedFrames", len(pending)).
			Msg("Recognizer stream re-established")
		return true
	}
	return false
}

// ack records that the engine consumed audio up to endMs and trims the
// replay buffer accordingly.
func (s *Stream) ack(endMs int64) {
	s.mu.Lock()
	if endMs > s.ackedMs {
		s.ackedMs = endMs
	}
	s.trimReplayLocked()
	s.mu.Unlock()
}

func (s *Stream) trimReplayLocked() {
	i := 0
	for i < len(s.replay) && s.replay[i].OffsetMs < s.ackedMs {
		i++
	}
	if i > 0 {
		s.replay = append(s.replay[:0], s.replay[i:]...)
	}
	if s.cfg.ReplayLimit > 0 && len(s.replay) > s.cfg.ReplayLimit {
		over := len(s.replay) - s.cfg.ReplayLimit
		s.replay = append(s.replay[:0], s.replay[over:]...)
		s.log.Warn().Int("dropped", over).Msg("Replay buffer over limit, dropping oldest frames")
	}
}

func (s *Stream) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// retryable classifies recognizer errors worth a reconnect attempt.
// Non-gRPC errors are assumed transient.
func retryable(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal, codes.Unknown:
		return true
	default:
		return false
	}
}
