// Package mock provides a scripted recognizer for tests and local
// development without cloud credentials. It emits progressive partials
// and exactly one final per utterance, tagged with the utterance's
// channel label, and can simulate a dropped connection to exercise the
// reconnect-with-replay path.
package mock

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr"
)

// Utterance is one scripted utterance.
type Utterance struct {
	Label      string // engine channel label
	Partials   []string
	Final      string
	Confidence float64
	StartMs    int64
	EndMs      int64
}

// DefaultUtterances simulates a short consultation.
var DefaultUtterances = []Utterance{
	{
		Label:      "1",
		Partials:   []string{"Bom dia", "Bom dia, o que"},
		Final:      "Bom dia, o que a senhora está sentindo?",
		Confidence: 0.95,
		StartMs:    0,
		EndMs:      2400,
	},
	{
		Label:      "2",
		Partials:   []string{"Estou com dor", "Estou com dor de cabeça"},
		Final:      "Estou com dor de cabeça há três dias.",
		Confidence: 0.92,
		StartMs:    2400,
		EndMs:      5200,
	},
	{
		Label:      "1",
		Partials:   []string{"Vou pedir um"},
		Final:      "Vou pedir um exame de sangue e receitar dipirona.",
		Confidence: 0.94,
		StartMs:    5200,
		EndMs:      8600,
	},
}

// Recognizer implements asr.Recognizer with scripted results. The
// script cursor lives on the Recognizer so a reconnected stream picks
// up where the dropped one left off, like a real engine fed replayed
// audio it already acknowledged.
type Recognizer struct {
	mu         sync.Mutex
	utterances []Utterance
	uttIdx     int
	partialIdx int

	// DropAfterFrames >0 drops the first connection with an Unavailable
	// error after that many fed frames.
	DropAfterFrames int
	// FailOpens fails that many Open calls (after the first connection)
	// with Unavailable before letting a reconnect succeed.
	FailOpens int

	opens int
}

// New creates a mock recognizer with the default consultation script.
func New() *Recognizer {
	return &Recognizer{utterances: DefaultUtterances}
}

// NewScripted creates a mock recognizer with a custom script.
func NewScripted(utterances []Utterance) *Recognizer {
	return &Recognizer{utterances: utterances}
}

// Provider names the engine.
func (r *Recognizer) Provider() string { return "mock" }

// Opens returns how many connections were opened.
func (r *Recognizer) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

// Open establishes one scripted connection.
func (r *Recognizer) Open(_ context.Context, _ asr.Params) (asr.RecognizerStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.opens++
	if r.opens > 1 && r.opens <= 1+r.FailOpens {
		return nil, status.Error(codes.Unavailable, "mock recognizer unavailable")
	}

	return &stream{
		rec:     r,
		first:   r.opens == 1,
		results: make(chan asr.Event, 256),
	}, nil
}

type stream struct {
	rec     *Recognizer
	first   bool
	results chan asr.Event

	mu        sync.Mutex
	frames    int
	dead      bool
	closeOnce sync.Once
}

// Feed advances the script: one event per frame. When the script is
// exhausted further frames are absorbed silently, like an engine
// listening to trailing silence.
func (s *stream) Feed(_ context.Context, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return status.Error(codes.Unavailable, "mock stream reset")
	}

	s.frames++
	if s.first && s.rec.DropAfterFrames > 0 && s.frames > s.rec.DropAfterFrames {
		s.dead = true
		s.results <- asr.Event{Type: asr.EventError, Err: status.Error(codes.Unavailable, "mock stream reset")}
		s.finish()
		return status.Error(codes.Unavailable, "mock stream reset")
	}

	s.emitNext()
	return nil
}

// emitNext emits the next scripted event, if any.
func (s *stream) emitNext() {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()

	if s.rec.uttIdx >= len(s.rec.utterances) {
		return
	}
	utt := s.rec.utterances[s.rec.uttIdx]

	if s.rec.partialIdx < len(utt.Partials) {
		text := utt.Partials[s.rec.partialIdx]
		s.rec.partialIdx++
		s.results <- asr.Event{
			Type:         asr.EventPartial,
			ChannelLabel: utt.Label,
			Text:         text,
			StartMs:      utt.StartMs,
			EndMs:        utt.EndMs,
		}
		return
	}

	s.rec.uttIdx++
	s.rec.partialIdx = 0
	s.results <- asr.Event{
		Type:         asr.EventFinal,
		ChannelLabel: utt.Label,
		Text:         utt.Final,
		StartMs:      utt.StartMs,
		EndMs:        utt.EndMs,
		Confidence:   utt.Confidence,
	}
}

// Results returns the event channel for this connection.
func (s *stream) Results() <-chan asr.Event {
	return s.results
}

// Close flushes the final of the utterance in progress, then ends the
// stream, mirroring a real engine's half-close drain.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return nil
	}
	s.dead = true

	s.rec.mu.Lock()
	if s.rec.uttIdx < len(s.rec.utterances) && s.rec.partialIdx > 0 {
		utt := s.rec.utterances[s.rec.uttIdx]
		s.rec.uttIdx++
		s.rec.partialIdx = 0
		s.results <- asr.Event{
			Type:         asr.EventFinal,
			ChannelLabel: utt.Label,
			Text:         utt.Final,
			StartMs:      utt.StartMs,
			EndMs:        utt.EndMs,
			Confidence:   utt.Confidence,
		}
	}
	s.rec.mu.Unlock()

	s.results <- asr.Event{Type: asr.EventClosed}
	s.finish()
	return nil
}

func (s *stream) finish() {
	s.closeOnce.Do(func() { close(s.results) })
}
