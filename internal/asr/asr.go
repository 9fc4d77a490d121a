// Package asr owns the streaming connection to the external speech
// recognition service for one consultation session: audio frames in,
// partial/final recognition events out.
package asr

import (
	"context"
	"fmt"
)

// EventType classifies a recognition event.
type EventType int

const (
	// EventPartial - provisional, revisable transcription of in-progress speech.
	EventPartial EventType = iota
	// EventFinal - the recognizer's settled, immutable result for a time range.
	EventFinal
	// EventError - the recognizer stream failed.
	EventError
	// EventClosed - the recognizer stream ended.
	EventClosed
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventPartial:
		return "PARTIAL"
	case EventFinal:
		return "FINAL"
	case EventError:
		return "ERROR"
	case EventClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// Event is one recognition event. ChannelLabel is the raw
// engine-assigned speaker label; role attribution happens downstream.
type Event struct {
	Type         EventType
	ChannelLabel string
	Text         string
	StartMs      int64
	EndMs        int64
	Confidence   float64
	Err          error
}

// Params configures one recognizer stream.
type Params struct {
	ConsultationID string
	LanguageCode   string
	SampleRateHz   int
	Channels       int
	Encoding       string // LINEAR16, MULAW
	InterimResults bool
}

// Recognizer is the external streaming recognition capability.
// Implementations: Google Cloud Speech, and a mock for tests/dev.
type Recognizer interface {
	// Provider names the backing engine for logs and metrics.
	Provider() string

	// Open establishes one streaming recognition connection.
	Open(ctx context.Context, p Params) (RecognizerStream, error)
}

// RecognizerStream is one open connection to the recognition engine.
// Results delivers events in engine order and is closed when the
// connection ends, after a terminal Error or Closed event.
type RecognizerStream interface {
	// Feed sends raw audio bytes to the engine.
	Feed(ctx context.Context, audio []byte) error

	// Results returns the event channel for this connection.
	Results() <-chan Event

	// Close half-closes the connection so the engine can flush
	// remaining results before ending the stream.
	Close() error
}
