package asr_test

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr/mock"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/faults"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
)

func testStreamConfig() asr.StreamConfig {
	return asr.StreamConfig{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		ReplayLimit:    512,
	}
}

func testParams() asr.Params {
	return asr.Params{
		ConsultationID: "consult-1",
		LanguageCode:   "pt-BR",
		SampleRateHz:   16000,
		Channels:       1,
		Encoding:       "LINEAR16",
		InterimResults: true,
	}
}

// collect drains the event channel until it closes.
func collect(t *testing.T, s *asr.Stream) <-chan []asr.Event {
	t.Helper()
	out := make(chan []asr.Event, 1)
	go func() {
		var events []asr.Event
		for ev := range s.Events() {
			events = append(events, ev)
		}
		out <- events
	}()
	return out
}

func frame(seq uint64) models.AudioFrame {
	return models.AudioFrame{
		Seq:      seq,
		Payload:  make([]byte, 320),
		OffsetMs: int64(seq-1) * 1000,
	}
}

func finalsOf(events []asr.Event) []asr.Event {
	var finals []asr.Event
	for _, ev := range events {
		if ev.Type == asr.EventFinal {
			finals = append(finals, ev)
		}
	}
	return finals
}

func TestStream_HappyPath(t *testing.T) {
	rec := mock.New()
	s, err := asr.OpenStream(context.Background(), rec, testParams(), testStreamConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := collect(t, s)

	for seq := uint64(1); seq <= 12; seq++ {
		if err := s.Feed(context.Background(), frame(seq)); err != nil {
			t.Fatalf("feed %d: unexpected error: %v", seq, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: unexpected error: %v", err)
	}

	events := <-done
	finals := finalsOf(events)
	if len(finals) != len(mock.DefaultUtterances) {
		t.Fatalf("expected %d finals, got %d", len(mock.DefaultUtterances), len(finals))
	}
	for i, utt := range mock.DefaultUtterances {
		if finals[i].Text != utt.Final {
			t.Errorf("final %d: expected %q, got %q", i, utt.Final, finals[i].Text)
		}
		if finals[i].ChannelLabel != utt.Label {
			t.Errorf("final %d: expected label %q, got %q", i, utt.Label, finals[i].ChannelLabel)
		}
	}
	if events[len(events)-1].Type != asr.EventClosed {
		t.Errorf("expected trailing Closed event, got %v", events[len(events)-1].Type)
	}
	if rec.Opens() != 1 {
		t.Errorf("expected 1 connection, got %d", rec.Opens())
	}
}

func TestStream_ReconnectWithReplay(t *testing.T) {
	rec := mock.New()
	rec.DropAfterFrames = 3

	s, err := asr.OpenStream(context.Background(), rec, testParams(), testStreamConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := collect(t, s)

	for seq := uint64(1); seq <= 12; seq++ {
		if err := s.Feed(context.Background(), frame(seq)); err != nil {
			t.Fatalf("feed %d: unexpected error: %v", seq, err)
		}
		// Give the pump room to notice the drop and reconnect.
		time.Sleep(3 * time.Millisecond)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: unexpected error: %v", err)
	}

	events := <-done
	finals := finalsOf(events)
	if len(finals) != len(mock.DefaultUtterances) {
		t.Fatalf("expected %d finals across the reconnect, got %d", len(mock.DefaultUtterances), len(finals))
	}

	// No duplicated finals despite the replay.
	seen := make(map[string]int)
	for _, f := range finals {
		seen[f.Text]++
	}
	for text, n := range seen {
		if n != 1 {
			t.Errorf("final %q emitted %d times", text, n)
		}
	}

	if rec.Opens() != 2 {
		t.Errorf("expected 2 connections, got %d", rec.Opens())
	}
}

func TestStream_RetriesExhausted(t *testing.T) {
	rec := mock.New()
	rec.DropAfterFrames = 1
	rec.FailOpens = 3 // every reconnect attempt fails

	s, err := asr.OpenStream(context.Background(), rec, testParams(), testStreamConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := collect(t, s)

	for seq := uint64(1); seq <= 4; seq++ {
		if err := s.Feed(context.Background(), frame(seq)); err != nil {
			t.Fatalf("feed %d: unexpected error: %v", seq, err)
		}
	}

	events := <-done
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	last := events[len(events)-1]
	if last.Type != asr.EventError {
		t.Fatalf("expected terminal Error event, got %v", last.Type)
	}
	if !faults.Is(last.Err, faults.CodeASRUnavailable) {
		t.Errorf("expected ASR_UNAVAILABLE, got %v", last.Err)
	}

	// Initial connection plus MaxRetries reconnect attempts.
	if rec.Opens() != 4 {
		t.Errorf("expected 4 opens, got %d", rec.Opens())
	}
}

func TestStream_SequenceRegression(t *testing.T) {
	rec := mock.New()
	s, err := asr.OpenStream(context.Background(), rec, testParams(), testStreamConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := collect(t, s)

	if err := s.Feed(context.Background(), frame(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Feed(context.Background(), frame(1)); err != asr.ErrSequenceRegression {
		t.Errorf("expected ErrSequenceRegression, got %v", err)
	}
	if err := s.Feed(context.Background(), frame(2)); err != asr.ErrSequenceRegression {
		t.Errorf("expected ErrSequenceRegression for duplicate seq, got %v", err)
	}

	s.Close()
	<-done
}

func TestStream_FeedAfterClose(t *testing.T) {
	rec := mock.New()
	s, err := asr.OpenStream(context.Background(), rec, testParams(), testStreamConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := collect(t, s)

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Feed(context.Background(), frame(1)); err != asr.ErrStreamClosed {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
	<-done
}

func TestStream_CloseFlushesInProgressUtterance(t *testing.T) {
	rec := mock.New()
	s, err := asr.OpenStream(context.Background(), rec, testParams(), testStreamConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := collect(t, s)

	// One frame only: the first utterance is mid-partial at close time.
	if err := s.Feed(context.Background(), frame(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := <-done
	finals := finalsOf(events)
	if len(finals) != 1 {
		t.Fatalf("expected the in-progress utterance to be flushed, got %d finals", len(finals))
	}
	if finals[0].Text != mock.DefaultUtterances[0].Final {
		t.Errorf("expected %q, got %q", mock.DefaultUtterances[0].Final, finals[0].Text)
	}
}
