package session

import (
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("consult-1")

	if lc.State() != StateOpen {
		t.Errorf("expected StateOpen, got %v", lc.State())
	}
	if lc.ID() != "consult-1" {
		t.Errorf("expected consult-1, got %v", lc.ID())
	}
	if lc.State().IsTerminal() {
		t.Error("expected OPEN to be non-terminal")
	}
}

func TestLifecycle_FramesRejectedBeforeStreaming(t *testing.T) {
	lc := NewLifecycle("consult-1")

	if err := lc.AcceptFrame(); err != ErrNotStreaming {
		t.Errorf("expected ErrNotStreaming, got %v", err)
	}
}

func TestLifecycle_BeginStreaming(t *testing.T) {
	lc := NewLifecycle("consult-1")

	if err := lc.BeginStreaming(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if lc.State() != StateStreaming {
		t.Errorf("expected StateStreaming, got %v", lc.State())
	}

	// Idempotent while streaming
	if err := lc.BeginStreaming(); err != nil {
		t.Errorf("second BeginStreaming: unexpected error: %v", err)
	}

	// Frames accepted repeatedly while streaming
	for i := 0; i < 5; i++ {
		if err := lc.AcceptFrame(); err != nil {
			t.Errorf("frame %d: unexpected error: %v", i, err)
		}
	}
}

func TestLifecycle_FramesRejectedWhileFinalizing(t *testing.T) {
	lc := NewLifecycle("consult-1")
	lc.BeginStreaming()

	if err := lc.BeginFinalize(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if lc.State() != StateFinalizing {
		t.Errorf("expected StateFinalizing, got %v", lc.State())
	}
	if err := lc.AcceptFrame(); err != ErrNotStreaming {
		t.Errorf("expected ErrNotStreaming, got %v", err)
	}
}

func TestLifecycle_FinalizeBeforeFirstFrame(t *testing.T) {
	// A client that connects and disconnects without audio still
	// finalizes (to an empty transcript).
	lc := NewLifecycle("consult-1")

	if err := lc.BeginFinalize(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if lc.State() != StateFinalizing {
		t.Errorf("expected StateFinalizing, got %v", lc.State())
	}
}

func TestLifecycle_FinalizeIdempotent(t *testing.T) {
	lc := NewLifecycle("consult-1")
	lc.BeginStreaming()

	if err := lc.BeginFinalize(); err != nil {
		t.Errorf("first finalize: unexpected error: %v", err)
	}
	if err := lc.BeginFinalize(); err != nil {
		t.Errorf("second finalize: unexpected error: %v", err)
	}
}

func TestLifecycle_Close(t *testing.T) {
	lc := NewLifecycle("consult-1")
	lc.BeginStreaming()
	lc.BeginFinalize()

	if err := lc.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if lc.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", lc.State())
	}
	if !lc.State().IsTerminal() {
		t.Error("expected CLOSED to be terminal")
	}

	// Idempotent
	if err := lc.Close(); err != nil {
		t.Errorf("second close: unexpected error: %v", err)
	}
}

func TestLifecycle_CloseRequiresFinalizing(t *testing.T) {
	lc := NewLifecycle("consult-1")
	lc.BeginStreaming()

	if err := lc.Close(); err != ErrNotFinalizing {
		t.Errorf("expected ErrNotFinalizing, got %v", err)
	}
}

func TestLifecycle_OperationsFailAfterClose(t *testing.T) {
	lc := NewLifecycle("consult-1")
	lc.BeginStreaming()
	lc.BeginFinalize()
	lc.Close()

	if err := lc.AcceptFrame(); err != ErrSessionTerminal {
		t.Errorf("AcceptFrame: expected ErrSessionTerminal, got %v", err)
	}
	if err := lc.BeginStreaming(); err != ErrSessionTerminal {
		t.Errorf("BeginStreaming: expected ErrSessionTerminal, got %v", err)
	}
	if err := lc.BeginFinalize(); err != ErrSessionTerminal {
		t.Errorf("BeginFinalize: expected ErrSessionTerminal, got %v", err)
	}
}

func TestLifecycle_Fail(t *testing.T) {
	lc := NewLifecycle("consult-1")
	lc.BeginStreaming()

	if !lc.Fail() {
		t.Error("expected Fail to report transition")
	}
	if lc.State() != StateFailed {
		t.Errorf("expected StateFailed, got %v", lc.State())
	}

	// Terminal states stay put
	if lc.Fail() {
		t.Error("expected Fail on FAILED to report false")
	}
	if err := lc.Close(); err != ErrSessionTerminal {
		t.Errorf("Close after Fail: expected ErrSessionTerminal, got %v", err)
	}
}

func TestLifecycle_FailAfterCloseIsNoop(t *testing.T) {
	lc := NewLifecycle("consult-1")
	lc.BeginFinalize()
	lc.Close()

	if lc.Fail() {
		t.Error("expected Fail on CLOSED to report false")
	}
	if lc.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", lc.State())
	}
}

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateOpen, "OPEN"},
		{StateStreaming, "STREAMING"},
		{StateFinalizing, "FINALIZING"},
		{StateClosed, "CLOSED"},
		{StateFailed, "FAILED"},
		{State(42), "UNKNOWN(42)"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.state, got, c.want)
		}
	}
}
