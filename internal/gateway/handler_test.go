package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr/mock"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/collab"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/events"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/faults"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/session"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/structuring"
)

const stubModelResponse = `{
	"anamnesis": "Paciente relata dor de cabeça há três dias. Conduta: exame de sangue e dipirona.",
	"suggestions": [
		{"kind": "exame", "description": "Exame de sangue", "rationale": "investigação de cefaleia", "confidence": 0.85},
		{"kind": "medication", "description": "Dipirona 500mg", "rationale": "analgesia indicada pelo médico", "confidence": 0.9}
	]
}`

type scriptedGenerator struct {
	text string
}

func (g *scriptedGenerator) Generate(_ context.Context, _, _ string) (*structuring.Generation, error) {
	return &structuring.Generation{
		Text:  g.text,
		Usage: models.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func newTestServer(t *testing.T, rec *mock.Recognizer) (*httptest.Server, *session.Registry) {
	t.Helper()

	registry := session.NewRegistry()
	publisher := events.New(&events.Config{Enabled: false, Principal: "svc-test"})
	engine := structuring.NewEngine(&scriptedGenerator{text: stubModelResponse}, nil, publisher, structuring.Config{
		Model:          "test-model",
		MaxAttempts:    3,
		RequestTimeout: time.Second,
	})
	handler := NewHandler(
		registry,
		collab.NewStaticTokenAuthorizer(""),
		rec,
		engine,
		publisher,
		publisher,
		Config{
			MaxFrameBytes: 64 * 1024,
			LanguageCode:  "pt-BR",
			SampleRateHz:  16000,
			Channels:      1,
			Encoding:      "LINEAR16",
			Interim:       true,
			Stream: asr.StreamConfig{
				MaxRetries:     3,
				InitialBackoff: 2 * time.Millisecond,
				MaxBackoff:     10 * time.Millisecond,
				ReplayLimit:    512,
			},
		},
	)

	srv := httptest.NewServer(NewRouter(handler, registry))
	t.Cleanup(srv.Close)
	return srv, registry
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/consultations/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMeta(t *testing.T, conn *websocket.Conn, consultationID string) {
	t.Helper()
	err := conn.WriteJSON(models.SessionMeta{
		ConsultationID: consultationID,
		TenantID:       "clinic-1",
	})
	if err != nil {
		t.Fatalf("send metadata: %v", err)
	}
}

// readEvents consumes client events until the predicate matches, the
// server closes the connection, or the deadline passes.
func readEvents(t *testing.T, conn *websocket.Conn, stop func(models.ClientEvent) bool) []models.ClientEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var got []models.ClientEvent
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return got
		}
		var ev models.ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad event %q: %v", data, err)
		}
		got = append(got, ev)
		if stop(ev) {
			return got
		}
	}
}

func TestGateway_FullSession(t *testing.T) {
	srv, registry := newTestServer(t, mock.New())
	conn := dialStream(t, srv)
	sendMeta(t, conn, "consult-full")

	for i := 0; i < 12; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)); err != nil {
			t.Fatalf("send frame %d: %v", i, err)
		}
	}
	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		t.Fatalf("send stop: %v", err)
	}

	got := readEvents(t, conn, func(ev models.ClientEvent) bool {
		return ev.Type == models.EventTypeStructured
	})

	var finals []models.ClientEvent
	for _, ev := range got {
		if ev.Type == models.EventTypeFinal {
			finals = append(finals, ev)
		}
	}
	if len(finals) != len(mock.DefaultUtterances) {
		t.Fatalf("expected %d finals, got %d (events: %+v)", len(mock.DefaultUtterances), len(finals), got)
	}

	// First distinct engine label is the physician, second the patient.
	if finals[0].Speaker != models.RoleDoctor {
		t.Errorf("expected Doctor, got %v", finals[0].Speaker)
	}
	if finals[1].Speaker != models.RolePatient {
		t.Errorf("expected Patient, got %v", finals[1].Speaker)
	}
	if finals[2].Speaker != models.RoleDoctor {
		t.Errorf("expected Doctor again for the same label, got %v", finals[2].Speaker)
	}

	last := got[len(got)-1]
	if last.Type != models.EventTypeStructured {
		t.Fatalf("expected structured event, got %v", last.Type)
	}
	if last.Result == nil || len(last.Result.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %+v", last.Result)
	}
	if last.Result.Anamnesis == "" {
		t.Error("expected non-empty anamnesis")
	}

	// Session is released once the flow completes.
	deadline := time.Now().Add(2 * time.Second)
	for registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if registry.Len() != 0 {
		t.Errorf("expected registry to be empty, got %d sessions", registry.Len())
	}
}

func TestGateway_DuplicateSessionRejected(t *testing.T) {
	srv, _ := newTestServer(t, mock.New())

	first := dialStream(t, srv)
	sendMeta(t, first, "consult-dup")

	// Stream a frame so the first session is live before the second
	// connection arrives.
	if err := first.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	second := dialStream(t, srv)
	sendMeta(t, second, "consult-dup")

	got := readEvents(t, second, func(ev models.ClientEvent) bool {
		return ev.Type == models.EventTypeError
	})
	if len(got) == 0 || got[len(got)-1].Code != "DUPLICATE_SESSION" {
		t.Errorf("expected DUPLICATE_SESSION error, got %+v", got)
	}
}

func TestGateway_FirstFrameMustBeMetadata(t *testing.T) {
	srv, _ := newTestServer(t, mock.New())
	conn := dialStream(t, srv)

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	got := readEvents(t, conn, func(ev models.ClientEvent) bool {
		return ev.Type == models.EventTypeError
	})
	if len(got) == 0 || got[len(got)-1].Code != "BAD_METADATA" {
		t.Errorf("expected BAD_METADATA error, got %+v", got)
	}
}

func TestGateway_ASRUnavailableFailsSession(t *testing.T) {
	rec := mock.New()
	rec.DropAfterFrames = 1
	rec.FailOpens = 3

	srv, registry := newTestServer(t, rec)
	conn := dialStream(t, srv)
	sendMeta(t, conn, "consult-asr-down")

	for i := 0; i < 4; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
			t.Fatalf("send frame %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := readEvents(t, conn, func(ev models.ClientEvent) bool {
		return ev.Code == string(faults.CodeASRUnavailable)
	})
	if len(got) == 0 || got[len(got)-1].Code != string(faults.CodeASRUnavailable) {
		t.Fatalf("expected ASR_UNAVAILABLE error, got %+v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if registry.Len() != 0 {
		t.Errorf("expected failed session to be removed, got %d", registry.Len())
	}
}

func TestGateway_LiveTranscriptAndAbort(t *testing.T) {
	srv, registry := newTestServer(t, mock.New())
	conn := dialStream(t, srv)
	sendMeta(t, conn, "consult-abort")

	for i := 0; i < 4; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)); err != nil {
			t.Fatalf("send frame %d: %v", i, err)
		}
	}

	// Wait for at least one final to land in the aggregator.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := registry.Get("consult-abort"); ok && len(s.Aggregator.Live()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(srv.URL + "/v1/consultations/consult-abort/transcript")
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snapshot struct {
		State    string                     `json:"state"`
		Segments []models.TranscriptSegment `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.State != "STREAMING" {
		t.Errorf("expected STREAMING, got %q", snapshot.State)
	}
	if len(snapshot.Segments) == 0 {
		t.Error("expected live segments")
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/consultations/consult-abort", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", delResp.StatusCode)
	}
	if registry.Len() != 0 {
		t.Errorf("expected registry to be empty after abort, got %d", registry.Len())
	}

	// No structured event on an aborted session.
	got := readEvents(t, conn, func(ev models.ClientEvent) bool {
		return ev.Type == models.EventTypeStructured
	})
	for _, ev := range got {
		if ev.Type == models.EventTypeStructured {
			t.Error("expected no structured event after abort")
		}
	}
}

func TestGateway_HealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, mock.New())

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestGateway_UnknownSessionEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, mock.New())

	resp, err := http.Get(srv.URL + "/v1/consultations/nope/transcript")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("transcript: expected 404, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/consultations/nope", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNotFound {
		t.Errorf("abort: expected 404, got %d", delResp.StatusCode)
	}
}
