// Package gateway is the WebSocket ingest surface. Each connection
// carries exactly one consultation session: a text metadata frame, then
// binary audio frames, with transcript and error events relayed back as
// JSON. The session ends on a stop control frame, client disconnect,
// idle timeout or force-abort, and every non-aborted end runs the same
// finalization flow.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/collab"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/events"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/faults"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability/logging"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability/metrics"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/session"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/structuring"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	metadataDeadline = 10 * time.Second
	writeDeadline    = 10 * time.Second
	finalizeTimeout  = 2 * time.Minute
	bytesPerSample   = 2 // LINEAR16
)

// Config holds the per-session settings of the ingest handler.
type Config struct {
	MaxFrameBytes int64
	LanguageCode  string
	SampleRateHz  int
	Channels      int
	Encoding      string
	Interim       bool
	Stream        asr.StreamConfig
}

// Handler runs consultation capture sessions over WebSocket.
type Handler struct {
	registry   *session.Registry
	auth       collab.Authorizer
	recognizer asr.Recognizer
	engine     *structuring.Engine
	publisher  *events.Publisher
	sink       collab.PersistenceSink
	cfg        Config
	metrics    *metrics.Metrics
}

// NewHandler creates the ingest handler.
func NewHandler(registry *session.Registry, auth collab.Authorizer, rec asr.Recognizer, engine *structuring.Engine, publisher *events.Publisher, sink collab.PersistenceSink, cfg Config) *Handler {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 64 * 1024
	}
	return &Handler{
		registry:   registry,
		auth:       auth,
		recognizer: rec,
		engine:     engine,
		publisher:  publisher,
		sink:       sink,
		cfg:        cfg,
		metrics:    metrics.DefaultMetrics,
	}
}

// clientConn serializes writes to one WebSocket connection. gorilla
// permits at most one concurrent writer, and both the read loop and the
// event relay write to the client.
type clientConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *clientConn) send(ev models.ClientEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.ws.WriteJSON(ev)
}

func (c *clientConn) sendError(code, msg string) {
	// Best effort; the client may already be gone.
	_ = c.send(models.ClientEvent{Type: models.EventTypeError, Code: code, Message: msg})
}

// controlFrame is a text frame after the metadata frame.
type controlFrame struct {
	Type string `json:"type"`
}

// HandleStream upgrades the connection and runs one capture session.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := logging.WithComponent("gateway")
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer ws.Close()

	conn := &clientConn{ws: ws}
	ws.SetReadLimit(h.cfg.MaxFrameBytes)

	meta, err := h.readMetadata(ws)
	if err != nil {
		conn.sendError("BAD_METADATA", err.Error())
		return
	}
	log := logging.WithConsultation(meta.ConsultationID, meta.TenantID)

	if err := h.auth.Authorize(r.Context(), *meta); err != nil {
		log.Warn().Err(err).Msg("Session rejected by authorizer")
		conn.sendError("UNAUTHORIZED", "not authorized for this consultation")
		return
	}

	sess, err := h.registry.Open(*meta)
	if err != nil {
		log.Warn().Err(err).Msg("Session rejected")
		conn.sendError("DUPLICATE_SESSION", err.Error())
		return
	}
	h.metrics.RecordSessionStart()
	log.Info().
		Str("language", meta.Audio.LanguageCode).
		Int("sampleRateHz", meta.Audio.SampleRateHz).
		Msg("Consultation session opened")

	h.runSession(r.Context(), log, conn, sess)
}

// readMetadata consumes the mandatory first text frame.
func (h *Handler) readMetadata(ws *websocket.Conn) (*models.SessionMeta, error) {
	ws.SetReadDeadline(time.Now().Add(metadataDeadline))
	defer ws.SetReadDeadline(time.Time{})

	msgType, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, errors.New("first frame must be session metadata")
	}

	var meta models.SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.New("session metadata is not valid JSON")
	}
	if meta.ConsultationID == "" {
		return nil, errors.New("consultationId is required")
	}

	// Missing audio parameters fall back to the service defaults.
	if meta.Audio.LanguageCode == "" {
		meta.Audio.LanguageCode = h.cfg.LanguageCode
	}
	if meta.Audio.SampleRateHz <= 0 {
		meta.Audio.SampleRateHz = h.cfg.SampleRateHz
	}
	if meta.Audio.Channels <= 0 {
		meta.Audio.Channels = h.cfg.Channels
	}
	if meta.Audio.Encoding == "" {
		meta.Audio.Encoding = h.cfg.Encoding
	}
	return &meta, nil
}

func (h *Handler) runSession(ctx context.Context, log zerolog.Logger, conn *clientConn, sess *session.Session) {
	meta := sess.Meta
	failReason := ""
	defer func() {
		h.registry.Remove(meta.ConsultationID)
		h.metrics.RecordSessionEnd(failReason != "", failReason, time.Since(sess.CreatedAt).Seconds())
	}()

	stream, err := asr.OpenStream(ctx, h.recognizer, asr.Params{
		ConsultationID: meta.ConsultationID,
		LanguageCode:   meta.Audio.LanguageCode,
		SampleRateHz:   meta.Audio.SampleRateHz,
		Channels:       meta.Audio.Channels,
		Encoding:       meta.Audio.Encoding,
		InterimResults: h.cfg.Interim,
	}, h.cfg.Stream)
	if err != nil {
		log.Error().Err(err).Msg("Recognizer stream open failed")
		conn.sendError(string(faults.CodeASRUnavailable), "transcription engine unavailable")
		sess.Lifecycle.Fail()
		failReason = string(faults.CodeASRUnavailable)
		return
	}
	sess.SetStream(stream)

	relay := &eventRelay{
		handler: h,
		log:     log,
		conn:    conn,
		sess:    sess,
	}
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.run(ctx, stream)
	}()

	// A stop request (idle reaper, force-abort, structured shutdown) must
	// unblock the read loop. Expiring the read deadline is the only way
	// to interrupt a blocked ReadMessage without tearing the socket down.
	kickDone := make(chan struct{})
	defer close(kickDone)
	go func() {
		select {
		case <-sess.Stopped():
			conn.ws.SetReadDeadline(time.Now())
		case <-kickDone:
		}
	}()

	clientGone := h.readLoop(ctx, log, conn, sess, stream)
	sess.RequestStop("session-ended")

	fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if sess.StopReason() == "aborted" {
		<-relayDone
		log.Warn().Msg("Session aborted, skipping finalization")
		failReason = "aborted"
		return
	}

	if err := sess.Lifecycle.BeginFinalize(); err != nil {
		stream.Abort()
		<-relayDone
		failReason = "lifecycle"
		return
	}

	// Half-close the recognizer and wait for the relay to drain the
	// remaining events into the aggregator.
	stream.Close()
	<-relayDone

	if relay.asrFailed {
		sess.Lifecycle.Fail()
		failReason = string(faults.CodeASRUnavailable)
		log.Error().Msg("Session failed, recognizer unreachable")
		return
	}

	h.finalize(fctx, log, conn, sess, clientGone)
	if err := sess.Lifecycle.Close(); err != nil {
		log.Warn().Err(err).Msg("Lifecycle close")
	}
	log.Info().
		Str("reason", sess.StopReason()).
		Dur("duration", time.Since(sess.CreatedAt)).
		Msg("Consultation session closed")
}

// readLoop consumes client frames until the session stops or the client
// goes away. Returns true when the client disconnected.
func (h *Handler) readLoop(ctx context.Context, log zerolog.Logger, conn *clientConn, sess *session.Session, stream *asr.Stream) (clientGone bool) {
	var (
		seq        uint64
		totalBytes int64
	)
	bytesPerMs := int64(sess.Meta.Audio.SampleRateHz*sess.Meta.Audio.Channels*bytesPerSample) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz mono LINEAR16
	}

	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			select {
			case <-sess.Stopped():
				// Deadline kick, not a client failure.
				return false
			default:
			}
			log.Info().Err(err).Msg("Client connection closed")
			sess.RequestStop("client-disconnected")
			return true
		}

		switch msgType {
		case websocket.TextMessage:
			var ctl controlFrame
			if err := json.Unmarshal(data, &ctl); err != nil || ctl.Type != "stop" {
				log.Debug().Msg("Ignoring unknown control frame")
				continue
			}
			sess.RequestStop("client-stop")
			return false

		case websocket.BinaryMessage:
			if len(data) == 0 {
				h.metrics.RecordFrameRejected("empty")
				continue
			}
			// The first accepted frame moves the session to STREAMING.
			err := sess.Lifecycle.BeginStreaming()
			if err == nil {
				err = sess.Lifecycle.AcceptFrame()
			}
			if err != nil {
				h.metrics.RecordFrameRejected("not-streaming")
				conn.sendError(string(faults.CodeSessionNotReady), "audio frame arrived outside STREAMING state")
				continue
			}

			seq++
			frame := models.AudioFrame{
				Seq:      seq,
				Payload:  data,
				OffsetMs: totalBytes / bytesPerMs,
			}
			totalBytes += int64(len(data))
			h.metrics.RecordAudioReceived(len(data))
			sess.Touch()

			if err := stream.Feed(ctx, frame); err != nil {
				if errors.Is(err, asr.ErrStreamClosed) {
					return false
				}
				log.Warn().Err(err).Uint64("seq", seq).Msg("Frame rejected by stream")
				h.metrics.RecordFrameRejected("stream")
			}
		}
	}
}

// finalize flushes the transcript, runs structuring and hands the
// finalized record to the persistence sink.
func (h *Handler) finalize(ctx context.Context, log zerolog.Logger, conn *clientConn, sess *session.Session, clientGone bool) {
	meta := sess.Meta

	tr, err := sess.Aggregator.Finalize()
	if err != nil {
		log.Warn().Err(err).Msg("Transcript finalize")
		return
	}
	h.metrics.RecordPartialsFlushed(tr.FlushedPartials)
	log.Info().
		Int("segments", len(tr.Segments)).
		Int("flushedPartials", tr.FlushedPartials).
		Msg("Transcript finalized")

	result, err := h.engine.Structure(ctx, models.StructuringRequest{
		ConsultationID: meta.ConsultationID,
		TenantID:       meta.TenantID,
		Transcript:     tr.Text,
		ExamCatalogIDs: meta.Context.ExamCatalogIDs,
		Allergies:      meta.Context.Allergies,
		Medications:    meta.Context.Medications,
	})
	if err != nil {
		log.Error().Err(err).Msg("Structuring failed")
		if !clientGone {
			code := "INTERNAL"
			if c, ok := faults.CodeOf(err); ok {
				code = string(c)
			}
			conn.sendError(code, "clinical structuring failed")
		}
		return
	}

	rec := collab.ConsultationRecord{
		ConsultationID: meta.ConsultationID,
		TenantID:       meta.TenantID,
		PhysicianID:    meta.PhysicianID,
		PatientID:      meta.PatientID,
		Transcript:     tr.Text,
		Result:         *result,
		FinalizedAt:    time.Now().UTC(),
	}
	if err := h.sink.SaveConsultation(ctx, rec); err != nil {
		log.Error().Err(err).Msg("Persistence sink rejected record")
	}

	if !clientGone {
		if err := conn.send(models.ClientEvent{Type: models.EventTypeStructured, Result: result}); err != nil {
			log.Debug().Err(err).Msg("Structured event not delivered")
		}
	}
}

// eventRelay consumes recognition events for one session: resolves the
// speaker, updates the aggregator, publishes transcript events and
// mirrors them to the client.
type eventRelay struct {
	handler *Handler
	log     zerolog.Logger
	conn    *clientConn
	sess    *session.Session

	asrFailed bool
}

func (rl *eventRelay) run(ctx context.Context, stream *asr.Stream) {
	meta := rl.sess.Meta

	for ev := range stream.Events() {
		rl.sess.Touch()

		switch ev.Type {
		case asr.EventPartial:
			seg := models.TranscriptSegment{
				Speaker:    rl.sess.Tracker.Resolve(ev.ChannelLabel),
				Text:       ev.Text,
				StartMs:    ev.StartMs,
				EndMs:      ev.EndMs,
				Confidence: ev.Confidence,
			}
			rl.sess.Aggregator.UpsertPartial(seg)
			rl.handler.metrics.RecordPartialTranscript()

			_ = rl.handler.publisher.PublishPartial(ctx, meta.ConsultationID, models.TranscriptPartialEvent{
				EventType:      "transcript.partial",
				ConsultationID: meta.ConsultationID,
				TenantID:       meta.TenantID,
				Timestamp:      time.Now().UnixMilli(),
				Speaker:        seg.Speaker,
				Text:           seg.Text,
				StartMs:        seg.StartMs,
				EndMs:          seg.EndMs,
			})
			rl.sendSegment(models.EventTypePartial, seg)

		case asr.EventFinal:
			seg := models.TranscriptSegment{
				Speaker:    rl.sess.Tracker.Resolve(ev.ChannelLabel),
				Text:       ev.Text,
				IsFinal:    true,
				StartMs:    ev.StartMs,
				EndMs:      ev.EndMs,
				Confidence: ev.Confidence,
			}
			if !rl.sess.Aggregator.AddFinal(seg) {
				rl.log.Debug().Int64("startMs", seg.StartMs).Int64("endMs", seg.EndMs).Msg("Final segment discarded by aggregator")
				continue
			}
			rl.handler.metrics.RecordFinalTranscript()

			_ = rl.handler.publisher.PublishFinal(ctx, meta.ConsultationID, models.TranscriptFinalEvent{
				EventType:      "transcript.final",
				ConsultationID: meta.ConsultationID,
				TenantID:       meta.TenantID,
				Timestamp:      time.Now().UnixMilli(),
				Speaker:        seg.Speaker,
				Text:           seg.Text,
				StartMs:        seg.StartMs,
				EndMs:          seg.EndMs,
				Confidence:     seg.Confidence,
			})
			rl.sendSegment(models.EventTypeFinal, seg)

		case asr.EventError:
			if faults.Is(ev.Err, faults.CodeASRUnavailable) {
				rl.asrFailed = true
				rl.conn.sendError(string(faults.CodeASRUnavailable), "transcription engine unavailable")
				rl.sess.RequestStop("asr-unavailable")
				continue
			}
			rl.log.Warn().Err(ev.Err).Msg("Recognition error")

		case asr.EventClosed:
			// Stream drained; the range ends when the channel closes.
		}
	}
}

func (rl *eventRelay) sendSegment(eventType string, seg models.TranscriptSegment) {
	ev := models.ClientEvent{
		Type:       eventType,
		Speaker:    seg.Speaker,
		Text:       seg.Text,
		StartMs:    seg.StartMs,
		EndMs:      seg.EndMs,
		Confidence: seg.Confidence,
	}
	if err := rl.conn.send(ev); err != nil {
		rl.log.Debug().Err(err).Str("type", eventType).Msg("Client write failed")
	}
}
