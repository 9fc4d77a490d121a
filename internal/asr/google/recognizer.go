// Package google provides the Google Cloud Speech-to-Text recognizer.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
package google

import (
	"context"
	"io"
	"strconv"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr"
)

// Recognizer implements asr.Recognizer using Google Cloud Speech.
type Recognizer struct {
	client *speech.Client
}

// New creates a Google recognizer.
func New(ctx context.Context) (*Recognizer, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Recognizer{client: c}, nil
}

// Provider names the engine.
func (r *Recognizer) Provider() string { return "google" }

// CloseClient releases the underlying gRPC client.
func (r *Recognizer) CloseClient() error {
	return r.client.Close()
}

// Open starts one streaming recognition session, sending the config as
// the first message. Diarization is enabled for the two consultation
// speakers; the speaker tags come back as channel labels.
func (r *Recognizer) Open(ctx context.Context, p asr.Params) (asr.RecognizerStream, error) {
	st, err := r.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:          encodingOf(p.Encoding),
					SampleRateHertz:   int32(p.SampleRateHz),
					AudioChannelCount: int32(p.Channels),
					LanguageCode:      p.LanguageCode,
					DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
						EnableSpeakerDiarization: true,
						MinSpeakerCount:          2,
						MaxSpeakerCount:          2,
					},
				},
				InterimResults: p.InterimResults,
			},
		},
	}
	if err := st.Send(cfg); err != nil {
		return nil, err
	}

	gs := &stream{
		st:      st,
		results: make(chan asr.Event, 64),
	}
	go gs.recvLoop()
	return gs, nil
}

func encodingOf(enc string) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

type stream struct {
	st      speechpb.Speech_StreamingRecognizeClient
	results chan asr.Event

	mu        sync.Mutex
	lastEndMs int64
}

// Feed sends audio bytes to the engine.
func (s *stream) Feed(_ context.Context, audio []byte) error {
	return s.st.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Results returns the event channel.
func (s *stream) Results() <-chan asr.Event {
	return s.results
}

// Close half-closes the send side so the engine flushes pending results.
func (s *stream) Close() error {
	return s.st.CloseSend()
}

// recvLoop converts engine responses into events until the stream ends.
func (s *stream) recvLoop() {
	defer close(s.results)

	for {
		resp, err := s.st.Recv()
		if err == io.EOF {
			s.results <- asr.Event{Type: asr.EventClosed}
			return
		}
		if err != nil {
			s.results <- asr.Event{Type: asr.EventError, Err: err}
			return
		}

		for _, res := range resp.Results {
			if len(res.Alternatives) == 0 {
				continue
			}
			alt := res.Alternatives[0]
			endMs := ms(res.ResultEndTime)

			s.mu.Lock()
			startMs := s.lastEndMs
			if res.IsFinal && endMs > s.lastEndMs {
				s.lastEndMs = endMs
			}
			s.mu.Unlock()

			ev := asr.Event{
				ChannelLabel: channelLabel(res),
				Text:         alt.Transcript,
				StartMs:      startMs,
				EndMs:        endMs,
				Confidence:   float64(alt.Confidence),
			}
			if res.IsFinal {
				ev.Type = asr.EventFinal
			} else {
				ev.Type = asr.EventPartial
			}
			s.results <- ev
		}
	}
}

// channelLabel extracts the engine speaker label: the channel tag when
// present, otherwise the diarization speaker tag of the last word.
func channelLabel(res *speechpb.StreamingRecognitionResult) string {
	if res.ChannelTag != 0 {
		return strconv.Itoa(int(res.ChannelTag))
	}
	if len(res.Alternatives) > 0 {
		words := res.Alternatives[0].Words
		if len(words) > 0 {
			return strconv.Itoa(int(words[len(words)-1].SpeakerTag))
		}
	}
	return "0"
}

func ms(d *durationpb.Duration) int64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Milliseconds()
}
