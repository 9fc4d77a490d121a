// Package transcript maintains the ordered, deduplicated transcript
// view of one consultation session.
package transcript

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
)

// flushConfidenceFactor marks partials promoted to final at finalize
// time as reduced-confidence rather than discarding spoken content.
const flushConfidenceFactor = 0.5

// ErrAlreadyFinalized is returned when Finalize is called twice.
var ErrAlreadyFinalized = errors.New("transcript already finalized")

type rangeKey struct {
	startMs int64
	endMs   int64
}

// Paragraph is a contiguous same-speaker run of final segments.
type Paragraph struct {
	Speaker models.SpeakerRole `json:"speaker"`
	Text    string             `json:"text"`
	StartMs int64              `json:"startMs"`
	EndMs   int64              `json:"endMs"`
}

// Transcript is the finalize view: only final segments, ordered by
// start offset, with same-speaker runs concatenated into paragraphs.
type Transcript struct {
	Segments        []models.TranscriptSegment
	Paragraphs      []Paragraph
	Text            string
	FlushedPartials int
}

// Aggregator consumes partial/final recognition events for one session.
// Partials are mutable placeholders keyed by their time range; finals
// are immutable and never overlap. Safe for concurrent use, though the
// event flow is single-consumer per session.
type Aggregator struct {
	mu          sync.Mutex
	finals      []models.TranscriptSegment // sorted by StartMs
	partials    map[rangeKey]models.TranscriptSegment
	lastPartial rangeKey
	hasPartial  bool
	finalized   bool
}

// NewAggregator creates an empty aggregator for one session.
func NewAggregator() *Aggregator {
	return &Aggregator{partials: make(map[rangeKey]models.TranscriptSegment)}
}

// UpsertPartial records an evolving partial for its time range,
// replacing any earlier partial for the same range. Partials arriving
// after finalization are dropped.
func (a *Aggregator) UpsertPartial(seg models.TranscriptSegment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return
	}

	seg.IsFinal = false
	key := rangeKey{seg.StartMs, seg.EndMs}
	a.partials[key] = seg
	a.lastPartial = key
	a.hasPartial = true
}

// AddFinal inserts an immutable final segment and removes any partials
// whose range it fully supersedes. Duplicate finals (same range, e.g.
// from a recognizer replay after reconnect) and finals overlapping an
// already-recorded final are dropped, keeping the view non-overlapping.
// Returns false if the segment was dropped.
func (a *Aggregator) AddFinal(seg models.TranscriptSegment) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return false
	}

	seg.IsFinal = true
	if !a.insertFinalLocked(seg) {
		return false
	}
	a.removeSupersededLocked(seg)
	return true
}

func (a *Aggregator) insertFinalLocked(seg models.TranscriptSegment) bool {
	for _, f := range a.finals {
		if f.StartMs == seg.StartMs && f.EndMs == seg.EndMs {
			return false // duplicate range
		}
		if seg.StartMs < f.EndMs && f.StartMs < seg.EndMs {
			return false // overlaps an immutable final
		}
	}

	i := sort.Search(len(a.finals), func(i int) bool {
		return a.finals[i].StartMs > seg.StartMs
	})
	a.finals = append(a.finals, models.TranscriptSegment{})
	copy(a.finals[i+1:], a.finals[i:])
	a.finals[i] = seg
	return true
}

func (a *Aggregator) removeSupersededLocked(final models.TranscriptSegment) {
	for key := range a.partials {
		if final.StartMs <= key.startMs && key.endMs <= final.EndMs {
			delete(a.partials, key)
			if a.lastPartial == key {
				a.hasPartial = false
			}
		}
	}
}

// Live returns the real-time display view: all finals so far plus the
// latest outstanding partial.
func (a *Aggregator) Live() []models.TranscriptSegment {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.TranscriptSegment, len(a.finals))
	copy(out, a.finals)
	if a.hasPartial {
		if p, ok := a.partials[a.lastPartial]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Finalize produces the finalize view. Callable once. Outstanding
// partials are flushed as reduced-confidence finals so no spoken
// content is silently lost.
func (a *Aggregator) Finalize() (*Transcript, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return nil, ErrAlreadyFinalized
	}
	a.finalized = true

	flushed := 0
	if len(a.partials) > 0 {
		pending := make([]models.TranscriptSegment, 0, len(a.partials))
		for _, p := range a.partials {
			pending = append(pending, p)
		}
		sort.Slice(pending, func(i, j int) bool {
			return pending[i].StartMs < pending[j].StartMs
		})
		for _, p := range pending {
			p.IsFinal = true
			p.Confidence *= flushConfidenceFactor
			if a.insertFinalLocked(p) {
				flushed++
			}
		}
		a.partials = map[rangeKey]models.TranscriptSegment{}
		a.hasPartial = false
	}

	segments := make([]models.TranscriptSegment, len(a.finals))
	copy(segments, a.finals)

	paragraphs := buildParagraphs(segments)

	return &Transcript{
		Segments:        segments,
		Paragraphs:      paragraphs,
		Text:            renderText(paragraphs),
		FlushedPartials: flushed,
	}, nil
}

// buildParagraphs concatenates contiguous same-speaker runs.
func buildParagraphs(segments []models.TranscriptSegment) []Paragraph {
	var paragraphs []Paragraph
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		n := len(paragraphs)
		if n > 0 && paragraphs[n-1].Speaker == seg.Speaker {
			paragraphs[n-1].Text += " " + text
			paragraphs[n-1].EndMs = seg.EndMs
			continue
		}
		paragraphs = append(paragraphs, Paragraph{
			Speaker: seg.Speaker,
			Text:    text,
			StartMs: seg.StartMs,
			EndMs:   seg.EndMs,
		})
	}
	return paragraphs
}

func renderText(paragraphs []Paragraph) string {
	if len(paragraphs) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, p := range paragraphs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", p.Speaker, p.Text)
	}
	return sb.String()
}
