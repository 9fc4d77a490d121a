// Package structuring turns a finalized consultation transcript into a
// validated clinical summary using a language model. Model output is
// never trusted: every response is validated against the output schema,
// and malformed responses are retried with the validation error fed
// back so the model can repair itself, up to a bounded attempt budget.
package structuring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/collab"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/faults"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/models"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability/logging"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability/metrics"
)

// callState tracks where one structuring call is in its attempt loop.
type callState int

const (
	stateBuildingPrompt callState = iota
	stateAwaitingModel
	stateValidating
	stateRetrying
	stateSucceeded
	stateFailed
)

func (s callState) String() string {
	switch s {
	case stateBuildingPrompt:
		return "BUILDING_PROMPT"
	case stateAwaitingModel:
		return "AWAITING_MODEL"
	case stateValidating:
		return "VALIDATING"
	case stateRetrying:
		return "RETRYING"
	case stateSucceeded:
		return "SUCCEEDED"
	case stateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the engine's attempt budget and per-attempt timeout.
type Config struct {
	Model          string
	MaxAttempts    int
	RequestTimeout time.Duration
}

// Engine orchestrates structuring calls against the language model.
type Engine struct {
	gen     Generator
	catalog collab.ExamCatalog
	usage   collab.TokenUsageSink
	cfg     Config
	metrics *metrics.Metrics
}

// NewEngine creates a structuring engine. A nil generator means the
// model endpoint is unconfigured; calls will fail with
// MISSING_CREDENTIALS rather than panic. catalog and usage may be nil.
func NewEngine(gen Generator, catalog collab.ExamCatalog, usage collab.TokenUsageSink, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Engine{
		gen:     gen,
		catalog: catalog,
		usage:   usage,
		cfg:     cfg,
		metrics: metrics.DefaultMetrics,
	}
}

// Structure produces the full structured summary: anamnesis plus
// suggestions.
func (e *Engine) Structure(ctx context.Context, req models.StructuringRequest) (*models.StructuringResult, error) {
	return e.run(ctx, req, false)
}

// StructureAnamnesis produces only the anamnesis text, for callers that
// want a summary without clinical suggestions.
func (e *Engine) StructureAnamnesis(ctx context.Context, req models.StructuringRequest) (*models.StructuringResult, error) {
	return e.run(ctx, req, true)
}

func (e *Engine) run(ctx context.Context, req models.StructuringRequest, anamnesisOnly bool) (*models.StructuringResult, error) {
	log := logging.WithStructuring(req.ConsultationID, e.cfg.Model)

	if strings.TrimSpace(req.Transcript) == "" {
		return nil, faults.New(faults.CodeEmptyInput, "transcript is empty")
	}
	if e.gen == nil {
		return nil, faults.New(faults.CodeMissingCredentials, "language model endpoint is not configured")
	}

	var exams []collab.ExamEntry
	if e.catalog != nil && len(req.ExamCatalogIDs) > 0 {
		var err error
		exams, err = e.catalog.Lookup(ctx, req.ExamCatalogIDs)
		if err != nil {
			// Catalog context is best-effort; the call proceeds without it.
			log.Warn().Err(err).Msg("exam catalog lookup failed")
			exams = nil
		}
	}

	start := time.Now()
	state := stateBuildingPrompt

	var (
		validationErrs []string
		lastErr        error
		timeouts       int
		attempts       int
	)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		e.metrics.RecordStructuringAttempt(attempt > 1)
		transition(log, &state, stateBuildingPrompt)
		system, user := buildPrompt(req, exams, validationErrs, anamnesisOnly)

		transition(log, &state, stateAwaitingModel)
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		gen, err := e.gen.Generate(callCtx, system, user)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				timeouts++
				lastErr = faults.Wrap(faults.CodeModelTimeout, "model request timed out", err)
				log.Warn().Int("attempt", attempt).Dur("timeout", e.cfg.RequestTimeout).Msg("model request timed out")
			} else {
				lastErr = err
				log.Warn().Err(err).Int("attempt", attempt).Msg("model request failed")
			}
			if ctx.Err() != nil {
				break
			}
			transition(log, &state, stateRetrying)
			continue
		}

		e.reportUsage(ctx, log, req, gen.Usage)

		transition(log, &state, stateValidating)
		result, verr := parseResult(gen.Text, anamnesisOnly)
		if verr != nil {
			validationErrs = append(validationErrs, verr.Error())
			lastErr = verr
			log.Warn().Err(verr).Int("attempt", attempt).Msg("model response failed schema validation")
			transition(log, &state, stateRetrying)
			continue
		}

		transition(log, &state, stateSucceeded)
		e.metrics.RecordStructuringResult("", time.Since(start).Seconds())
		log.Info().
			Int("attempt", attempt).
			Int("suggestions", len(result.Suggestions)).
			Dur("elapsed", time.Since(start)).
			Msg("structuring succeeded")
		return result, nil
	}

	transition(log, &state, stateFailed)

	var err error
	switch {
	case len(validationErrs) > 0:
		err = faults.Wrap(faults.CodeSchemaValidation,
			fmt.Sprintf("model output failed schema validation after %d attempts", attempts), lastErr)
	case timeouts == attempts:
		err = faults.Wrap(faults.CodeModelTimeout,
			fmt.Sprintf("model timed out on all %d attempts", attempts), lastErr)
	default:
		err = fmt.Errorf("structuring failed after %d attempts: %w", attempts, lastErr)
	}

	failCode := "internal"
	if c, ok := faults.CodeOf(err); ok {
		failCode = string(c)
	}
	e.metrics.RecordStructuringResult(failCode, time.Since(start).Seconds())
	log.Error().Err(err).Int("attempts", attempts).Msg("structuring exhausted its attempt budget")
	return nil, err
}

// reportUsage records token consumption on metrics and the usage sink.
// Usage is billable even when the response later fails validation.
func (e *Engine) reportUsage(ctx context.Context, log zerolog.Logger, req models.StructuringRequest, usage models.TokenUsage) {
	e.metrics.RecordTokenUsage(usage.PromptTokens, usage.CompletionTokens)
	if e.usage == nil {
		return
	}
	rec := collab.UsageRecord{
		ConsultationID: req.ConsultationID,
		TenantID:       req.TenantID,
		Model:          e.cfg.Model,
		Usage:          usage,
		At:             time.Now().UTC(),
	}
	if err := e.usage.RecordUsage(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("token usage sink rejected record")
	}
}

func transition(log zerolog.Logger, state *callState, next callState) {
	log.Debug().Stringer("from", *state).Stringer("to", next).Msg("structuring state")
	*state = next
}
