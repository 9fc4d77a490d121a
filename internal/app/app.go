// Package app wires the service together: configuration, logging,
// recognizer, structuring engine, event publisher and the HTTP surfaces.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr/google"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/asr/mock"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/collab"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/config"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/events"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/gateway"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability/logging"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/session"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/structuring"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Cfg         *config.Configuration
	Registry    *session.Registry

	publisher  *events.Publisher
	googleRec  *google.Recognizer
	httpServer *http.Server
	obsServer  *observability.Server
}

// New constructs the application from the provided configuration.
func New(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		StartupTime: time.Now().UTC(),
		Cfg:         cfg,
		Registry:    session.NewRegistry(),
	}

	a.publisher = events.New(&events.Config{
		Brokers:         cfg.Kafka.Brokers,
		TopicPartial:    cfg.Kafka.TopicPartial,
		TopicFinal:      cfg.Kafka.TopicFinal,
		TopicStructured: cfg.Kafka.TopicStructured,
		TopicUsage:      cfg.Kafka.TopicUsage,
		Principal:       cfg.Kafka.Principal,
		Enabled:         cfg.Kafka.Enabled,
	})

	var recognizer asr.Recognizer
	switch cfg.ASR.Provider {
	case "google":
		rec, err := google.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("google recognizer: %w", err)
		}
		a.googleRec = rec
		recognizer = rec
	default:
		recognizer = mock.New()
	}
	log.Info().Str("provider", recognizer.Provider()).Msg("Recognizer initialized")

	var gen structuring.Generator
	if cfg.Structuring.APIKey != "" {
		gen = structuring.NewOpenAIGenerator(cfg.Structuring.APIKey, cfg.Structuring.BaseURL, cfg.Structuring.Model)
	} else {
		// Sessions still stream and transcribe; structuring calls fail
		// with MISSING_CREDENTIALS.
		log.Warn().Msg("LLM_API_KEY empty, structuring disabled")
	}

	engine := structuring.NewEngine(gen, defaultExamCatalog(), a.publisher, structuring.Config{
		Model:          cfg.Structuring.Model,
		MaxAttempts:    cfg.Structuring.MaxAttempts,
		RequestTimeout: cfg.Structuring.RequestTimeout,
	})

	handler := gateway.NewHandler(
		a.Registry,
		collab.NewStaticTokenAuthorizer(cfg.Auth.Token),
		recognizer,
		engine,
		a.publisher,
		a.publisher,
		gateway.Config{
			MaxFrameBytes: cfg.Session.MaxFrameBytes,
			LanguageCode:  cfg.ASR.LanguageCode,
			SampleRateHz:  cfg.ASR.SampleRateHz,
			Channels:      cfg.ASR.Channels,
			Encoding:      cfg.ASR.AudioEncoding,
			Interim:       cfg.ASR.InterimResults,
			Stream: asr.StreamConfig{
				MaxRetries:     cfg.ASR.MaxRetries,
				InitialBackoff: cfg.ASR.InitialBackoff,
				MaxBackoff:     cfg.ASR.MaxBackoff,
				ReplayLimit:    cfg.ASR.ReplayLimit,
			},
		},
	)

	a.httpServer = &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           gateway.NewRouter(handler, a.Registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.obsServer = observability.NewServer(cfg.Observability.MetricsAddr)

	log.Info().
		Str("principal", cfg.Service.Principal).
		Str("httpPort", cfg.Service.HTTPPort).
		Msg("Consultation capture service created")
	return a, nil
}

// Run serves traffic until the context is canceled, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", a.httpServer.Addr).Msg("Starting ingest HTTP server")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(a.obsServer.Start)
	g.Go(func() error {
		a.Registry.Reap(ctx, a.Cfg.Session.IdleTimeout, a.Cfg.Session.ReapInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Ingest server shutdown")
		}
		return a.obsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	if err := a.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("Publisher close")
	}
	if a.googleRec != nil {
		if err := a.googleRec.CloseClient(); err != nil {
			log.Warn().Err(err).Msg("Recognizer client close")
		}
	}
	log.Info().Msg("Consultation capture service shut down")
}

// defaultExamCatalog is the built-in catalog used until the clinic
// catalog service is integrated.
func defaultExamCatalog() collab.ExamCatalog {
	return collab.NewStaticExamCatalog(
		collab.ExamEntry{ID: "hemograma", Name: "Hemograma completo", Description: "exame de sangue"},
		collab.ExamEntry{ID: "glicemia", Name: "Glicemia de jejum"},
		collab.ExamEntry{ID: "raio-x-torax", Name: "Radiografia de tórax"},
		collab.ExamEntry{ID: "eletrocardiograma", Name: "Eletrocardiograma de repouso"},
	)
}
