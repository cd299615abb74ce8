// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the intentchat HTTP service.
//
// It builds every component from a config.Config: tracing, the encoder, the
// taxonomy (and its watcher), the history and conversation stores, metrics,
// the dialogue engine and the gin router.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	svc, err := orchestrator.New(ctx, cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	return svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/intentchat/services/dialogue"
	"github.com/AleutianAI/intentchat/services/dialogue/history"
	"github.com/AleutianAI/intentchat/services/dialogue/store"
	"github.com/AleutianAI/intentchat/services/dialogue/taxonomy"
	"github.com/AleutianAI/intentchat/services/embeddings"
	"github.com/AleutianAI/intentchat/services/orchestrator/config"
	"github.com/AleutianAI/intentchat/services/orchestrator/middleware"
	"github.com/AleutianAI/intentchat/services/orchestrator/observability"
	"github.com/AleutianAI/intentchat/services/orchestrator/routes"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Thread Safety
//
// Run blocks and should be called once. Router and Engine are safe to call
// concurrently. Close is idempotent.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails, then shuts
	// down gracefully within the configured timeout.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Engine returns the dialogue engine.
	Engine() *dialogue.Engine

	// Close stops background work and releases stores and exporters.
	Close() error
}

// Options injects process-level collaborators. nil fields take defaults.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer and Gatherer back the metrics. Default: the prometheus
	// default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Listener replaces the TCP listener opened by Run. Used by tests.
	Listener net.Listener
}

// =============================================================================
// Service Implementation
// =============================================================================

type service struct {
	config   config.Config
	opts     Options
	logger   *slog.Logger
	router   *gin.Engine
	engine   *dialogue.Engine
	metrics  *observability.DialogueMetrics
	history  history.Store
	store    store.ConversationStore
	sweeper  *history.Sweeper
	watcher  *taxonomy.Watcher
	bgCancel context.CancelFunc

	tracerCleanup func(context.Context)
	closeOnce     sync.Once
	closeErr      error
}

// New builds the service.
//
// # Description
//
// Components are created in dependency order. On any failure the ones already
// created are released before the error is returned.
//
// # Inputs
//
//   - ctx: Bounds startup work (index build, Redis ping).
//   - cfg: Validated configuration.
//   - opts: Optional collaborators (nil uses defaults).
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Invalid taxonomy, unreachable backend, or bad encoder settings.
func New(ctx context.Context, cfg config.Config, opts *Options) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &service{config: cfg}
	if opts != nil {
		s.opts = *opts
	}
	s.logger = s.opts.Logger
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.opts.Registerer == nil {
		s.opts.Registerer = prometheus.DefaultRegisterer
	}
	if s.opts.Gatherer == nil {
		s.opts.Gatherer = prometheus.DefaultGatherer
	}

	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) init(ctx context.Context) error {
	cleanup, err := s.initTracer(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.Server.EnableMetrics {
		s.metrics = observability.NewDialogueMetrics(s.opts.Registerer)
		s.logger.Info("Initialized Prometheus metrics for dialogue")
	}

	encoder, err := embeddings.NewEncoder(s.config.Encoder)
	if err != nil {
		return fmt.Errorf("failed to initialize encoder: %w", err)
	}

	tax, err := s.loadTaxonomy()
	if err != nil {
		return err
	}

	if err := s.initHistory(ctx); err != nil {
		return err
	}

	s.store, err = store.Open(s.config.Store, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}

	deps := dialogue.Dependencies{
		Encoder: encoder,
		History: s.history,
		Store:   s.store,
		Logger:  s.logger,
	}
	if s.metrics != nil {
		deps.Metrics = s.metrics
	}
	s.engine, err = dialogue.New(ctx, tax, s.config.EngineConfig(), deps)
	if err != nil {
		return fmt.Errorf("failed to initialize dialogue engine: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	if s.sweeper != nil {
		if err := s.sweeper.Start(bgCtx); err != nil {
			return fmt.Errorf("failed to start history sweeper: %w", err)
		}
	}
	if s.config.Taxonomy.Watch {
		if err := s.initWatcher(bgCtx); err != nil {
			return err
		}
	}

	s.initRouter()
	return nil
}

// Run serves until ctx is done.
func (s *service) Run(ctx context.Context) error {
	ln := s.opts.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", ":"+strconv.Itoa(s.config.Server.Port))
		if err != nil {
			return fmt.Errorf("listen on port %d: %w", s.config.Server.Port, err)
		}
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting intentchat server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down intentchat server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *service) Router() *gin.Engine { return s.router }

func (s *service) Engine() *dialogue.Engine { return s.engine }

// Close stops the watcher and sweeper, then closes the stores and flushes
// traces.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		if s.watcher != nil {
			s.watcher.Stop()
		}
		if s.sweeper != nil {
			s.sweeper.Stop()
		}
		if s.bgCancel != nil {
			s.bgCancel()
		}

		var errs []error
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close conversation store: %w", err))
			}
		}
		if c, ok := s.history.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close history store: %w", err))
			}
		}
		if s.tracerCleanup != nil {
			s.tracerCleanup(context.Background())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// =============================================================================
// Initialization Helpers
// =============================================================================

func (s *service) initTracer(ctx context.Context) (func(context.Context), error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch s.config.Tracing.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "otlp":
		conn, err := grpc.NewClient(s.config.Tracing.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", s.config.Tracing.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.serviceName())))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	s.logger.Info("Tracing enabled", "exporter", s.config.Tracing.Exporter)

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown tracer provider", "error", err)
		}
	}
	return cleanup, nil
}

func (s *service) serviceName() string {
	if s.config.Tracing.ServiceName != "" {
		return s.config.Tracing.ServiceName
	}
	return "intentchat"
}

func (s *service) loadTaxonomy() (*taxonomy.Taxonomy, error) {
	lang := s.config.Dialogue.DefaultLanguage
	if s.config.Taxonomy.Path == "" {
		s.logger.Info("Using the built-in taxonomy")
		return taxonomy.LoadDefault(lang)
	}
	tax, err := taxonomy.LoadFile(s.config.Taxonomy.Path, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	s.logger.Info("Loaded taxonomy", "path", s.config.Taxonomy.Path, "intents", len(tax.Intents))
	return tax, nil
}

func (s *service) initHistory(ctx context.Context) error {
	capacity := s.config.Dialogue.HistoryCapacity
	switch s.config.History.Backend {
	case "redis":
		rs, err := history.NewRedisStore(ctx, s.config.History.Redis, capacity)
		if err != nil {
			return fmt.Errorf("failed to initialize history store: %w", err)
		}
		s.history = rs
	default:
		mem := history.NewMemoryStore(capacity)
		s.history = mem
		if s.config.History.IdleTTL > 0 {
			s.sweeper = history.NewSweeper(mem, history.SweeperConfig{
				IdleTTL:  s.config.History.IdleTTL,
				Interval: s.config.History.SweepInterval,
			}, s.logger)
		}
	}
	return nil
}

func (s *service) initWatcher(ctx context.Context) error {
	w, err := taxonomy.NewWatcher(s.config.Taxonomy.Path, s.config.Dialogue.DefaultLanguage,
		func(tax *taxonomy.Taxonomy, err error) {
			if err != nil {
				s.logger.Warn("Taxonomy reload skipped, keeping the current catalog",
					"path", s.config.Taxonomy.Path, "error", err)
				if s.metrics != nil {
					s.metrics.CatalogReload(false, 0)
				}
				return
			}
			if err := s.engine.Reload(ctx, tax); err != nil {
				s.logger.Warn("Taxonomy reload rejected, keeping the current catalog", "error", err)
			}
		},
		&taxonomy.WatcherOptions{DebounceWindow: s.config.Taxonomy.DebounceWindow, Logger: s.logger})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return fmt.Errorf("failed to watch taxonomy: %w", err)
	}
	s.watcher = w
	s.logger.Info("Watching taxonomy for changes", "path", s.config.Taxonomy.Path)
	return nil
}

func (s *service) initRouter() {
	if s.config.Server.GinMode != "" {
		gin.SetMode(s.config.Server.GinMode)
	}
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.AccessLog(s.logger),
		otelgin.Middleware(s.serviceName()),
	)

	opts := routes.Options{AllowedOrigins: s.config.Server.AllowedOrigins}
	if s.metrics != nil {
		opts.Recorder = s.metrics
		opts.Gatherer = s.opts.Gatherer
	}
	routes.SetupRoutes(s.router, s.engine, opts)
}

var _ Service = (*service)(nil)
