package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linguakit/lessonsynth/internal/bus"
	"github.com/linguakit/lessonsynth/internal/cache"
	"github.com/linguakit/lessonsynth/internal/config"
	"github.com/linguakit/lessonsynth/internal/natsserver"
	"github.com/linguakit/lessonsynth/internal/pipeline"
	"github.com/linguakit/lessonsynth/internal/service"
	"github.com/linguakit/lessonsynth/internal/synth"
)

// Runtime wires configuration, telemetry, the segment cache, the bus, and
// the render service into one process lifecycle.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// buildRegistry installs one backend per capability from config. The exec
// backend is optional; the other two are always addressable so voice parsing
// alone decides routing.
func buildRegistry(cfg config.SynthesisConfig) (*synth.Registry, error) {
	reg := synth.NewRegistry()
	reg.Register(synth.NewMarkBackend(cfg.Mark))
	reg.Register(synth.NewAlignBackend(cfg.Align))
	if cfg.Exec.Command != "" {
		execBackend, err := synth.NewExecBackend(cfg.Exec, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, err
		}
		reg.Register(execBackend)
	}
	return reg, nil
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	registry, err := buildRegistry(r.cfg.Synthesis)
	if err != nil {
		return fmt.Errorf("failed to build synthesis backends: %w", err)
	}

	segmentCache, err := cache.Open(ctx, r.cfg.Cache, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open segment cache: %w", err)
	}
	defer segmentCache.Close()

	pipe := pipeline.New(r.cfg, registry, segmentCache, r.logger)

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	var renderService *service.Service
	if r.cfg.Service.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		busClient, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busClient.Close()

		renderService = service.NewService(ctx, r.cfg.Service, busClient, pipe, r.logger)
		if err := renderService.Start(); err != nil {
			return fmt.Errorf("failed to start render service: %w", err)
		}
		defer renderService.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
