package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linguakit/lessonsynth/internal/bus"
	"github.com/linguakit/lessonsynth/internal/config"
	"github.com/linguakit/lessonsynth/internal/pipeline"
	"github.com/linguakit/lessonsynth/internal/protocol"
	"github.com/linguakit/lessonsynth/internal/script"
	"github.com/nats-io/nats.go"
)

const renderTimeout = 10 * time.Minute

// Service is the bus-facing seam the surrounding application uses: it
// consumes render requests, runs the pipeline, and publishes progress and a
// terminal completion message per lesson.
type Service struct {
	cfg    config.ServiceConfig
	bus    *bus.Client
	pipe   *pipeline.Pipeline
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.ServiceConfig, busClient *bus.Client, pipe *pipeline.Pipeline, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		pipe:   pipe,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "render-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectRenderRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.RenderRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode render request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, renderTimeout)
		defer cancel()

		result, err := s.pipe.Run(ctx, pipeline.Input{
			Units:          decodeUnits(req.Units),
			NativeLanguage: req.NativeLanguage,
			TargetLanguage: req.TargetLanguage,
			Progress: func(batch, total int) {
				s.publishProgress(req, batch, total)
			},
		})
		if err != nil {
			s.logger.Warn("render failed", slog.String("lesson_id", req.LessonID), slogError(err))
			s.publishDone(protocol.RenderComplete{LessonID: req.LessonID, Error: err.Error(), Timestamp: time.Now().UTC()})
			return
		}

		if err := writeSegments(req.OutputDir, result); err != nil {
			s.logger.Warn("writing segments failed", slog.String("lesson_id", req.LessonID), slogError(err))
			s.publishDone(protocol.RenderComplete{LessonID: req.LessonID, Error: err.Error(), Timestamp: time.Now().UTC()})
			return
		}

		done := protocol.RenderComplete{
			LessonID:   req.LessonID,
			Completed:  true,
			BatchCount: result.BatchCount,
			CallCount:  result.CallCount,
			CacheHits:  result.CacheHits,
			Timestamp:  time.Now().UTC(),
		}
		for _, e := range result.Timeline {
			done.Timeline = append(done.Timeline, protocol.TimingMessage{Index: e.Index, StartMS: e.StartMS, EndMS: e.EndMS})
		}
		s.publishDone(done)
	}()
}

func (s *Service) publishProgress(req protocol.RenderRequest, batch, total int) {
	data, err := json.Marshal(protocol.RenderProgress{
		LessonID:  req.LessonID,
		Batch:     batch,
		Total:     total,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectRenderProgress, data); err != nil {
		s.logger.Warn("failed to publish render progress", slogError(err))
	}
}

func (s *Service) publishDone(done protocol.RenderComplete) {
	data, err := json.Marshal(done)
	if err != nil {
		s.logger.Warn("failed to marshal render completion", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectRenderDone, data); err != nil {
		s.logger.Warn("failed to publish render completion", slogError(err))
	}
}

func decodeUnits(msgs []protocol.UnitMessage) []script.Unit {
	units := make([]script.Unit, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case "narration":
			u := script.Narration(m.Voice, m.Text)
			u.Context = m.Context
			units = append(units, u)
		case "speech":
			u := script.Speech(m.Voice, m.Text, m.Speed)
			u.Reading = m.Reading
			u.Context = m.Context
			u.Pitch = m.Pitch
			units = append(units, u)
		case "pause":
			units = append(units, script.Pause(m.DurationSec))
		default:
			units = append(units, script.Marker())
		}
	}
	return units
}

func writeSegments(dir string, result *pipeline.Result) error {
	if dir == "" {
		return fmt.Errorf("render request has no output dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	write := func(idx int, buf []byte) error {
		path := filepath.Join(dir, fmt.Sprintf("unit_%04d.wav", idx))
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			return fmt.Errorf("write segment %d: %w", idx, err)
		}
		return nil
	}
	for idx, buf := range result.Segments {
		if err := write(idx, buf); err != nil {
			return err
		}
	}
	for idx, buf := range result.Pauses {
		if err := write(idx, buf); err != nil {
			return err
		}
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
