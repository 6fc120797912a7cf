package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/linguakit/lessonsynth/internal/audio"
	"github.com/linguakit/lessonsynth/internal/batch"
	"github.com/linguakit/lessonsynth/internal/cache"
	"github.com/linguakit/lessonsynth/internal/config"
	"github.com/linguakit/lessonsynth/internal/payload"
	"github.com/linguakit/lessonsynth/internal/script"
	"github.com/linguakit/lessonsynth/internal/split"
	"github.com/linguakit/lessonsynth/internal/synth"
	"github.com/linguakit/lessonsynth/internal/timeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Input is the contract with the script-generation collaborator.
type Input struct {
	Units          []script.Unit
	NativeLanguage string
	TargetLanguage string

	// ScratchDir overrides the configured temp-file location when set.
	ScratchDir string

	// Progress, when set, is invoked after each batch completes.
	Progress func(batchIndex, totalBatches int)

	// Silence overrides the silence generator, for testability.
	Silence func(seconds float64) ([]byte, error)

	// ResolveText is the pronunciation-override dictionary, consumed as a
	// black-box transform applied before payload building.
	ResolveText func(string) string
}

// Result is the complete pipeline output. It is either fully consistent or
// not returned at all; there is no partial success mode.
type Result struct {
	// Segments maps original unit index to audio for every voiced unit.
	Segments map[int][]byte
	// Pauses maps original unit index to silence audio for every pause unit.
	Pauses map[int][]byte
	// Timeline holds one entry per non-marker unit, in index order.
	Timeline []timeline.Entry

	BatchCount int
	// CallCount is batches plus pauses, the figure compared against the
	// naive one-call-per-unit baseline.
	CallCount int
	CacheHits int
}

// Pipeline sequences grouping, synthesis, splitting, silence generation, and
// timing reconstruction. Backend calls run sequentially (vendor rate limits
// make cross-batch concurrency undesirable); only intra-batch segment
// extraction fans out.
type Pipeline struct {
	cfg      config.Config
	registry *synth.Registry
	splitter *split.Splitter
	cache    *cache.Store
	logger   *slog.Logger

	callCounter  metric.Int64Counter
	batchCounter metric.Int64Counter
}

func New(cfg config.Config, registry *synth.Registry, cacheStore *cache.Store, log *slog.Logger) *Pipeline {
	meter := otel.Meter("lessonsynth/pipeline")
	callCounter, _ := meter.Int64Counter("lessonsynth.synthesis.calls",
		metric.WithDescription("Backend synthesis calls issued"))
	batchCounter, _ := meter.Int64Counter("lessonsynth.synthesis.batches",
		metric.WithDescription("Synthesis batches processed"))
	return &Pipeline{
		cfg:          cfg,
		registry:     registry,
		splitter:     split.New(cfg.Split, log),
		cache:        cacheStore,
		logger:       log.With(slog.String("component", "pipeline")),
		callCounter:  callCounter,
		batchCounter: batchCounter,
	}
}

// Run executes the whole pipeline for one unit sequence.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	units := p.resolveUnits(in)

	grouping, err := batch.Group(units, in.NativeLanguage, in.TargetLanguage)
	if err != nil {
		return nil, err
	}
	batches := p.prepareBatches(grouping.Batches)

	scratchParent := in.ScratchDir
	if scratchParent == "" {
		scratchParent = p.cfg.Pipeline.ScratchDir
	}
	scr, err := newScratch(scratchParent, p.logger)
	if err != nil {
		return nil, err
	}
	defer scr.cleanup()

	result := &Result{
		Segments: make(map[int][]byte),
		Pauses:   make(map[int][]byte),
	}

	lastAlignText := ""
	for i, b := range batches {
		segs, err := p.runBatch(ctx, scr, i, b, &lastAlignText, result)
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d (voice %s): %w", i+1, len(batches), b.VoiceID, err)
		}
		for idx, buf := range segs {
			result.Segments[idx] = buf
		}
		p.batchCounter.Add(ctx, 1)
		if in.Progress != nil {
			in.Progress(i+1, len(batches))
		}
	}

	silence := in.Silence
	if silence == nil {
		silence = func(seconds float64) ([]byte, error) {
			return audio.Silence(seconds, p.cfg.Synthesis.SampleRate, p.cfg.Synthesis.Channels)
		}
	}
	for idx, seconds := range grouping.Pauses {
		buf, err := silence(seconds)
		if err != nil {
			return nil, fmt.Errorf("generate silence for unit %d: %w", idx, err)
		}
		result.Pauses[idx] = buf
	}

	entries, err := timeline.Reconstruct(units, result.Segments, result.Pauses)
	if err != nil {
		return nil, err
	}
	result.Timeline = entries
	result.BatchCount = len(batches)
	result.CallCount = len(batches) + len(grouping.Pauses)

	p.logger.Info("pipeline complete",
		slog.Int("units", len(units)),
		slog.Int("batches", result.BatchCount),
		slog.Int("calls", result.CallCount),
		slog.Int("cache_hits", result.CacheHits))
	return result, nil
}

// resolveUnits applies the pronunciation-override transform ahead of payload
// building, leaving the caller's slice untouched.
func (p *Pipeline) resolveUnits(in Input) []script.Unit {
	if in.ResolveText == nil {
		return in.Units
	}
	units := make([]script.Unit, len(in.Units))
	copy(units, in.Units)
	for i := range units {
		if units[i].Voiced() {
			units[i].Text = in.ResolveText(units[i].ResolvedText())
			units[i].Reading = ""
		}
	}
	return units
}

// prepareBatches applies per-backend capability and size constraints to the
// grouper's output, preserving batch order.
func (p *Pipeline) prepareBatches(grouped []batch.Batch) []batch.Batch {
	gap := p.cfg.Synthesis.Mark.GapMS
	var out []batch.Batch
	for _, b := range grouped {
		forced := b.Voice.Capability == synth.CapSingleUnit ||
			slices.Contains(p.cfg.Pipeline.SingleUnitLanguages, baseLanguage(b.Language))
		switch {
		case forced:
			out = append(out, batch.Explode([]batch.Batch{b})...)
		case b.Voice.Capability == synth.CapMarkTimepoints:
			out = append(out, batch.Resplit([]batch.Batch{b}, p.cfg.Synthesis.Mark.MaxPayloadBytes,
				func(b batch.Batch) int { return payload.MarkedSize(b, gap) })...)
		case b.Voice.Capability == synth.CapCharAlignment:
			out = append(out, batch.Resplit([]batch.Batch{b}, p.cfg.Synthesis.Align.MaxPayloadChars,
				payload.PlainSize)...)
		default:
			out = append(out, b)
		}
	}
	return out
}

func baseLanguage(code string) string {
	for i := 0; i < len(code); i++ {
		if code[i] == '-' {
			return code[:i]
		}
	}
	return code
}

// runBatch synthesizes one batch and returns its per-unit segments.
func (p *Pipeline) runBatch(ctx context.Context, scr *scratch, pos int, b batch.Batch, lastAlignText *string, result *Result) (map[int][]byte, error) {
	backend, err := p.registry.Select(b.Voice.Capability)
	if err != nil {
		return nil, err
	}

	switch b.Voice.Capability {
	case synth.CapMarkTimepoints:
		return p.runMarkBatch(ctx, scr, pos, b, backend)
	case synth.CapCharAlignment:
		return p.runAlignBatch(ctx, scr, pos, b, backend, lastAlignText)
	case synth.CapSingleUnit:
		return p.runSingleUnit(ctx, b, backend, result)
	}
	return nil, fmt.Errorf("unsupported capability %s", b.Voice.Capability)
}

func (p *Pipeline) runMarkBatch(ctx context.Context, scr *scratch, pos int, b batch.Batch, backend synth.Backend) (map[int][]byte, error) {
	markup := payload.Marked(b, p.cfg.Synthesis.Mark.GapMS)
	req := synth.Request{
		Payload:  markup,
		Voice:    b.Voice.ID,
		Language: b.Language,
		Speed:    b.Speed,
		Pitch:    b.Pitch,
	}
	res, err := p.synthesize(ctx, backend, req, b.Chars(), b.Speed)
	if err != nil {
		return nil, err
	}
	if _, err := scr.write(fmt.Sprintf("batch_%03d.wav", pos), res.Audio); err != nil {
		return nil, err
	}
	return p.splitter.SplitTimepoints(ctx, b, res.Audio, res.Timepoints)
}

func (p *Pipeline) runAlignBatch(ctx context.Context, scr *scratch, pos int, b batch.Batch, backend synth.Backend, lastAlignText *string) (map[int][]byte, error) {
	rendered := payload.Plain(b)
	preceding := *lastAlignText
	if len(b.Items) == 1 && b.Items[0].Context != "" {
		preceding = b.Items[0].Context
	}
	req := synth.Request{
		Payload:       rendered.Text,
		Voice:         b.Voice.ID,
		Language:      b.Language,
		Speed:         b.Speed,
		Pitch:         b.Pitch,
		PrecedingText: preceding,
	}
	res, err := p.synthesize(ctx, backend, req, b.Chars(), b.Speed)
	if err != nil {
		return nil, err
	}
	*lastAlignText = rendered.Text
	if res.Alignment == nil {
		return nil, fmt.Errorf("align backend returned no alignment")
	}
	if _, err := scr.write(fmt.Sprintf("batch_%03d.wav", pos), res.Audio); err != nil {
		return nil, err
	}
	return p.splitter.SplitAlignment(ctx, b, res.Audio, rendered, res.Alignment)
}

func (p *Pipeline) runSingleUnit(ctx context.Context, b batch.Batch, backend synth.Backend, result *Result) (map[int][]byte, error) {
	item := b.Items[0]
	key := cache.Key(b.VoiceID, b.Language, item.Text, b.Speed, b.Pitch)
	if p.cache != nil {
		if buf, ok, err := p.cache.Get(ctx, key); err != nil {
			p.logger.Warn("segment cache lookup failed", slog.String("error", err.Error()))
		} else if ok {
			result.CacheHits++
			return map[int][]byte{item.Index: buf}, nil
		}
	}

	req := synth.Request{
		Payload:       item.Text,
		Voice:         b.Voice.ID,
		Language:      b.Language,
		Speed:         b.Speed,
		Pitch:         b.Pitch,
		PrecedingText: item.Context,
	}
	res, err := p.synthesize(ctx, backend, req, len([]rune(item.Text)), b.Speed)
	if err != nil {
		return nil, err
	}

	buf := res.Audio
	if !res.SpeedApplied && b.Speed != 1.0 {
		buf, err = audio.TempoScale(buf, b.Speed)
		if err != nil {
			return nil, fmt.Errorf("tempo-scale unit %d: %w", item.Index, err)
		}
	}

	if p.cache != nil {
		if err := p.cache.Put(ctx, key, b.VoiceID, b.Language, buf); err != nil {
			p.logger.Warn("segment cache store failed", slog.String("error", err.Error()))
		}
	}
	return map[int][]byte{item.Index: buf}, nil
}

// synthesize issues one backend call under the degenerate-output guard and
// records it.
func (p *Pipeline) synthesize(ctx context.Context, backend synth.Backend, req synth.Request, chars int, speed float64) (synth.Result, error) {
	p.callCounter.Add(ctx, 1)
	return p.splitter.GuardDegenerate(ctx, chars, speed, func(ctx context.Context) (synth.Result, error) {
		return backend.Synthesize(ctx, req)
	})
}
