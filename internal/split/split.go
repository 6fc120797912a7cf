package split

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/linguakit/lessonsynth/internal/audio"
	"github.com/linguakit/lessonsynth/internal/batch"
	"github.com/linguakit/lessonsynth/internal/config"
	"github.com/linguakit/lessonsynth/internal/payload"
	"github.com/linguakit/lessonsynth/internal/synth"
)

// Splitter cuts combined synthesis output into per-unit segments using
// whichever timing source the backend produced.
type Splitter struct {
	cfg    config.SplitConfig
	logger *slog.Logger
}

func New(cfg config.SplitConfig, log *slog.Logger) *Splitter {
	return &Splitter{cfg: cfg, logger: log.With(slog.String("component", "splitter"))}
}

// span is one unit's resolved time range inside the combined audio.
type span struct {
	index    int
	startSec float64
	endSec   float64
}

// SplitTimepoints cuts a combined buffer for a batch of N units: the i-th
// segment runs from the i-th corrected marker time to the (i+1)-th, or to end
// of audio for the last unit. The correction subtracts a small fixed offset
// to compensate for marker-firing latency; when correction would produce a
// non-positive duration the raw timepoints are used instead, and as a last
// resort the segment is clamped to the minimum floor duration.
func (s *Splitter) SplitTimepoints(ctx context.Context, b batch.Batch, wavData []byte, tps []synth.Timepoint) (map[int][]byte, error) {
	byMark := make(map[string]float64, len(tps))
	for _, tp := range tps {
		byMark[tp.Mark] = tp.Seconds
	}

	raw := make([]float64, len(b.Items))
	for i, it := range b.Items {
		sec, ok := byMark[it.Mark]
		if !ok {
			return nil, fmt.Errorf("missing timepoint for marker %q (unit %d)", it.Mark, it.Index)
		}
		raw[i] = sec
	}

	decoded, err := audio.Decode(wavData)
	if err != nil {
		return nil, err
	}
	total := decoded.DurationSec()

	corrected := make([]float64, len(raw))
	for i, sec := range raw {
		c := sec - s.cfg.StartCorrectionSec
		if c < 0 {
			c = 0
		}
		corrected[i] = c
	}

	spans := make([]span, len(b.Items))
	for i, it := range b.Items {
		start := corrected[i]
		end := total
		if i+1 < len(corrected) {
			end = corrected[i+1]
		}
		if end-start <= 0 {
			start = raw[i]
			end = total
			if i+1 < len(raw) {
				end = raw[i+1]
			}
		}
		if end-start <= 0 {
			end = start + s.cfg.MinSegmentSec
			if end > total {
				end = total
				start = end - s.cfg.MinSegmentSec
				if start < 0 {
					start = 0
				}
			}
		}
		spans[i] = span{index: it.Index, startSec: start, endSec: end}
	}

	return s.extract(ctx, decoded, spans)
}

// SplitAlignment cuts a combined buffer using per-character timing: a unit
// spans from its first character's start to its last character's end, each
// padded outward by a small fixed amount scaled inversely with speed (slower
// speech stretches silence proportionally). Overlapping neighbors are clamped
// to the next unit's start, and an optional snapping pass then refines each
// inter-unit cut toward the local energy minimum.
func (s *Splitter) SplitAlignment(ctx context.Context, b batch.Batch, wavData []byte, rendered payload.PlainResult, al *synth.Alignment) (map[int][]byte, error) {
	if err := al.Validate(); err != nil {
		return nil, err
	}
	if textLen := len([]rune(rendered.Text)); len(al.Chars) != textLen {
		return nil, fmt.Errorf("alignment covers %d characters but payload has %d", len(al.Chars), textLen)
	}

	decoded, err := audio.Decode(wavData)
	if err != nil {
		return nil, err
	}
	total := decoded.DurationSec()

	speed := b.Speed
	if speed <= 0 {
		speed = 1.0
	}
	startPad := s.cfg.AlignStartPadSec / speed
	endPad := s.cfg.AlignEndPadSec / speed

	spans := make([]span, len(rendered.Spans))
	for i, sp := range rendered.Spans {
		if sp.End <= sp.Start {
			return nil, fmt.Errorf("empty payload span for unit %d", sp.Index)
		}
		start := al.Starts[sp.Start] - startPad
		if start < 0 {
			start = 0
		}
		end := al.Ends[sp.End-1] + endPad
		if end > total {
			end = total
		}
		spans[i] = span{index: sp.Index, startSec: start, endSec: end}
	}
	for i := 0; i+1 < len(spans); i++ {
		if spans[i].endSec > spans[i+1].startSec {
			spans[i].endSec = spans[i+1].startSec
		}
	}

	if s.cfg.SnapEnabled && len(spans) > 1 {
		s.snapBoundaries(decoded, spans)
	}

	return s.extract(ctx, decoded, spans)
}

// extract slices every span out of the decoded source as a bounded set of
// concurrent tasks. The tasks only read the shared sample buffer, so no
// locking is needed.
func (s *Splitter) extract(ctx context.Context, decoded *audio.Data, spans []span) (map[int][]byte, error) {
	type result struct {
		pos int
		buf []byte
		err error
	}

	sem := make(chan struct{}, s.cfg.ExtractConcurrency)
	results := make([]result, len(spans))
	var wg sync.WaitGroup
	for i, sp := range spans {
		wg.Add(1)
		go func(pos int, sp span) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[pos] = result{pos: pos, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			buf, err := audio.Slice(decoded, sp.startSec, sp.endSec)
			results[pos] = result{pos: pos, buf: buf, err: err}
		}(i, sp)
	}
	wg.Wait()

	out := make(map[int][]byte, len(spans))
	for i, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("extract segment for unit %d: %w", spans[i].index, r.err)
		}
		out[spans[i].index] = r.buf
	}
	return out, nil
}

// MaxExpectedSec is the generous per-character duration ceiling used to
// detect vendor-side looping artifacts. A short base allowance covers
// leading/trailing silence on tiny payloads.
func (s *Splitter) MaxExpectedSec(chars int, speed float64) float64 {
	if speed <= 0 {
		speed = 1.0
	}
	if chars < 1 {
		chars = 1
	}
	return 2.0 + float64(chars)*s.cfg.MaxSecPerChar/speed
}

// GuardDegenerate runs a synthesis call and checks the returned buffer
// against the per-character expectation. A degenerate result is retried
// exactly once; if the retry is degenerate too, the audio is hard-truncated
// to the expected maximum rather than propagating corrupt output.
func (s *Splitter) GuardDegenerate(ctx context.Context, chars int, speed float64, call func(context.Context) (synth.Result, error)) (synth.Result, error) {
	maxSec := s.MaxExpectedSec(chars, speed)

	res, err := call(ctx)
	if err != nil {
		return synth.Result{}, err
	}
	dur, err := audio.DurationSec(res.Audio)
	if err != nil {
		return synth.Result{}, err
	}
	if dur <= maxSec {
		return res, nil
	}

	s.logger.Warn("degenerate synthesis output, retrying once",
		slog.Float64("duration_sec", dur),
		slog.Float64("expected_max_sec", maxSec))

	res, err = call(ctx)
	if err != nil {
		return synth.Result{}, err
	}
	dur, err = audio.DurationSec(res.Audio)
	if err != nil {
		return synth.Result{}, err
	}
	if dur <= maxSec {
		return res, nil
	}

	s.logger.Warn("degenerate synthesis output after retry, truncating",
		slog.Float64("duration_sec", dur),
		slog.Float64("expected_max_sec", maxSec))
	truncated, err := audio.Truncate(res.Audio, maxSec)
	if err != nil {
		return synth.Result{}, err
	}
	res.Audio = truncated
	return res, nil
}
