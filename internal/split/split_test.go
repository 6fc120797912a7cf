package split

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/linguakit/lessonsynth/internal/audio"
	"github.com/linguakit/lessonsynth/internal/batch"
	"github.com/linguakit/lessonsynth/internal/config"
	"github.com/linguakit/lessonsynth/internal/payload"
	"github.com/linguakit/lessonsynth/internal/synth"
)

const testRate = 22050

func testSplitter(t *testing.T, mutate func(*config.SplitConfig)) *Splitter {
	t.Helper()
	cfg := config.Default().Split
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// toneData fills frames with a steady sine so RMS stays well above the
// silence floor everywhere.
func toneData(frames int) *audio.Data {
	samples := make([]int, frames)
	for i := range samples {
		samples[i] = int(8000 * math.Sin(float64(i)*0.1))
	}
	return &audio.Data{Samples: samples, SampleRate: testRate, Channels: 1}
}

func encodeTone(t *testing.T, seconds float64) []byte {
	t.Helper()
	buf, err := audio.Encode(toneData(int(seconds * testRate)))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf
}

func segmentDuration(t *testing.T, buf []byte) float64 {
	t.Helper()
	dur, err := audio.DurationSec(buf)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	return dur
}

func markedBatch(texts ...string) batch.Batch {
	b := batch.Batch{
		VoiceID:  "es-ES-Neural2-A",
		Voice:    synth.VoiceInfo{ID: "es-ES-Neural2-A", Capability: synth.CapMarkTimepoints, Language: "es-ES"},
		Speed:    1.0,
		Language: "es-ES",
	}
	for i, text := range texts {
		b.Items = append(b.Items, batch.Item{Index: i, Mark: markName(i), Text: text})
	}
	return b
}

func markName(i int) string {
	return "u" + string(rune('0'+i))
}

func TestSplitTimepointsCorrectsMarkerLatency(t *testing.T) {
	s := testSplitter(t, nil)
	wav := encodeTone(t, 2.0)
	b := markedBatch("hola", "adiós")
	tps := []synth.Timepoint{{Mark: "u0", Seconds: 0.1}, {Mark: "u1", Seconds: 1.1}}

	segs, err := s.SplitTimepoints(context.Background(), b, wav, tps)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	// Correction pulls both starts back by 0.1s, so each unit covers 1s.
	if d := segmentDuration(t, segs[0]); math.Abs(d-1.0) > 1e-2 {
		t.Fatalf("unit 0 duration %f, want ~1.0", d)
	}
	if d := segmentDuration(t, segs[1]); math.Abs(d-1.0) > 1e-2 {
		t.Fatalf("unit 1 duration %f, want ~1.0", d)
	}
}

func TestSplitTimepointsMissingMarkerIsFatal(t *testing.T) {
	s := testSplitter(t, nil)
	wav := encodeTone(t, 1.0)
	b := markedBatch("hola", "adiós")
	tps := []synth.Timepoint{{Mark: "u0", Seconds: 0.1}}

	if _, err := s.SplitTimepoints(context.Background(), b, wav, tps); err == nil {
		t.Fatal("expected error for missing timepoint")
	}
}

func TestSplitTimepointsClampsDegenerateSpan(t *testing.T) {
	s := testSplitter(t, nil)
	wav := encodeTone(t, 2.0)
	b := markedBatch("a", "b")
	// Identical marker times leave unit 0 with zero width even after
	// falling back to raw values.
	tps := []synth.Timepoint{{Mark: "u0", Seconds: 0.5}, {Mark: "u1", Seconds: 0.5}}

	segs, err := s.SplitTimepoints(context.Background(), b, wav, tps)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if d := segmentDuration(t, segs[0]); d < s.cfg.MinSegmentSec-1e-3 {
		t.Fatalf("unit 0 duration %f below minimum %f", d, s.cfg.MinSegmentSec)
	}
}

func alignedBatch(texts ...string) batch.Batch {
	b := batch.Batch{
		VoiceID:  "el:voice1",
		Voice:    synth.VoiceInfo{ID: "voice1", Capability: synth.CapCharAlignment},
		Speed:    1.0,
		Language: "es",
	}
	for i, text := range texts {
		b.Items = append(b.Items, batch.Item{Index: i, Mark: markName(i), Text: text})
	}
	return b
}

// uniformAlignment times every payload character at secPerChar.
func uniformAlignment(text string, secPerChar float64) *synth.Alignment {
	runes := []rune(text)
	al := &synth.Alignment{}
	for i, r := range runes {
		al.Chars = append(al.Chars, string(r))
		al.Starts = append(al.Starts, float64(i)*secPerChar)
		al.Ends = append(al.Ends, float64(i+1)*secPerChar)
	}
	return al
}

func TestSplitAlignmentPadsSpans(t *testing.T) {
	s := testSplitter(t, func(cfg *config.SplitConfig) { cfg.SnapEnabled = false })
	wav := encodeTone(t, 2.0)
	b := alignedBatch("ab", "cd")
	rendered := payload.Plain(b)
	al := uniformAlignment(rendered.Text, 0.2)

	segs, err := s.SplitAlignment(context.Background(), b, wav, rendered, al)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	// Unit 0: chars at [0, 0.4], start clamped to zero, end padded by 0.12.
	if d := segmentDuration(t, segs[0]); math.Abs(d-0.52) > 1e-2 {
		t.Fatalf("unit 0 duration %f, want ~0.52", d)
	}
	// Unit 1: chars at [1.4, 1.8], padded to [1.32, 1.92].
	if d := segmentDuration(t, segs[1]); math.Abs(d-0.60) > 1e-2 {
		t.Fatalf("unit 1 duration %f, want ~0.60", d)
	}
}

func TestSplitAlignmentScalesPaddingWithSpeed(t *testing.T) {
	s := testSplitter(t, func(cfg *config.SplitConfig) { cfg.SnapEnabled = false })
	wav := encodeTone(t, 2.0)
	b := alignedBatch("ab", "cd")
	b.Speed = 2.0
	rendered := payload.Plain(b)
	al := uniformAlignment(rendered.Text, 0.1)

	segs, err := s.SplitAlignment(context.Background(), b, wav, rendered, al)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	// At 2x speed the end pad halves: chars [0, 0.2] + 0.06 -> 0.26s.
	if d := segmentDuration(t, segs[0]); math.Abs(d-0.26) > 1e-2 {
		t.Fatalf("unit 0 duration %f, want ~0.26", d)
	}
}

func TestSplitAlignmentRejectsLengthMismatch(t *testing.T) {
	s := testSplitter(t, nil)
	wav := encodeTone(t, 1.0)
	b := alignedBatch("ab", "cd")
	rendered := payload.Plain(b)
	al := uniformAlignment("short", 0.1)

	if _, err := s.SplitAlignment(context.Background(), b, wav, rendered, al); err == nil {
		t.Fatal("expected error for alignment length mismatch")
	}
}

func TestSnapBoundariesMovesCutIntoSilence(t *testing.T) {
	s := testSplitter(t, nil)

	// Loud for 0.5s, silent until 0.7s, loud again until 1.2s.
	frames := int(1.2 * testRate)
	d := toneData(frames)
	for i := int(0.5 * testRate); i < int(0.7*testRate); i++ {
		d.Samples[i] = 0
	}

	spans := []span{
		{index: 0, startSec: 0, endSec: 0.45},
		{index: 1, startSec: 0.45, endSec: 1.2},
	}
	s.snapBoundaries(d, spans)

	if spans[0].endSec != spans[1].startSec {
		t.Fatalf("snapped neighbors not contiguous: %f vs %f", spans[0].endSec, spans[1].startSec)
	}
	cut := spans[0].endSec
	if cut <= 0.5 || cut >= 0.7 {
		t.Fatalf("cut %f did not land inside the silent gap", cut)
	}
	if math.Abs(cut-0.45) > s.cfg.SnapRadiusSec+1e-9 {
		t.Fatalf("cut %f moved beyond the search radius", cut)
	}
	if spans[0].endSec-spans[0].startSec < s.cfg.MinSegmentSec {
		t.Fatal("snap shrank the first segment below minimum")
	}
}

func TestSnapBoundariesKeepsCutWithoutQuietPoint(t *testing.T) {
	s := testSplitter(t, nil)

	d := toneData(int(1.2 * testRate))
	spans := []span{
		{index: 0, startSec: 0, endSec: 0.6},
		{index: 1, startSec: 0.6, endSec: 1.2},
	}
	s.snapBoundaries(d, spans)

	// Uniform loudness offers no candidate meaningfully quieter than the
	// nominal cut, so nothing should move.
	if spans[0].endSec != 0.6 || spans[1].startSec != 0.6 {
		t.Fatalf("cut moved without a quiet point: %f / %f", spans[0].endSec, spans[1].startSec)
	}
}

func TestGuardDegenerateAcceptsNormalOutput(t *testing.T) {
	s := testSplitter(t, nil)
	wav := encodeTone(t, 1.0)

	calls := 0
	res, err := s.GuardDegenerate(context.Background(), 4, 1.0, func(context.Context) (synth.Result, error) {
		calls++
		return synth.Result{Audio: wav}, nil
	})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if d := segmentDuration(t, res.Audio); math.Abs(d-1.0) > 1e-3 {
		t.Fatalf("audio altered: %f", d)
	}
}

func TestGuardDegenerateRetriesThenTruncates(t *testing.T) {
	s := testSplitter(t, nil)
	runaway := encodeTone(t, 30.0)

	calls := 0
	res, err := s.GuardDegenerate(context.Background(), 2, 1.0, func(context.Context) (synth.Result, error) {
		calls++
		return synth.Result{Audio: runaway}, nil
	})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls)
	}
	// 2 chars at the default ceiling: 2.0 + 2*0.9 = 3.8s.
	maxSec := s.MaxExpectedSec(2, 1.0)
	if d := segmentDuration(t, res.Audio); math.Abs(d-maxSec) > 1e-2 {
		t.Fatalf("expected truncation to %f, got %f", maxSec, d)
	}
}

func TestGuardDegenerateRetryCanRecover(t *testing.T) {
	s := testSplitter(t, nil)
	runaway := encodeTone(t, 30.0)
	good := encodeTone(t, 1.0)

	calls := 0
	res, err := s.GuardDegenerate(context.Background(), 2, 1.0, func(context.Context) (synth.Result, error) {
		calls++
		if calls == 1 {
			return synth.Result{Audio: runaway}, nil
		}
		return synth.Result{Audio: good}, nil
	})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if d := segmentDuration(t, res.Audio); math.Abs(d-1.0) > 1e-3 {
		t.Fatalf("expected the healthy retry output, got %f", d)
	}
}
