package audio

import (
	"math"
	"testing"
)

func tone(frames, sampleRate int) *Data {
	samples := make([]int, frames)
	for i := range samples {
		samples[i] = int(8000 * math.Sin(float64(i)*0.1))
	}
	return &Data{Samples: samples, SampleRate: sampleRate, Channels: 1}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := tone(22050, 22050)
	encoded, err := Encode(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SampleRate != 22050 || decoded.Channels != 1 {
		t.Fatalf("unexpected format: %d Hz / %d ch", decoded.SampleRate, decoded.Channels)
	}
	if len(decoded.Samples) != len(src.Samples) {
		t.Fatalf("expected %d samples, got %d", len(src.Samples), len(decoded.Samples))
	}
	if got := decoded.DurationSec(); math.Abs(got-1.0) > 1e-6 {
		t.Fatalf("expected 1s duration, got %f", got)
	}
}

func TestSilenceDuration(t *testing.T) {
	buf, err := Silence(2.5, 22050, 1)
	if err != nil {
		t.Fatalf("silence: %v", err)
	}
	dur, err := DurationSec(buf)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if math.Abs(dur-2.5) > 1e-3 {
		t.Fatalf("expected 2.5s of silence, got %f", dur)
	}
	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i, s := range decoded.Samples {
		if s != 0 {
			t.Fatalf("sample %d not silent: %d", i, s)
		}
	}
}

func TestSliceExtractsRange(t *testing.T) {
	encoded, err := Encode(tone(22050, 22050))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	part, err := Slice(decoded, 0.25, 0.75)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	dur, err := DurationSec(part)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if math.Abs(dur-0.5) > 1e-3 {
		t.Fatalf("expected 0.5s slice, got %f", dur)
	}
}

func TestSliceRejectsInvertedRange(t *testing.T) {
	if _, err := Slice(tone(100, 22050), 1.0, 0.5); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestTruncateCapsDuration(t *testing.T) {
	encoded, err := Encode(tone(44100, 22050))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	capped, err := Truncate(encoded, 0.5)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	dur, err := DurationSec(capped)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if math.Abs(dur-0.5) > 1e-3 {
		t.Fatalf("expected truncation to 0.5s, got %f", dur)
	}

	untouched, err := Truncate(encoded, 10)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if len(untouched) != len(encoded) {
		t.Fatal("expected short-enough buffer to pass through unchanged")
	}
}

func TestTempoScaleChangesDuration(t *testing.T) {
	encoded, err := Encode(tone(22050, 22050))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	faster, err := TempoScale(encoded, 2.0)
	if err != nil {
		t.Fatalf("tempo scale: %v", err)
	}
	dur, err := DurationSec(faster)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if math.Abs(dur-0.5) > 1e-2 {
		t.Fatalf("expected 0.5s after 2x speedup, got %f", dur)
	}

	if _, err := TempoScale(encoded, 0); err == nil {
		t.Fatal("expected error for zero factor")
	}
}
