package audio

import (
	"bytes"
	"fmt"
	"io"
	"math"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// Data holds decoded PCM samples. Samples are interleaved when Channels > 1.
type Data struct {
	Samples    []int
	SampleRate int
	Channels   int
}

// DurationSec returns the playback length of the decoded audio.
func (d *Data) DurationSec() float64 {
	if d.SampleRate <= 0 || d.Channels <= 0 {
		return 0
	}
	return float64(len(d.Samples)) / float64(d.SampleRate*d.Channels)
}

// FrameAt converts a time offset to an interleaved sample offset, clamped to
// the buffer.
func (d *Data) FrameAt(sec float64) int {
	frame := int(math.Round(sec*float64(d.SampleRate))) * d.Channels
	if frame < 0 {
		frame = 0
	}
	if frame > len(d.Samples) {
		frame = len(d.Samples)
	}
	return frame
}

// wavBuffer adapts a byte slice to the io.WriteSeeker the wav encoder needs.
type wavBuffer struct {
	buf []byte
	pos int
}

func (w *wavBuffer) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		grown := make([]byte, need)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

func (w *wavBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = w.pos + int(offset)
	case io.SeekEnd:
		next = len(w.buf) + int(offset)
	default:
		return 0, fmt.Errorf("unsupported seek whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("seek before start of buffer")
	}
	w.pos = next
	return int64(next), nil
}

// Encode renders decoded samples back into a PCM16 WAV byte buffer.
func Encode(d *Data) ([]byte, error) {
	if d.SampleRate <= 0 || d.Channels <= 0 {
		return nil, fmt.Errorf("encode wav: invalid format %d Hz / %d ch", d.SampleRate, d.Channels)
	}
	out := &wavBuffer{}
	enc := wav.NewEncoder(out, d.SampleRate, bitDepth, d.Channels, 1)
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: d.Channels, SampleRate: d.SampleRate},
		Data:   d.Samples,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.buf, nil
}

// Decode parses a WAV byte buffer into PCM samples.
func Decode(data []byte) (*Data, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil {
		return nil, fmt.Errorf("decode wav: missing format chunk")
	}
	return &Data{
		Samples:    buf.Data,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// DurationSec probes the playback length of a WAV byte buffer.
func DurationSec(data []byte) (float64, error) {
	d, err := Decode(data)
	if err != nil {
		return 0, err
	}
	return d.DurationSec(), nil
}

// Slice extracts the [startSec, endSec) range of the decoded audio and
// re-encodes it as a standalone WAV buffer. The source is never mutated, so
// concurrent slices of the same Data are safe.
func Slice(d *Data, startSec, endSec float64) ([]byte, error) {
	if endSec < startSec {
		return nil, fmt.Errorf("slice wav: end %.3fs before start %.3fs", endSec, startSec)
	}
	lo := d.FrameAt(startSec)
	hi := d.FrameAt(endSec)
	out := &Data{
		Samples:    d.Samples[lo:hi],
		SampleRate: d.SampleRate,
		Channels:   d.Channels,
	}
	return Encode(out)
}

// Truncate caps a WAV buffer at maxSec, returning it unchanged when already
// short enough.
func Truncate(data []byte, maxSec float64) ([]byte, error) {
	d, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if d.DurationSec() <= maxSec {
		return data, nil
	}
	return Slice(d, 0, maxSec)
}

// TempoScale resamples the audio so it plays `factor` times faster. This is a
// plain linear resample: pitch shifts along with tempo, which is acceptable
// for the small corrections applied to single-unit backends that ignored a
// requested speaking rate.
func TempoScale(data []byte, factor float64) ([]byte, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("tempo scale: factor must be positive, got %f", factor)
	}
	d, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if factor == 1.0 || len(d.Samples) == 0 {
		return data, nil
	}
	frames := len(d.Samples) / d.Channels
	outFrames := int(math.Round(float64(frames) / factor))
	if outFrames < 1 {
		outFrames = 1
	}
	out := make([]int, outFrames*d.Channels)
	for f := 0; f < outFrames; f++ {
		src := float64(f) * factor
		i0 := int(src)
		if i0 >= frames-1 {
			i0 = frames - 1
		}
		frac := src - float64(i0)
		for c := 0; c < d.Channels; c++ {
			a := float64(d.Samples[i0*d.Channels+c])
			b := a
			if i0+1 < frames {
				b = float64(d.Samples[(i0+1)*d.Channels+c])
			}
			out[f*d.Channels+c] = int(math.Round(a + (b-a)*frac))
		}
	}
	return Encode(&Data{Samples: out, SampleRate: d.SampleRate, Channels: d.Channels})
}
