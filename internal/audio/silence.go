package audio

import (
	"fmt"
	"math"
)

// Silence produces a pure-silence WAV buffer of the given duration in the
// pipeline encoding. It depends on no backend and is injectable for tests.
func Silence(seconds float64, sampleRate, channels int) ([]byte, error) {
	if seconds < 0 {
		return nil, fmt.Errorf("silence: negative duration %.3fs", seconds)
	}
	frames := int(math.Round(seconds * float64(sampleRate)))
	return Encode(&Data{
		Samples:    make([]int, frames*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	})
}
