package timeline

import (
	"fmt"
	"math"

	"github.com/linguakit/lessonsynth/internal/audio"
	"github.com/linguakit/lessonsynth/internal/script"
)

// Entry places one unit's audio inside the assembled lesson.
type Entry struct {
	Index   int
	StartMS int64
	EndMS   int64
}

// MissingSegmentsError reports every non-marker unit that lacked a resolved
// segment at reconstruction time. Misses are collected rather than failing on
// the first one, to aid diagnosis.
type MissingSegmentsError struct {
	Indices []int
}

const maxReportedMisses = 5

func (e *MissingSegmentsError) Error() string {
	shown := e.Indices
	suffix := ""
	if len(shown) > maxReportedMisses {
		shown = shown[:maxReportedMisses]
		suffix = ", ..."
	}
	return fmt.Sprintf("%d units have no resolved segment (indices %v%s)", len(e.Indices), shown, suffix)
}

// Reconstruct walks the original unit sequence in index order, probes each
// resolved segment's duration, and accumulates the cumulative start/end
// timeline. Probing is sequential: every entry's start depends on the sum of
// all earlier durations. Any unit without a segment is fatal, because
// downstream playback assumes a complete timeline.
func Reconstruct(units []script.Unit, segments, pauses map[int][]byte) ([]Entry, error) {
	var entries []Entry
	var missing []int
	cumulative := 0.0

	for i, u := range units {
		if u.Kind == script.KindMarker {
			continue
		}
		buf, ok := segments[i]
		if !ok {
			buf, ok = pauses[i]
		}
		if !ok {
			missing = append(missing, i)
			continue
		}
		dur, err := audio.DurationSec(buf)
		if err != nil {
			return nil, fmt.Errorf("probe duration of unit %d: %w", i, err)
		}
		entries = append(entries, Entry{
			Index:   i,
			StartMS: int64(math.Round(cumulative * 1000)),
			EndMS:   int64(math.Round((cumulative + dur) * 1000)),
		})
		cumulative += dur
	}

	if len(missing) > 0 {
		return nil, &MissingSegmentsError{Indices: missing}
	}
	return entries, nil
}
