package split

import (
	"log/slog"
	"math"

	"github.com/linguakit/lessonsynth/internal/audio"
)

// snapBoundaries refines every inter-unit cut toward the nearest local
// energy minimum so imprecise alignment timing does not clip a spoken
// syllable. A cut only moves when the candidate point is meaningfully quieter
// than the nominal boundary relative to the quieter neighboring segment, it
// never moves farther than the search radius, and it never shrinks either
// neighbor below the minimum segment duration. When a cut moves, both
// neighbors are made contiguous at the new point.
func (s *Splitter) snapBoundaries(d *audio.Data, spans []span) {
	for i := 0; i+1 < len(spans); i++ {
		nominal := (spans[i].endSec + spans[i+1].startSec) / 2

		lo := nominal - s.cfg.SnapRadiusSec
		hi := nominal + s.cfg.SnapRadiusSec
		if min := spans[i].startSec + s.cfg.MinSegmentSec; lo < min {
			lo = min
		}
		if max := spans[i+1].endSec - s.cfg.MinSegmentSec; hi > max {
			hi = max
		}
		if hi <= lo {
			continue
		}

		best, bestEnergy := nominal, s.windowRMS(d, nominal)
		nominalEnergy := bestEnergy
		for t := lo; t <= hi; t += s.cfg.SnapStepSec {
			if e := s.windowRMS(d, t); e < bestEnergy {
				best, bestEnergy = t, e
			}
		}
		if best == nominal {
			continue
		}

		prevAvg := s.rangeRMS(d, spans[i].startSec, nominal)
		nextAvg := s.rangeRMS(d, nominal, spans[i+1].endSec)
		quieter := math.Min(prevAvg, nextAvg)

		threshold := math.Max(s.cfg.SnapEnergyFloor, quieter*s.cfg.SnapRelativeRatio)
		if bestEnergy >= nominalEnergy || bestEnergy > threshold {
			continue
		}

		s.logger.Debug("snapped boundary",
			slog.Int("unit", spans[i].index),
			slog.Float64("nominal_sec", nominal),
			slog.Float64("snapped_sec", best))
		spans[i].endSec = best
		spans[i+1].startSec = best
	}
}

// windowRMS computes the root-mean-square energy of a short window centered
// on t, normalized to [0, 1].
func (s *Splitter) windowRMS(d *audio.Data, t float64) float64 {
	half := s.cfg.SnapWindowSec / 2
	return s.rangeRMS(d, t-half, t+half)
}

func (s *Splitter) rangeRMS(d *audio.Data, fromSec, toSec float64) float64 {
	lo := d.FrameAt(fromSec)
	hi := d.FrameAt(toSec)
	if hi <= lo {
		return 0
	}
	var sum float64
	for _, sample := range d.Samples[lo:hi] {
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(hi-lo))
}
