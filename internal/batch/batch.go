package batch

import (
	"fmt"

	"github.com/linguakit/lessonsynth/internal/script"
	"github.com/linguakit/lessonsynth/internal/synth"
)

// Item is one unit's slot inside a batch.
type Item struct {
	// Index is the unit's position in the original sequence.
	Index int
	// Mark is the boundary marker name used in marked payloads.
	Mark string
	// Text is the resolved synthesis text (phonetic reading when present).
	Text string
	// Context is the unit's surrounding phrase, if any.
	Context string
}

// Batch groups units that can be synthesized in one backend call. All items
// share exactly one (voice, speed, language) triple.
type Batch struct {
	VoiceID  string
	Voice    synth.VoiceInfo
	Speed    float64
	Pitch    float64
	Language string
	Items    []Item
}

// Chars returns the total resolved-text character count, the size measure
// for alignment-capable backends.
func (b Batch) Chars() int {
	n := 0
	for _, it := range b.Items {
		n += len([]rune(it.Text))
	}
	return n
}

// Grouping is the grouper output: synthesis-ready batches in deterministic
// order plus the pause units recorded separately.
type Grouping struct {
	Batches []Batch
	// Pauses maps original unit index to pause duration in seconds.
	Pauses map[int]float64
}

// markName derives the boundary marker for a unit index.
func markName(index int) string {
	return fmt.Sprintf("u%d", index)
}

// Group partitions a unit sequence into batches keyed by (voice, speed,
// language), preserving first-seen key order so identical input always yields
// identical batches. Markers are dropped; pauses are recorded separately and
// neither break nor join any batch. An unrecognized voice aborts before any
// network call is made.
func Group(units []script.Unit, nativeLang, targetLang string) (Grouping, error) {
	g := Grouping{Pauses: make(map[int]float64)}
	order := make(map[string]int)

	for i, u := range units {
		switch u.Kind {
		case script.KindMarker:
			continue
		case script.KindPause:
			g.Pauses[i] = u.DurationSec
			continue
		}

		info, err := synth.ParseVoice(u.Voice)
		if err != nil {
			return Grouping{}, fmt.Errorf("group unit %d: %w", i, err)
		}

		lang := info.Language
		if lang == "" {
			if u.Kind == script.KindNarration {
				lang = nativeLang
			} else {
				lang = targetLang
			}
		}

		speed := u.Speed
		if speed <= 0 {
			speed = 1.0
		}

		key := fmt.Sprintf("%s|%.3f|%s", u.Voice, speed, lang)
		item := Item{Index: i, Mark: markName(i), Text: u.ResolvedText(), Context: u.Context}
		if pos, ok := order[key]; ok {
			g.Batches[pos].Items = append(g.Batches[pos].Items, item)
			continue
		}
		order[key] = len(g.Batches)
		g.Batches = append(g.Batches, Batch{
			VoiceID:  u.Voice,
			Voice:    info,
			Speed:    speed,
			Pitch:    u.Pitch,
			Language: lang,
			Items:    []Item{item},
		})
	}
	return g, nil
}

// Resplit cuts every batch whose rendered payload exceeds limit into maximal
// prefix chunks that each fit. This is a greedy bin fill, not an optimal
// pack: batches are already homogeneous, so splitting only costs a few extra
// calls and never correctness. A chunk holding a single oversized unit is
// passed through as-is; a hard refusal then surfaces from the backend as a
// synthesis error, not here.
func Resplit(batches []Batch, limit int, measure func(Batch) int) []Batch {
	var out []Batch
	for _, b := range batches {
		if measure(b) <= limit {
			out = append(out, b)
			continue
		}
		current := b
		current.Items = nil
		for _, it := range b.Items {
			candidate := current
			candidate.Items = append(append([]Item{}, current.Items...), it)
			if len(current.Items) > 0 && measure(candidate) > limit {
				out = append(out, current)
				current = b
				current.Items = []Item{it}
				continue
			}
			current = candidate
		}
		if len(current.Items) > 0 {
			out = append(out, current)
		}
	}
	return out
}

// Explode expands batches into one batch per unit, for backends with no
// cross-unit splitting support. Grouping still ran first so that voice
// parameters stay consistent even when the call count cannot shrink.
func Explode(batches []Batch) []Batch {
	var out []Batch
	for _, b := range batches {
		for _, it := range b.Items {
			single := b
			single.Items = []Item{it}
			out = append(out, single)
		}
	}
	return out
}
