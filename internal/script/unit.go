package script

// UnitKind discriminates the script unit variants.
type UnitKind int

const (
	// KindNarration is spoken in the learner's native language.
	KindNarration UnitKind = iota
	// KindSpeech is spoken in the target language.
	KindSpeech
	// KindPause inserts pure silence of a fixed duration.
	KindPause
	// KindMarker is a structural placeholder that produces no audio.
	KindMarker
)

func (k UnitKind) String() string {
	switch k {
	case KindNarration:
		return "narration"
	case KindSpeech:
		return "speech"
	case KindPause:
		return "pause"
	case KindMarker:
		return "marker"
	}
	return "unknown"
}

// Unit is one atomic scripted item. A unit's position in its sequence is its
// only identity; every downstream structure refers back to that index.
type Unit struct {
	Kind  UnitKind
	Voice string
	Text  string

	// Reading is an optional phonetic rendering (kana, pinyin) substituted
	// for Text when the voice cannot read the surface form reliably.
	Reading string

	// Context is the surrounding phrase, handed to backends that accept
	// preceding text for pronunciation continuity.
	Context string

	Speed float64
	Pitch float64

	// DurationSec is only meaningful for pause units.
	DurationSec float64
}

// Narration builds a native-language narration unit.
func Narration(voice, text string) Unit {
	return Unit{Kind: KindNarration, Voice: voice, Text: text, Speed: 1.0}
}

// Speech builds a target-language speech unit.
func Speech(voice, text string, speed float64) Unit {
	if speed <= 0 {
		speed = 1.0
	}
	return Unit{Kind: KindSpeech, Voice: voice, Text: text, Speed: speed}
}

// Pause builds a silent unit of the given duration.
func Pause(seconds float64) Unit {
	return Unit{Kind: KindPause, DurationSec: seconds}
}

// Marker builds a structural unit that produces no audio.
func Marker() Unit {
	return Unit{Kind: KindMarker}
}

// ResolvedText returns the text actually sent to a synthesizer: the phonetic
// reading when present, the surface text otherwise.
func (u Unit) ResolvedText() string {
	if u.Reading != "" {
		return u.Reading
	}
	return u.Text
}

// Voiced reports whether the unit requires a synthesis call.
func (u Unit) Voiced() bool {
	return u.Kind == KindNarration || u.Kind == KindSpeech
}

// NonMarkerIndices returns the indices of every unit that must end up with a
// resolved audio segment.
func NonMarkerIndices(units []Unit) []int {
	var out []int
	for i, u := range units {
		if u.Kind != KindMarker {
			out = append(out, i)
		}
	}
	return out
}
