package payload

import (
	"fmt"
	"math"
	"strings"

	"github.com/linguakit/lessonsynth/internal/batch"
)

// PlainDelimiter separates units in payloads for alignment-capable backends,
// which have no marker concept. Boundaries are recovered from the character
// offsets recorded while concatenating, never from the text itself.
const PlainDelimiter = " ... "

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

var unescaper = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
)

// Escape makes unit text safe for embedding in markup.
func Escape(s string) string { return escaper.Replace(s) }

// Unescape inverts Escape.
func Unescape(s string) string { return unescaper.Replace(s) }

// Marked renders a batch as marked-up text for timepoint-capable backends:
// each unit is preceded by a named boundary marker and separated from its
// neighbor by a short break so the split points are unambiguous. When the
// batch speed differs from 1.0 the whole body is wrapped in a prosody rate
// element, since this backend family controls speed via markup rather than an
// API parameter.
func Marked(b batch.Batch, gapMS int) string {
	var sb strings.Builder
	sb.WriteString("<speak>")

	rate := int(math.Round(b.Speed * 100))
	if rate != 100 {
		fmt.Fprintf(&sb, `<prosody rate="%d%%">`, rate)
	}
	for i, it := range b.Items {
		if i > 0 && gapMS > 0 {
			fmt.Fprintf(&sb, `<break time="%dms"/>`, gapMS)
		}
		fmt.Fprintf(&sb, `<mark name="%s"/>`, it.Mark)
		sb.WriteString(Escape(it.Text))
	}
	if rate != 100 {
		sb.WriteString("</prosody>")
	}
	sb.WriteString("</speak>")
	return sb.String()
}

// MarkedSize reports the byte length of the rendered marked payload, the
// size measure enforced for mark-capable backends.
func MarkedSize(b batch.Batch, gapMS int) int {
	return len(Marked(b, gapMS))
}

// Span records where one unit's text landed inside a plain payload, in rune
// offsets.
type Span struct {
	Index int
	Start int
	End   int
}

// PlainResult is the rendering for alignment-capable backends.
type PlainResult struct {
	Text  string
	Spans []Span
}

// Plain concatenates a batch's units with a fixed delimiter and records each
// unit's rune offsets for boundary recovery against the returned alignment.
func Plain(b batch.Batch) PlainResult {
	var sb strings.Builder
	var spans []Span
	offset := 0
	for i, it := range b.Items {
		if i > 0 {
			sb.WriteString(PlainDelimiter)
			offset += len([]rune(PlainDelimiter))
		}
		runes := len([]rune(it.Text))
		spans = append(spans, Span{Index: it.Index, Start: offset, End: offset + runes})
		sb.WriteString(it.Text)
		offset += runes
	}
	return PlainResult{Text: sb.String(), Spans: spans}
}

// PlainSize reports the rune length of the rendered plain payload, the size
// measure enforced for alignment-capable backends.
func PlainSize(b batch.Batch) int {
	return len([]rune(Plain(b).Text))
}
