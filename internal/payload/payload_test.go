package payload

import (
	"strings"
	"testing"

	"github.com/linguakit/lessonsynth/internal/batch"
)

func testBatch(speed float64, texts ...string) batch.Batch {
	b := batch.Batch{VoiceID: "es-ES-Neural2-A", Speed: speed, Language: "es-ES"}
	for i, text := range texts {
		b.Items = append(b.Items, batch.Item{Index: i, Mark: markOf(i), Text: text})
	}
	return b
}

func markOf(i int) string {
	return "u" + string(rune('0'+i))
}

func TestEscapeRoundTrip(t *testing.T) {
	original := `tom & jerry <say> "it's fine"`
	escaped := Escape(original)
	if strings.ContainsAny(escaped, `<>"'`) || strings.Contains(escaped, "& ") {
		t.Fatalf("escape left specials behind: %q", escaped)
	}
	if got := Unescape(escaped); got != original {
		t.Fatalf("round trip failed: %q", got)
	}
}

func TestMarkedWrapsUnitsWithMarkers(t *testing.T) {
	markup := Marked(testBatch(1.0, "hola", "adiós"), 150)
	if !strings.HasPrefix(markup, "<speak>") || !strings.HasSuffix(markup, "</speak>") {
		t.Fatalf("markup not wrapped in speak element: %q", markup)
	}
	if !strings.Contains(markup, `<mark name="u0"/>hola`) {
		t.Fatalf("missing first marker: %q", markup)
	}
	if !strings.Contains(markup, `<break time="150ms"/><mark name="u1"/>`) {
		t.Fatalf("missing gap before second unit: %q", markup)
	}
	if strings.Contains(markup, "prosody") {
		t.Fatalf("default speed must not emit prosody: %q", markup)
	}
}

func TestMarkedAppliesRateWrapper(t *testing.T) {
	markup := Marked(testBatch(0.75, "despacio"), 150)
	if !strings.Contains(markup, `<prosody rate="75%">`) || !strings.Contains(markup, "</prosody>") {
		t.Fatalf("expected prosody rate wrapper: %q", markup)
	}
}

func TestMarkedEscapesText(t *testing.T) {
	markup := Marked(testBatch(1.0, "a&b<c"), 0)
	if !strings.Contains(markup, "a&amp;b&lt;c") {
		t.Fatalf("text not escaped: %q", markup)
	}
}

func TestMarkedSizeMatchesRendering(t *testing.T) {
	b := testBatch(1.0, "uno", "dos")
	if MarkedSize(b, 150) != len(Marked(b, 150)) {
		t.Fatal("MarkedSize disagrees with Marked")
	}
}

func TestPlainRecordsSpans(t *testing.T) {
	b := testBatch(1.0, "ab", "cde")
	rendered := Plain(b)

	want := "ab" + PlainDelimiter + "cde"
	if rendered.Text != want {
		t.Fatalf("unexpected payload text %q", rendered.Text)
	}
	if len(rendered.Spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(rendered.Spans))
	}
	runes := []rune(rendered.Text)
	for i, sp := range rendered.Spans {
		if got := string(runes[sp.Start:sp.End]); got != b.Items[i].Text {
			t.Fatalf("span %d recovers %q, want %q", i, got, b.Items[i].Text)
		}
	}
	if PlainSize(b) != len(runes) {
		t.Fatal("PlainSize disagrees with rendered text")
	}
}
