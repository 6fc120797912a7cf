package protocol

import "time"

// UnitMessage is the wire form of one script unit.
type UnitMessage struct {
	Kind        string  `json:"kind"` // narration, speech, pause, marker
	Voice       string  `json:"voice,omitempty"`
	Text        string  `json:"text,omitempty"`
	Reading     string  `json:"reading,omitempty"`
	Context     string  `json:"context,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
	Pitch       float64 `json:"pitch,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// RenderRequest asks the render service to voice one lesson script.
type RenderRequest struct {
	LessonID       string        `json:"lesson_id"`
	Units          []UnitMessage `json:"units"`
	NativeLanguage string        `json:"native_language"`
	TargetLanguage string        `json:"target_language"`
	// OutputDir is where per-unit segment files are written on success.
	OutputDir string `json:"output_dir"`
}

// RenderProgress is published after each synthesis batch completes.
type RenderProgress struct {
	LessonID  string    `json:"lesson_id"`
	Batch     int       `json:"batch"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// TimingMessage is the wire form of one timeline entry.
type TimingMessage struct {
	Index   int   `json:"index"`
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`
}

// RenderComplete reports the terminal outcome of a render. Completed is false
// exactly when Error is set; there is no partial success.
type RenderComplete struct {
	LessonID   string          `json:"lesson_id"`
	Completed  bool            `json:"completed"`
	Error      string          `json:"error,omitempty"`
	BatchCount int             `json:"batch_count,omitempty"`
	CallCount  int             `json:"call_count,omitempty"`
	CacheHits  int             `json:"cache_hits,omitempty"`
	Timeline   []TimingMessage `json:"timeline,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

const (
	SubjectRenderRequest  = "lesson.render.request"
	SubjectRenderProgress = "lesson.render.progress"
	SubjectRenderDone     = "lesson.render.done"
)
