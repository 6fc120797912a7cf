package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/linguakit/lessonsynth/internal/config"
)

// alignBackend fronts the alignment-capable vendor. It consumes plain text
// (no marker concept) and returns audio plus per-character timing. The vendor
// caps characters per call; the grouper resplits batches under that cap.
type alignBackend struct {
	cfg    config.AlignBackendConfig
	client *http.Client
}

func NewAlignBackend(cfg config.AlignBackendConfig) Backend {
	return &alignBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

func (b *alignBackend) Capability() Capability { return CapCharAlignment }

type alignRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	LanguageCode string  `json:"language_code,omitempty"`
	PreviousText string  `json:"previous_text,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
}

type alignResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Alignment   struct {
		Characters             []string  `json:"characters"`
		CharacterStartsSeconds []float64 `json:"character_start_times_seconds"`
		CharacterEndsSeconds   []float64 `json:"character_end_times_seconds"`
	} `json:"alignment"`
}

func (b *alignBackend) Synthesize(ctx context.Context, req Request) (Result, error) {
	payload := alignRequest{
		Text:         req.Payload,
		VoiceID:      req.Voice,
		LanguageCode: req.Language,
		PreviousText: req.PrecedingText,
		Speed:        req.Speed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint+"/v1/text-to-speech/with-timestamps", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("xi-api-key", b.cfg.APIKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("align backend call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("align backend returned status %s", resp.Status)
	}

	var decoded alignResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode align backend response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.AudioBase64)
	if err != nil {
		return Result{}, fmt.Errorf("decode align backend audio: %w", err)
	}

	alignment := &Alignment{
		Chars:  decoded.Alignment.Characters,
		Starts: decoded.Alignment.CharacterStartsSeconds,
		Ends:   decoded.Alignment.CharacterEndsSeconds,
	}
	if err := alignment.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Audio: audio, Alignment: alignment, SpeedApplied: true}, nil
}
