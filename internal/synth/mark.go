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

// markBackend fronts the timepoint-capable vendor gateway. It accepts marked
// markup and returns one combined audio buffer plus the fired marker times.
// Speaking rate travels inside the markup (prosody element), not as an API
// parameter, so results always report the speed as applied.
type markBackend struct {
	cfg    config.MarkBackendConfig
	client *http.Client
}

func NewMarkBackend(cfg config.MarkBackendConfig) Backend {
	return &markBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

func (b *markBackend) Capability() Capability { return CapMarkTimepoints }

type markRequest struct {
	Markup           string  `json:"markup"`
	Voice            string  `json:"voice"`
	LanguageCode     string  `json:"language_code"`
	Pitch            float64 `json:"pitch,omitempty"`
	EnableTimepoints bool    `json:"enable_timepoints"`
}

type markTimepoint struct {
	MarkName    string  `json:"mark_name"`
	TimeSeconds float64 `json:"time_seconds"`
}

type markResponse struct {
	AudioBase64 string          `json:"audio_base64"`
	Timepoints  []markTimepoint `json:"timepoints"`
}

func (b *markBackend) Synthesize(ctx context.Context, req Request) (Result, error) {
	payload := markRequest{
		Markup:           req.Payload,
		Voice:            req.Voice,
		LanguageCode:     req.Language,
		Pitch:            req.Pitch,
		EnableTimepoints: true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("mark backend call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("mark backend returned status %s", resp.Status)
	}

	var decoded markResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode mark backend response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.AudioBase64)
	if err != nil {
		return Result{}, fmt.Errorf("decode mark backend audio: %w", err)
	}

	result := Result{Audio: audio, SpeedApplied: true}
	for _, tp := range decoded.Timepoints {
		result.Timepoints = append(result.Timepoints, Timepoint{Mark: tp.MarkName, Seconds: tp.TimeSeconds})
	}
	return result, nil
}
