package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/linguakit/lessonsynth/internal/config"
	"github.com/mattn/go-shellwords"
)

// execBackend shells out to a local synthesizer (piper-style) that voices
// exactly one unit per invocation and returns no timing data: the whole
// buffer is the unit's segment. The subprocess reads one JSON request on
// stdin and writes one JSON response on stdout.
type execBackend struct {
	cmd        []string
	cfg        config.ExecBackendConfig
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Language   string  `json:"language,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Pitch      float64 `json:"pitch,omitempty"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execResponse struct {
	WAVBase64    string `json:"wav_base64"`
	SpeedApplied bool   `json:"speed_applied"`
}

func NewExecBackend(cfg config.ExecBackendConfig, sampleRate, channels int) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command is empty")
	}
	return &execBackend{cmd: args, cfg: cfg, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execBackend) Capability() Capability { return CapSingleUnit }

func (e *execBackend) Synthesize(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	data, err := json.Marshal(execRequest{
		Text:       req.Payload,
		Voice:      req.Voice,
		Language:   req.Language,
		Speed:      req.Speed,
		Pitch:      req.Pitch,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return Result{}, err
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("synth command failed: %w: %s", err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode synth response: %w", err)
	}
	wavBytes, err := base64.StdEncoding.DecodeString(resp.WAVBase64)
	if err != nil {
		return Result{}, fmt.Errorf("decode synth audio: %w", err)
	}
	return Result{Audio: wavBytes, SpeedApplied: resp.SpeedApplied}, nil
}
