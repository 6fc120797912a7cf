package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// MarkBackendConfig configures the mark-capable (SSML timepoint) vendor.
type MarkBackendConfig struct {
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	MaxPayloadBytes int    `yaml:"max_payload_bytes"`
	GapMS           int    `yaml:"gap_ms"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

// AlignBackendConfig configures the alignment-capable (per-character timing) vendor.
type AlignBackendConfig struct {
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	MaxPayloadChars int    `yaml:"max_payload_chars"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

// ExecBackendConfig configures the local single-unit-only synthesizer command.
type ExecBackendConfig struct {
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SynthesisConfig struct {
	SampleRate int                `yaml:"sample_rate"`
	Channels   int                `yaml:"channels"`
	Mark       MarkBackendConfig  `yaml:"mark"`
	Align      AlignBackendConfig `yaml:"align"`
	Exec       ExecBackendConfig  `yaml:"exec"`
}

// SplitConfig carries the empirical splitting and boundary-snap tuning. The
// defaults were tuned by listening to vendor output; treat them as
// per-deployment knobs.
type SplitConfig struct {
	StartCorrectionSec float64 `yaml:"start_correction_sec"`
	AlignStartPadSec   float64 `yaml:"align_start_pad_sec"`
	AlignEndPadSec     float64 `yaml:"align_end_pad_sec"`
	MinSegmentSec      float64 `yaml:"min_segment_sec"`
	MaxSecPerChar      float64 `yaml:"max_sec_per_char"`
	ExtractConcurrency int     `yaml:"extract_concurrency"`

	SnapEnabled       bool    `yaml:"snap_enabled"`
	SnapRadiusSec     float64 `yaml:"snap_radius_sec"`
	SnapWindowSec     float64 `yaml:"snap_window_sec"`
	SnapStepSec       float64 `yaml:"snap_step_sec"`
	SnapEnergyFloor   float64 `yaml:"snap_energy_floor"`
	SnapRelativeRatio float64 `yaml:"snap_relative_ratio"`
}

type PipelineConfig struct {
	ScratchDir string `yaml:"scratch_dir"`
	// Languages whose per-unit reading depends on surrounding context and
	// must therefore be synthesized one unit per call.
	SingleUnitLanguages []string `yaml:"single_unit_languages"`
}

type CacheConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ServiceConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Split       SplitConfig     `yaml:"split"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Cache       CacheConfig     `yaml:"cache"`
	Service     ServiceConfig   `yaml:"service"`
}

func Default() Config {
	return Config{
		RuntimeName: "lessonsynth",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Synthesis: SynthesisConfig{
			SampleRate: 22050,
			Channels:   1,
			Mark: MarkBackendConfig{
				MaxPayloadBytes: 4500,
				GapMS:           150,
				TimeoutMS:       30000,
			},
			Align: AlignBackendConfig{
				MaxPayloadChars: 2500,
				TimeoutMS:       30000,
			},
			Exec: ExecBackendConfig{
				TimeoutMS: 30000,
			},
		},
		Split: SplitConfig{
			StartCorrectionSec: 0.1,
			AlignStartPadSec:   0.08,
			AlignEndPadSec:     0.12,
			MinSegmentSec:      0.25,
			MaxSecPerChar:      0.9,
			ExtractConcurrency: 4,
			SnapEnabled:        true,
			SnapRadiusSec:      0.25,
			SnapWindowSec:      0.02,
			SnapStepSec:        0.005,
			SnapEnergyFloor:    1e-4,
			SnapRelativeRatio:  0.5,
		},
		Pipeline: PipelineConfig{
			ScratchDir:          os.TempDir(),
			SingleUnitLanguages: []string{"ja"},
		},
		Cache: CacheConfig{
			Enabled:       false,
			Path:          "./data/segments.db",
			RetentionDays: 30,
			MaxEntries:    50000,
		},
		Service: ServiceConfig{
			Enabled: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LESSONSYNTH_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LESSONSYNTH_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LESSONSYNTH_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LESSONSYNTH_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LESSONSYNTH_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LESSONSYNTH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LESSONSYNTH_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LESSONSYNTH_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LESSONSYNTH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LESSONSYNTH_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LESSONSYNTH_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LESSONSYNTH_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LESSONSYNTH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LESSONSYNTH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LESSONSYNTH_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LESSONSYNTH_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LESSONSYNTH_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.SampleRate, "LESSONSYNTH_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "LESSONSYNTH_SYNTHESIS_CHANNELS")
	overrideString(&cfg.Synthesis.Mark.Endpoint, "LESSONSYNTH_MARK_ENDPOINT")
	overrideString(&cfg.Synthesis.Mark.APIKey, "LESSONSYNTH_MARK_API_KEY")
	overrideInt(&cfg.Synthesis.Mark.MaxPayloadBytes, "LESSONSYNTH_MARK_MAX_PAYLOAD_BYTES")
	overrideInt(&cfg.Synthesis.Mark.GapMS, "LESSONSYNTH_MARK_GAP_MS")
	overrideInt(&cfg.Synthesis.Mark.TimeoutMS, "LESSONSYNTH_MARK_TIMEOUT_MS")
	overrideString(&cfg.Synthesis.Align.Endpoint, "LESSONSYNTH_ALIGN_ENDPOINT")
	overrideString(&cfg.Synthesis.Align.APIKey, "LESSONSYNTH_ALIGN_API_KEY")
	overrideInt(&cfg.Synthesis.Align.MaxPayloadChars, "LESSONSYNTH_ALIGN_MAX_PAYLOAD_CHARS")
	overrideInt(&cfg.Synthesis.Align.TimeoutMS, "LESSONSYNTH_ALIGN_TIMEOUT_MS")
	overrideString(&cfg.Synthesis.Exec.Command, "LESSONSYNTH_EXEC_COMMAND")
	overrideInt(&cfg.Synthesis.Exec.TimeoutMS, "LESSONSYNTH_EXEC_TIMEOUT_MS")
	overrideFloat(&cfg.Split.StartCorrectionSec, "LESSONSYNTH_SPLIT_START_CORRECTION_SEC")
	overrideFloat(&cfg.Split.AlignStartPadSec, "LESSONSYNTH_SPLIT_ALIGN_START_PAD_SEC")
	overrideFloat(&cfg.Split.AlignEndPadSec, "LESSONSYNTH_SPLIT_ALIGN_END_PAD_SEC")
	overrideFloat(&cfg.Split.MinSegmentSec, "LESSONSYNTH_SPLIT_MIN_SEGMENT_SEC")
	overrideFloat(&cfg.Split.MaxSecPerChar, "LESSONSYNTH_SPLIT_MAX_SEC_PER_CHAR")
	overrideInt(&cfg.Split.ExtractConcurrency, "LESSONSYNTH_SPLIT_EXTRACT_CONCURRENCY")
	overrideBool(&cfg.Split.SnapEnabled, "LESSONSYNTH_SPLIT_SNAP_ENABLED")
	overrideFloat(&cfg.Split.SnapRadiusSec, "LESSONSYNTH_SPLIT_SNAP_RADIUS_SEC")
	overrideFloat(&cfg.Split.SnapWindowSec, "LESSONSYNTH_SPLIT_SNAP_WINDOW_SEC")
	overrideFloat(&cfg.Split.SnapStepSec, "LESSONSYNTH_SPLIT_SNAP_STEP_SEC")
	overrideFloat(&cfg.Split.SnapEnergyFloor, "LESSONSYNTH_SPLIT_SNAP_ENERGY_FLOOR")
	overrideFloat(&cfg.Split.SnapRelativeRatio, "LESSONSYNTH_SPLIT_SNAP_RELATIVE_RATIO")
	overrideString(&cfg.Pipeline.ScratchDir, "LESSONSYNTH_PIPELINE_SCRATCH_DIR")
	overrideStringSlice(&cfg.Pipeline.SingleUnitLanguages, "LESSONSYNTH_PIPELINE_SINGLE_UNIT_LANGUAGES")
	overrideBool(&cfg.Cache.Enabled, "LESSONSYNTH_CACHE_ENABLED")
	overrideString(&cfg.Cache.Path, "LESSONSYNTH_CACHE_PATH")
	overrideInt(&cfg.Cache.RetentionDays, "LESSONSYNTH_CACHE_RETENTION_DAYS")
	overrideInt(&cfg.Cache.MaxEntries, "LESSONSYNTH_CACHE_MAX_ENTRIES")
	overrideBool(&cfg.Cache.VacuumOnStart, "LESSONSYNTH_CACHE_VACUUM_ON_START")
	overrideBool(&cfg.Service.Enabled, "LESSONSYNTH_SERVICE_ENABLED")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if cfg.Service.Enabled {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.Channels <= 0 {
		return errors.New("synthesis.channels must be positive")
	}
	if cfg.Synthesis.Mark.MaxPayloadBytes <= 0 {
		return errors.New("synthesis.mark.max_payload_bytes must be positive")
	}
	if cfg.Synthesis.Align.MaxPayloadChars <= 0 {
		return errors.New("synthesis.align.max_payload_chars must be positive")
	}
	if cfg.Split.MinSegmentSec <= 0 {
		return errors.New("split.min_segment_sec must be positive")
	}
	if cfg.Split.MaxSecPerChar <= 0 {
		return errors.New("split.max_sec_per_char must be positive")
	}
	if cfg.Split.ExtractConcurrency <= 0 {
		return errors.New("split.extract_concurrency must be >= 1")
	}
	if cfg.Split.SnapEnabled {
		if cfg.Split.SnapRadiusSec <= 0 {
			return errors.New("split.snap_radius_sec must be positive when snapping is enabled")
		}
		if cfg.Split.SnapWindowSec <= 0 || cfg.Split.SnapStepSec <= 0 {
			return errors.New("split.snap_window_sec and split.snap_step_sec must be positive when snapping is enabled")
		}
		if cfg.Split.SnapRelativeRatio <= 0 || cfg.Split.SnapRelativeRatio >= 1 {
			return errors.New("split.snap_relative_ratio must be in (0, 1)")
		}
	}
	if cfg.Pipeline.ScratchDir == "" {
		return errors.New("pipeline.scratch_dir must not be empty")
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.Path == "" {
			return errors.New("cache.path must not be empty when cache is enabled")
		}
		if cfg.Cache.RetentionDays < 0 {
			return errors.New("cache.retention_days must be >= 0")
		}
	}
	return nil
}
