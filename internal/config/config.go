package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	GeminiAPIKey string
	GeminiModels []string

	SpeechPython        string
	SpeechWorkerScript  string
	SpeechPersistent    bool
	SpeechTimeout       time.Duration
	SpeechWarmupTimeout time.Duration
	SpeechWorkDir       string

	FFmpegPath     string
	FFmpegTimeout  time.Duration
	PiperModelsDir string
	PiperVoice     string
	PiperStyle     string
	PiperSpeakerID int

	HistoryBackend string
	DatabaseURL    string
	RedisURL       string
	RedisTTL       time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("LUMA_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("LUMA_METRICS_NAMESPACE", "luma"),
		GeminiAPIKey:        trimmedEnv("GEMINI_API_KEY"),
		SpeechPython:        envOrDefault("SPEECH_PYTHON", "python3"),
		SpeechWorkerScript:  envOrDefault("SPEECH_WORKER_SCRIPT", "scripts/speech_worker.py"),
		SpeechPersistent:    true,
		SpeechTimeout:       60 * time.Second,
		SpeechWarmupTimeout: 2 * time.Minute,
		SpeechWorkDir:       trimmedEnv("SPEECH_WORK_DIR"),
		FFmpegPath:          envOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFmpegTimeout:       30 * time.Second,
		PiperModelsDir:      envOrDefault("PIPER_MODELS_DIR", "models/piper"),
		PiperVoice:          envOrDefault("PIPER_VOICE", "en_US-amy-low"),
		PiperStyle:          envOrDefault("PIPER_TTS_STYLE", "default"),
		HistoryBackend:      envOrDefault("HISTORY_BACKEND", "auto"),
		DatabaseURL:         trimmedEnv("DATABASE_URL"),
		RedisURL:            trimmedEnv("REDIS_URL"),
		RedisTTL:            24 * time.Hour,
		ShutdownTimeout:     15 * time.Second,
	}

	if raw := trimmedEnv("GEMINI_MODELS"); raw != "" {
		for _, m := range strings.Split(raw, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.GeminiModels = append(cfg.GeminiModels, m)
			}
		}
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("LUMA_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechTimeout, err = durationFromEnv("SPEECH_TIMEOUT", cfg.SpeechTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechWarmupTimeout, err = durationFromEnv("SPEECH_WARMUP_TIMEOUT", cfg.SpeechWarmupTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FFmpegTimeout, err = durationFromEnv("FFMPEG_TIMEOUT", cfg.FFmpegTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisTTL, err = durationFromEnv("REDIS_HISTORY_TTL", cfg.RedisTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechPersistent, err = boolFromEnv("SPEECH_WORKER_PERSISTENT", cfg.SpeechPersistent)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("LUMA_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.PiperSpeakerID, err = intFromEnv("PIPER_SPEAKER_ID", cfg.PiperSpeakerID)
	if err != nil {
		return Config{}, err
	}

	if cfg.SpeechTimeout < time.Second {
		return Config{}, fmt.Errorf("SPEECH_TIMEOUT must be at least 1s")
	}
	if cfg.PiperSpeakerID < 0 {
		return Config{}, fmt.Errorf("PIPER_SPEAKER_ID must be >= 0")
	}
	switch cfg.HistoryBackend {
	case "auto", "memory", "postgres", "redis":
	default:
		return Config{}, fmt.Errorf("HISTORY_BACKEND must be auto, memory, postgres or redis")
	}

	return cfg, nil
}

// WorkerCommand is the argv that launches the speech worker in serve mode.
func (c Config) WorkerCommand() []string {
	return []string{c.SpeechPython, "-u", c.SpeechWorkerScript, "serve"}
}

// OneShotCommand is the argv prefix for degraded per-call execution.
func (c Config) OneShotCommand() []string {
	return []string{c.SpeechPython, c.SpeechWorkerScript}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
