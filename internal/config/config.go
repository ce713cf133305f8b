// Package config loads the process configuration from flags and environment
// variables.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "PEERLENS_LISTEN_ADDR"
	envVarMode            = "PEERLENS_MODE"
	envVarLogFormat       = "PEERLENS_LOG_FORMAT"
	envVarLogLevel        = "PEERLENS_LOG_LEVEL"
	envVarShutdownTimeout = "PEERLENS_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Relay knobs.
	envVarMaxFrameBytes                 = "MAX_FRAME_SIZE"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"

	// Detection engine knobs.
	envVarConfidenceThreshold = "DETECTION_CONFIDENCE_THRESHOLD"
	envVarMaxDetections       = "MAX_DETECTIONS"
	envVarModelDir            = "MODEL_DIR"
	envVarModelManifest       = "MODEL_MANIFEST"
	envVarDefaultModel        = "DEFAULT_MODEL"
	envVarServerInference     = "SERVER_INFERENCE"
	envVarHistoryPath         = "DETECTION_HISTORY_PATH"

	DefaultListenAddr      = "127.0.0.1:3000"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	// DefaultMaxFrameBytes caps relayed frame payloads at 10 MiB; oversized
	// frames are dropped, never forwarded.
	DefaultMaxFrameBytes = 10 * 1024 * 1024

	// DefaultMaxSignalingMessageBytes must leave room for a max-size frame
	// payload (base64-inflated) plus envelope overhead.
	DefaultMaxSignalingMessageBytes      = int64(DefaultMaxFrameBytes*4/3 + 64*1024)
	DefaultMaxSignalingMessagesPerSecond = 100

	DefaultSignalingWSIdleTimeout  = 60 * time.Second
	DefaultSignalingWSPingInterval = 20 * time.Second

	DefaultConfidenceThreshold = 0.3
	DefaultMaxDetections       = 20
	DefaultModelDir            = "models"
	DefaultModel               = "mobilenet-ssd"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins restricts browser origins on the signaling WebSocket.
	// Empty means any origin is accepted (the original deployment served the
	// pages itself and ran with a wildcard CORS policy).
	AllowedOrigins []string

	// ICEServers is handed to browser peers via GET /webrtc/ice. The relay
	// never builds PeerConnections itself.
	ICEServers []webrtc.ICEServer

	MaxFrameBytes                 int
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration

	ConfidenceThreshold float64
	MaxDetections       int
	ModelDir            string
	ModelManifest       string
	DefaultModel        string
	ServerInference     bool
	HistoryPath         string
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("peerlens", flag.ContinueOnError)
	listenFlag := fs.String("listen", "", "listen address (overrides "+envVarListenAddr+")")
	modeFlag := fs.String("mode", "", "dev or prod (overrides "+envVarMode+")")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(firstNonEmpty(*modeFlag, envOrDefault(lookup, envVarMode, string(DefaultMode))))
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	allowedOrigins := splitCommaSeparated(envOrDefault(lookup, envVarAllowedOrigins, ""))

	iceServers, err := parseICEServersFromValues(
		envOrDefault(lookup, envICEServersJSON, ""),
		envOrDefault(lookup, envStunURLs, defaultStunURLs),
		envOrDefault(lookup, envTurnURLs, ""),
		envOrDefault(lookup, envTurnUsername, ""),
		envOrDefault(lookup, envTurnCredential, ""),
	)
	if err != nil {
		return Config{}, err
	}

	maxFrameBytes, err := envIntOrDefault(lookup, envVarMaxFrameBytes, DefaultMaxFrameBytes)
	if err != nil {
		return Config{}, err
	}
	if maxFrameBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxFrameBytes)
	}

	maxSignalingMessageBytes := int64(maxFrameBytes)*4/3 + 64*1024
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}

	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}

	confidenceThreshold := DefaultConfidenceThreshold
	if raw, ok := lookup(envVarConfidenceThreshold); ok && strings.TrimSpace(raw) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || f < 0 || f > 1 {
			return Config{}, fmt.Errorf("invalid %s %q: must be a float in [0,1]", envVarConfidenceThreshold, raw)
		}
		confidenceThreshold = f
	}

	maxDetections, err := envIntOrDefault(lookup, envVarMaxDetections, DefaultMaxDetections)
	if err != nil {
		return Config{}, err
	}
	if maxDetections <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxDetections)
	}

	serverInference := false
	if raw, ok := lookup(envVarServerInference); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarServerInference, raw, err)
		}
		serverInference = v
	}

	cfg := Config{
		ListenAddr:      firstNonEmpty(*listenFlag, envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)),
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,
		ICEServers:      iceServers,

		MaxFrameBytes:                 maxFrameBytes,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SignalingWSIdleTimeout:        wsIdleTimeout,
		SignalingWSPingInterval:       wsPingInterval,

		ConfidenceThreshold: confidenceThreshold,
		MaxDetections:       maxDetections,
		ModelDir:            envOrDefault(lookup, envVarModelDir, DefaultModelDir),
		ModelManifest:       envOrDefault(lookup, envVarModelManifest, ""),
		DefaultModel:        envOrDefault(lookup, envVarDefaultModel, DefaultModel),
		ServerInference:     serverInference,
		HistoryPath:         envOrDefault(lookup, envVarHistoryPath, ""),
	}
	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("unsupported %s %q (want dev or prod)", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported %s %q (want text or json)", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported %s %q", envVarLogLevel, raw)
	}
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
