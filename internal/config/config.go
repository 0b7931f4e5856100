package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oodaa/signal-relay/internal/origin"
)

const (
	// envVarPort is the historical deployment knob: just the port number.
	// envVarListenAddr takes precedence when both are set.
	envVarPort       = "PORT"
	envVarListenAddr = "SIGNAL_RELAY_LISTEN_ADDR"

	envVarCORSOrigins = "CORS_ORIGINS"

	envVarMode            = "SIGNAL_RELAY_MODE"
	envVarLogFormat       = "SIGNAL_RELAY_LOG_FORMAT"
	envVarLogLevel        = "SIGNAL_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "SIGNAL_RELAY_SHUTDOWN_TIMEOUT"

	// Admission filter knobs (per source address).
	envVarAdmissionBurst        = "ADMISSION_BURST"
	envVarAdmissionRefillWindow = "ADMISSION_REFILL_WINDOW"
	envVarAdmissionMaxTracked   = "ADMISSION_MAX_TRACKED"

	// Liveness reaper knobs.
	envVarSessionStaleTimeout = "SESSION_STALE_TIMEOUT"
	envVarReaperInterval      = "REAPER_INTERVAL"

	envVarMaxMessageBytes = "MAX_MESSAGE_BYTES"
)

const (
	DefaultPort            = 3002
	DefaultShutdownTimeout = 15 * time.Second

	DefaultAdmissionBurst        int64 = 100
	DefaultAdmissionRefillWindow       = 60 * time.Second
	DefaultAdmissionMaxTracked         = 4096

	DefaultSessionStaleTimeout = 5 * time.Minute
	DefaultReaperInterval      = 5 * time.Minute

	DefaultMaxMessageBytes = int64(64 * 1024)

	DefaultMode Mode = ModeDev
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
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// Admission filter: per-source-address token bucket.
	AdmissionBurst        int64
	AdmissionRefillWindow time.Duration
	AdmissionMaxTracked   int

	// Liveness reaper: sessions silent past SessionStaleTimeout are evicted
	// on the next sweep.
	SessionStaleTimeout time.Duration
	ReaperInterval      time.Duration

	// MaxMessageBytes caps a single inbound websocket frame.
	MaxMessageBytes int64
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, _ := lookup(envVarLogFormat)
	logFormatDefault := envLogFormat
	if logFormatDefault == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, _ := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if logLevelDefault == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddrDefault := envOrDefault(lookup, envVarListenAddr, "")
	if listenAddrDefault == "" {
		port := DefaultPort
		if raw, ok := lookup(envVarPort); ok && strings.TrimSpace(raw) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n <= 0 || n > 65535 {
				return Config{}, fmt.Errorf("invalid %s %q", envVarPort, raw)
			}
			port = n
		}
		listenAddrDefault = ":" + strconv.Itoa(port)
	}

	fs := flag.NewFlagSet("oodaa-signal-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", listenAddrDefault, "TCP listen address (host:port)")
	modeStr := fs.String("mode", modeDefault, "runtime mode: dev or prod")
	logFormatStr := fs.String("log-format", logFormatDefault, "log format: text or json")
	logLevelStr := fs.String("log-level", logLevelDefault, "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(envOrDefault(lookup, envVarCORSOrigins, ""))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	admissionBurst, err := envInt64OrDefault(lookup, envVarAdmissionBurst, DefaultAdmissionBurst)
	if err != nil {
		return Config{}, err
	}
	if admissionBurst < 0 {
		return Config{}, fmt.Errorf("invalid %s %d (must be >= 0; 0 disables admission limiting)", envVarAdmissionBurst, admissionBurst)
	}
	admissionRefillWindow, err := envDurationOrDefault(lookup, envVarAdmissionRefillWindow, DefaultAdmissionRefillWindow)
	if err != nil {
		return Config{}, err
	}
	admissionMaxTracked, err := envIntOrDefault(lookup, envVarAdmissionMaxTracked, DefaultAdmissionMaxTracked)
	if err != nil {
		return Config{}, err
	}

	sessionStaleTimeout, err := envDurationOrDefault(lookup, envVarSessionStaleTimeout, DefaultSessionStaleTimeout)
	if err != nil {
		return Config{}, err
	}
	if sessionStaleTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid %s %s (must be > 0)", envVarSessionStaleTimeout, sessionStaleTimeout)
	}
	reaperInterval, err := envDurationOrDefault(lookup, envVarReaperInterval, DefaultReaperInterval)
	if err != nil {
		return Config{}, err
	}
	if reaperInterval <= 0 {
		return Config{}, fmt.Errorf("invalid %s %s (must be > 0)", envVarReaperInterval, reaperInterval)
	}

	maxMessageBytes, err := envInt64OrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("invalid %s %d (must be > 0)", envVarMaxMessageBytes, maxMessageBytes)
	}

	return Config{
		ListenAddr:      *listenAddr,
		AllowedOrigins:  allowedOrigins,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		AdmissionBurst:        admissionBurst,
		AdmissionRefillWindow: admissionRefillWindow,
		AdmissionMaxTracked:   admissionMaxTracked,

		SessionStaleTimeout: sessionStaleTimeout,
		ReaperInterval:      reaperInterval,

		MaxMessageBytes: maxMessageBytes,
	}, nil
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

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
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

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
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
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalized, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q in %s (expected full origin like https://example.com)", entry, envVarCORSOrigins)
		}
		out = append(out, normalized)
	}

	return out, nil
}
