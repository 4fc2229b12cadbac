package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice-agent bridge service.
type Config struct {
	BindAddr         string
	PublicHost       string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	OpenAIAPIKey      string
	RealtimeWSBaseURL string
	RealtimeModel     string
	Voice             string
	Temperature       float64
	Instructions      string

	HeartbeatInterval time.Duration
	HeartbeatDeadline time.Duration
	ConnectTimeout    time.Duration
	SendTimeout       time.Duration

	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	OutboundBufferCap  int
	MaxCallDuration    time.Duration
	SessionIdleTimeout time.Duration

	// DrainPolicy decides what a caller hears when the backend is gone for
	// good: "hangup" ends the call cleanly, "tone" plays a short comfort tone
	// first.
	DrainPolicy string

	DatabaseURL string

	ResendAPIKey string
	EmailFrom    string
	OwnerEmail   string
	CompanyName  string
	AgentName    string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicHost:        strings.TrimSpace(os.Getenv("APP_PUBLIC_HOST")),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "voicebridge"),
		OpenAIAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		RealtimeWSBaseURL: envOrDefault("REALTIME_WS_BASE_URL", "wss://api.openai.com"),
		RealtimeModel:     envOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		Voice:             envOrDefault("REALTIME_VOICE", "alloy"),
		Instructions:      envOrDefault("AGENT_INSTRUCTIONS", defaultInstructions),
		CompanyName:       envOrDefault("COMPANY_NAME", "Bolt AI Group"),
		AgentName:         envOrDefault("AGENT_NAME", "Alex"),
		ResendAPIKey:      strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		EmailFrom:         strings.TrimSpace(os.Getenv("EMAIL_FROM")),
		OwnerEmail:        strings.TrimSpace(os.Getenv("OWNER_EMAIL")),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DrainPolicy:       envOrDefault("DRAIN_POLICY", "hangup"),

		Temperature:        0.8,
		ShutdownTimeout:    15 * time.Second,
		HeartbeatInterval:  20 * time.Second,
		HeartbeatDeadline:  10 * time.Second,
		ConnectTimeout:     30 * time.Second,
		SendTimeout:        5 * time.Second,
		ReconnectAttempts:  3,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  8 * time.Second,
		OutboundBufferCap:  256,
		MaxCallDuration:    10 * time.Minute,
		SessionIdleTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval, err = durationFromEnv("WEBSOCKET_PING_INTERVAL", cfg.HeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatDeadline, err = durationFromEnv("WEBSOCKET_PING_TIMEOUT", cfg.HeartbeatDeadline)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("REALTIME_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SendTimeout, err = durationFromEnv("REALTIME_SEND_TIMEOUT", cfg.SendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectBaseDelay, err = durationFromEnv("RECONNECT_BASE_DELAY", cfg.ReconnectBaseDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectMaxDelay, err = durationFromEnv("RECONNECT_MAX_DELAY", cfg.ReconnectMaxDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxCallDuration, err = durationFromEnv("MAX_CALL_DURATION", cfg.MaxCallDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectAttempts, err = intFromEnv("RECONNECT_ATTEMPTS", cfg.ReconnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundBufferCap, err = intFromEnv("OUTBOUND_BUFFER_CAP", cfg.OutboundBufferCap)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("REALTIME_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}

	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatDeadline <= 0 {
		return Config{}, fmt.Errorf("heartbeat interval and timeout must be positive")
	}
	if cfg.ReconnectAttempts < 0 {
		return Config{}, fmt.Errorf("RECONNECT_ATTEMPTS must be >= 0")
	}
	if cfg.ReconnectBaseDelay <= 0 {
		return Config{}, fmt.Errorf("RECONNECT_BASE_DELAY must be positive")
	}
	if cfg.OutboundBufferCap <= 0 {
		return Config{}, fmt.Errorf("OUTBOUND_BUFFER_CAP must be positive")
	}
	if cfg.MaxCallDuration < time.Minute {
		return Config{}, fmt.Errorf("MAX_CALL_DURATION must be at least 1m")
	}
	switch cfg.DrainPolicy {
	case "hangup", "tone":
	default:
		return Config{}, fmt.Errorf("invalid DRAIN_POLICY: %q (expected hangup|tone)", cfg.DrainPolicy)
	}

	return cfg, nil
}

const defaultInstructions = `You are a helpful AI receptionist. Greet callers warmly, answer questions about the business, help with appointments and inquiries, and keep responses to 1-2 sentences.`

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
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
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
