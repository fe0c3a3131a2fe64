package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every runtime setting of the service.
type Config struct {
	Server   ServerConfig
	Realtime RealtimeConfig
	Analysis AnalysisConfig
	Profile  ProfileConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig()
	if err != nil {
		return nil, err
	}

	analysis, err := loadAnalysisConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Realtime: realtime,
		Analysis: analysis,
		Profile:  loadProfileConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// RealtimeConfig describes the upstream realtime speech provider.
type RealtimeConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	WSBaseURL         string
	Voice             string
	Instructions      string
	MaxResponseTokens int
	Timeout           time.Duration
}

// Enabled reports whether the upstream credentials are present.
func (c RealtimeConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadRealtimeConfig() (RealtimeConfig, error) {
	timeout, err := parseOptionalIntEnv("OPENAI_TIMEOUT")
	if err != nil {
		return RealtimeConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	maxTokens := 4096
	if override, err := parseOptionalIntEnv("OPENAI_MAX_RESPONSE_TOKENS"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		maxTokens = *override
	}

	return RealtimeConfig{
		APIKey:            strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		Model:             getEnvOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		BaseURL:           getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		WSBaseURL:         getEnvOrDefault("OPENAI_REALTIME_WS_URL", "wss://api.openai.com/v1/realtime"),
		Voice:             getEnvOrDefault("OPENAI_REALTIME_VOICE", "alloy"),
		Instructions:      strings.TrimSpace(os.Getenv("OPENAI_REALTIME_INSTRUCTIONS")),
		MaxResponseTokens: maxTokens,
		Timeout:           time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// AnalysisConfig describes the post-consultation report model.
type AnalysisConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled reports whether the required model credentials are present.
func (c AnalysisConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a chat model instance from the configuration.
func (c AnalysisConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("analysis model credentials missing: provide ARK_API_KEY + ARK_MODEL or AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAnalysisConfig() (AnalysisConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AnalysisConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AnalysisConfig{}, err
	}

	return AnalysisConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

// ProfileConfig describes the external patient-profile store.
type ProfileConfig struct {
	SupabaseURL string
	ServiceKey  string
	Timeout     time.Duration
}

// Enabled reports whether the profile store is configured.
func (c ProfileConfig) Enabled() bool {
	return c.SupabaseURL != "" && c.ServiceKey != ""
}

func loadProfileConfig() ProfileConfig {
	return ProfileConfig{
		SupabaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		ServiceKey:  strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY")),
		Timeout:     10 * time.Second,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
