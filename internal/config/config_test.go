package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("SUPABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Realtime.Enabled() {
		t.Error("realtime must be disabled without an API key")
	}
	if cfg.Realtime.Model != "gpt-4o-realtime-preview" {
		t.Errorf("unexpected default model %q", cfg.Realtime.Model)
	}
	if cfg.Realtime.WSBaseURL != "wss://api.openai.com/v1/realtime" {
		t.Errorf("unexpected ws base %q", cfg.Realtime.WSBaseURL)
	}
	if cfg.Realtime.MaxResponseTokens != 4096 {
		t.Errorf("unexpected token cap %d", cfg.Realtime.MaxResponseTokens)
	}
	if cfg.Analysis.Enabled() {
		t.Error("analysis must be disabled without credentials")
	}
	if cfg.Profile.Enabled() {
		t.Error("profile store must be disabled without credentials")
	}
}

func TestLoadPortVariants(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}

	t.Setenv("PORT", "bad value")
	if _, err := Load(); err == nil {
		t.Error("expected error for PORT with spaces")
	}
}

func TestLoadRealtimeOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-custom")
	t.Setenv("OPENAI_TIMEOUT", "5")
	t.Setenv("OPENAI_MAX_RESPONSE_TOKENS", "1024")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Realtime.Enabled() {
		t.Error("realtime must be enabled with an API key")
	}
	if cfg.Realtime.Model != "gpt-4o-realtime-custom" {
		t.Errorf("override ignored: %q", cfg.Realtime.Model)
	}
	if cfg.Realtime.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Realtime.Timeout)
	}
	if cfg.Realtime.MaxResponseTokens != 1024 {
		t.Errorf("unexpected token cap %d", cfg.Realtime.MaxResponseTokens)
	}

	t.Setenv("OPENAI_TIMEOUT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid OPENAI_TIMEOUT")
	}
}

func TestAnalysisEnabledVariants(t *testing.T) {
	cases := []struct {
		name    string
		cfg     AnalysisConfig
		enabled bool
	}{
		{"api key", AnalysisConfig{Model: "m", APIKey: "k"}, true},
		{"ak/sk pair", AnalysisConfig{Model: "m", AccessKey: "a", SecretKey: "s"}, true},
		{"missing model", AnalysisConfig{APIKey: "k"}, false},
		{"partial pair", AnalysisConfig{Model: "m", AccessKey: "a"}, false},
	}

	for _, tc := range cases {
		if got := tc.cfg.Enabled(); got != tc.enabled {
			t.Errorf("%s: Enabled() = %v, want %v", tc.name, got, tc.enabled)
		}
	}
}

func TestProfileConfigTrimsTrailingSlash(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Profile.SupabaseURL != "https://example.supabase.co" {
		t.Errorf("trailing slash not trimmed: %q", cfg.Profile.SupabaseURL)
	}
	if !cfg.Profile.Enabled() {
		t.Error("profile store must be enabled with credentials")
	}
}
