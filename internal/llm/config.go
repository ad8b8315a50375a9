package llm

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config selects and configures the model provider. Provider is one of
// "anthropic", "openai", "gemini", "openrouter" or "mock".
type Config struct {
	Provider string

	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Retry      RetryConfig

	// Timeout bounds one Generate call including retries. Callers may
	// impose a shorter deadline through the context.
	Timeout time.Duration
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OpenRouterConfig struct {
	APIKey  string
	Model   string
	BaseURL string

	// AppTitle and Referer are sent as OpenRouter attribution headers
	// when set.
	AppTitle string
	Referer  string
}

// RetryConfig configures backoff for transient failures.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig uses vision-capable models that are cheap enough for one
// call per dialogue round.
func DefaultConfig() Config {
	return Config{
		Provider:   "anthropic",
		Anthropic:  AnthropicConfig{Model: "claude-haiku"},
		OpenAI:     OpenAIConfig{Model: "gpt-4o-mini"},
		Gemini:     GeminiConfig{Model: "gemini-flash"},
		OpenRouter: OpenRouterConfig{Model: "google/gemini-2.0-flash-exp"},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: time.Second,
			MaxWait:     10 * time.Second,
			Multiplier:  2,
		},
		Timeout: 30 * time.Second,
	}
}

// ConfigFromEnv overlays MATHBUDDY_* environment variables on the
// defaults. Unparseable numbers and durations are ignored.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	strs := map[string]*string{
		"MATHBUDDY_LLM_PROVIDER":         &cfg.Provider,
		"MATHBUDDY_ANTHROPIC_API_KEY":    &cfg.Anthropic.APIKey,
		"MATHBUDDY_ANTHROPIC_MODEL":      &cfg.Anthropic.Model,
		"MATHBUDDY_OPENAI_API_KEY":       &cfg.OpenAI.APIKey,
		"MATHBUDDY_OPENAI_MODEL":         &cfg.OpenAI.Model,
		"MATHBUDDY_OPENAI_BASE_URL":      &cfg.OpenAI.BaseURL,
		"MATHBUDDY_GEMINI_API_KEY":       &cfg.Gemini.APIKey,
		"MATHBUDDY_GEMINI_MODEL":         &cfg.Gemini.Model,
		"MATHBUDDY_OPENROUTER_API_KEY":   &cfg.OpenRouter.APIKey,
		"MATHBUDDY_OPENROUTER_MODEL":     &cfg.OpenRouter.Model,
		"MATHBUDDY_OPENROUTER_BASE_URL":  &cfg.OpenRouter.BaseURL,
		"MATHBUDDY_OPENROUTER_APP_TITLE": &cfg.OpenRouter.AppTitle,
		"MATHBUDDY_OPENROUTER_REFERER":   &cfg.OpenRouter.Referer,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"MATHBUDDY_LLM_TIMEOUT":            &cfg.Timeout,
		"MATHBUDDY_LLM_RETRY_INITIAL_WAIT": &cfg.Retry.InitialWait,
		"MATHBUDDY_LLM_RETRY_MAX_WAIT":     &cfg.Retry.MaxWait,
	}
	for name, dst := range durations {
		if d, err := time.ParseDuration(os.Getenv(name)); err == nil && d > 0 {
			*dst = d
		}
	}

	if n, err := strconv.Atoi(os.Getenv("MATHBUDDY_LLM_MAX_ATTEMPTS")); err == nil && n > 0 {
		cfg.Retry.MaxAttempts = n
	}

	return cfg
}

// vendorKeys lists the conventional vendor variables in probe order.
var vendorKeys = []struct {
	env      string
	provider string
	set      func(*Config, string)
}{
	{"GEMINI_API_KEY", "gemini", func(c *Config, k string) { c.Gemini.APIKey = k }},
	{"OPENAI_API_KEY", "openai", func(c *Config, k string) { c.OpenAI.APIKey = k }},
	{"ANTHROPIC_API_KEY", "anthropic", func(c *Config, k string) { c.Anthropic.APIKey = k }},
	{"OPENROUTER_API_KEY", "openrouter", func(c *Config, k string) { c.OpenRouter.APIKey = k }},
}

// DiscoverConfig returns a Config for the first vendor key found in the
// environment, or false when there is none.
func DiscoverConfig() (Config, bool) {
	for _, vk := range vendorKeys {
		if k := os.Getenv(vk.env); k != "" {
			cfg := DefaultConfig()
			cfg.Provider = vk.provider
			vk.set(&cfg, k)
			return cfg, true
		}
	}
	return Config{}, false
}

// Validate checks that the selected provider has its API key.
func (c Config) Validate() error {
	var key, env string
	switch c.Provider {
	case "anthropic":
		key, env = c.Anthropic.APIKey, "MATHBUDDY_ANTHROPIC_API_KEY"
	case "openai":
		key, env = c.OpenAI.APIKey, "MATHBUDDY_OPENAI_API_KEY"
	case "gemini":
		key, env = c.Gemini.APIKey, "MATHBUDDY_GEMINI_API_KEY"
	case "openrouter":
		key, env = c.OpenRouter.APIKey, "MATHBUDDY_OPENROUTER_API_KEY"
	case "mock":
		return nil
	default:
		return fmt.Errorf("unknown LLM provider %q", c.Provider)
	}
	if key == "" {
		return fmt.Errorf("%s is required for the %s provider", env, c.Provider)
	}
	return nil
}
