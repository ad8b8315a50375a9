package llm

import (
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider talks to OpenRouter through its OpenAI-compatible API.
// Model IDs are passed through unchanged ("google/gemini-2.0-flash-exp").
type OpenRouterProvider struct {
	*OpenAIProvider
}

func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouterBaseURL
	}

	var doer openai.HTTPDoer
	if cfg.AppTitle != "" || cfg.Referer != "" {
		doer = &attributionDoer{next: http.DefaultClient, title: cfg.AppTitle, referer: cfg.Referer}
	}

	inner, err := newOpenAIProviderRaw(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}, doer)
	if err != nil {
		return nil, err
	}
	inner.model = cfg.Model
	return &OpenRouterProvider{OpenAIProvider: inner}, nil
}

// attributionDoer adds the app identification headers OpenRouter uses for
// its rankings.
type attributionDoer struct {
	next    openai.HTTPDoer
	title   string
	referer string
}

func (d *attributionDoer) Do(req *http.Request) (*http.Response, error) {
	if d.title != "" {
		req.Header.Set("X-Title", d.title)
	}
	if d.referer != "" {
		req.Header.Set("HTTP-Referer", d.referer)
	}
	return d.next.Do(req)
}
