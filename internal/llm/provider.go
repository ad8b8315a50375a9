package llm

import (
	"context"
	"encoding/json"
)

// Provider generates one structured model response per call.
type Provider interface {
	// Generate sends req and returns the model output. When req.Schema is
	// set the provider asks for schema-conforming JSON using its native
	// structured output support and validates the result.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID is the configured model identifier.
	ModelID() string
}

type Request struct {
	System string

	// Dialogue and report calls send one user message carrying the
	// rendered context. Problem analysis attaches the photo as an image.
	Messages []Message

	// Schema is optional. Without it Content holds the raw text.
	Schema *Schema

	MaxTokens   int
	Temperature float64 // 0 lets the provider pick its default
}

type Message struct {
	Role    Role
	Content string

	// Images precede the text content. Only user messages carry images.
	Images []Image
}

// Image is an inline image attachment.
type Image struct {
	Data     []byte
	MimeType string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema names a JSON Schema definition. Name is kebab-case and doubles
// as the OpenAI response format name.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// Normalized stop reasons.
const (
	StopEnd       = "end"
	StopMaxTokens = "max_tokens"
)

type Response struct {
	// Content is the validated JSON object when a schema was requested.
	Content json.RawMessage
	Usage   Usage

	// Model is the model that actually served the call, which may differ
	// from ModelID behind a router.
	Model      string
	StopReason string
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
