package dialogue

import "time"

// MaxAnswerRunes bounds a single student answer.
const MaxAnswerRunes = 1000

// maxReplyRunes bounds each field of a model reply.
const maxReplyRunes = 500

// Config holds dialogue generation settings.
type Config struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultConfig returns sensible defaults for dialogue generation.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   400,
		Temperature: 0.4,
		Timeout:     20 * time.Second,
	}
}
