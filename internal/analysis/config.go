package analysis

import "time"

// DefaultMaxImageBytes is the upload limit for problem photos.
const DefaultMaxImageBytes = 900 * 1024

// Config holds problem analysis settings.
type Config struct {
	MaxImageBytes int
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
}

// DefaultConfig returns sensible defaults for problem analysis.
func DefaultConfig() Config {
	return Config{
		MaxImageBytes: DefaultMaxImageBytes,
		MaxTokens:     1024,
		Temperature:   0.1,
		Timeout:       30 * time.Second,
	}
}
