package analysis

import "github.com/abhisek/mathbuddy/internal/store"

// ProblemAnalysis is the structured result stored on a session.
type ProblemAnalysis = store.ProblemAnalysis

// Image is an uploaded problem photo.
type Image struct {
	Data     []byte
	MimeType string
}

// Result is what Analyze hands back to the client.
type Result struct {
	Analysis ProblemAnalysis `json:"analysis"`
	ImageRef string          `json:"image_ref,omitempty"`
}
