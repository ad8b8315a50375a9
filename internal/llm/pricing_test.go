package llm

import (
	"math"
	"testing"
)

func TestLookupCost(t *testing.T) {
	tests := []struct {
		model string
		want  *ModelCost
	}{
		{"gpt-4o-mini", &ModelCost{0.15, 0.6}},
		{"gpt-4o-2024-08-06", &ModelCost{2.5, 10}},
		{"claude-haiku-4-5-20251001", &ModelCost{1, 5}},
		{"claude-sonnet-4-5-20250929", &ModelCost{3, 15}},
		{"claude-sonnet-4-20250514", &ModelCost{3, 15}},
		{"google/gemini-2.0-flash-exp:free", &ModelCost{0.1, 0.4}},
		{"Gemini-2.5-Flash-Lite", &ModelCost{0.1, 0.4}},
		{"mock", nil},
		{"gpt-4oo", nil},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got := LookupCost(tt.model)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("LookupCost(%q) = %v, want %v", tt.model, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("LookupCost(%q) = %+v, want %+v", tt.model, *got, *tt.want)
			}
		})
	}
}

func TestModelCost(t *testing.T) {
	c := ModelCost{InputPerMTok: 2, OutputPerMTok: 8}
	if got := c.Cost(500_000, 250_000); math.Abs(got-3) > 1e-9 {
		t.Fatalf("Cost = %v, want 3", got)
	}
}
