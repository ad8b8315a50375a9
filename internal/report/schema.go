package report

import "github.com/abhisek/mathbuddy/internal/llm"

func stringArray(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": desc,
		"items":       map[string]any{"type": "string"},
		"minItems":    1,
	}
}

func dimension() map[string]any {
	return map[string]any{"type": "integer", "minimum": 1, "maximum": 5}
}

// ReportSchema defines the JSON schema for the learning report evaluation.
var ReportSchema = &llm.Schema{
	Name:        "learning-report",
	Description: "Evaluation of a child's Socratic problem-solving dialogue",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": 100,
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Short qualitative level, e.g. 优秀, 良好, 合格, 继续加油",
			},
			"strengths":    stringArray("What the student did well"),
			"improvements": stringArray("What the student should work on"),
			"thinking": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"understanding": dimension(),
					"reasoning":     dimension(),
					"calculation":   dimension(),
					"expression":    dimension(),
				},
				"required":             []any{"understanding", "reasoning", "calculation", "expression"},
				"additionalProperties": false,
			},
			"knowledge_points": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":    map[string]any{"type": "string"},
						"mastery": map[string]any{"type": "string"},
					},
					"required":             []any{"name", "mastery"},
					"additionalProperties": false,
				},
			},
			"suggestions": stringArray("Concrete study suggestions"),
			"next_steps":  stringArray("What to practise next"),
		},
		"required":             []any{"score", "level", "strengths", "improvements", "thinking", "knowledge_points", "suggestions", "next_steps"},
		"additionalProperties": false,
	},
}
