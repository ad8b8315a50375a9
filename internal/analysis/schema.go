package analysis

import "github.com/abhisek/mathbuddy/internal/llm"

// ProblemSchema defines the JSON schema for photographed problem analysis.
var ProblemSchema = &llm.Schema{
	Name:        "problem-analysis",
	Description: "Structured analysis of a photographed primary-school math word problem",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question_text": map[string]any{
				"type":        "string",
				"description": "The full problem text as printed, in the original language",
			},
			"grade_level": map[string]any{
				"type":        "string",
				"description": "Estimated school grade, e.g. 二年级",
			},
			"difficulty": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 5,
			},
			"key_numbers": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"key_relation": map[string]any{
				"type":        "string",
				"description": "The quantitative relation the student must find",
			},
			"final_answer": map[string]any{
				"type": "string",
			},
			"questions": map[string]any{
				"type":        "array",
				"description": "Three guiding questions, one per dialogue round, that lead toward the answer without giving it away",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required":             []any{"question_text", "grade_level", "difficulty", "key_numbers", "key_relation", "final_answer", "questions"},
		"additionalProperties": false,
	},
}
