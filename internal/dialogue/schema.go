package dialogue

import "github.com/abhisek/mathbuddy/internal/llm"

// TurnSchema defines the JSON schema for one Socratic dialogue turn.
var TurnSchema = &llm.Schema{
	Name:        "dialogue-turn",
	Description: "Feedback on the student's answer and the next guiding question",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"feedback": map[string]any{
				"type":        "string",
				"description": "One or two encouraging sentences responding to the student's answer",
			},
			"next_question": map[string]any{
				"type":        "string",
				"description": "The next guiding question, or an empty string after the final round",
			},
		},
		"required":             []any{"feedback", "next_question"},
		"additionalProperties": false,
	},
}
