package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/mathbuddy/internal/store"
)

func TestWriteLLMEvents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLLMEvents(&buf, nil))
	assert.Equal(t, "No model calls recorded.\n", buf.String())

	buf.Reset()
	events := []store.LLMRequestEvent{{
		ID:        7,
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		LLMRequestEventData: store.LLMRequestEventData{
			Model: "gpt-4o-mini", Purpose: "dialogue", InputTokens: 120, OutputTokens: 40, LatencyMs: 850, Success: true,
		},
	}}
	require.NoError(t, writeLLMEvents(&buf, events))
	out := buf.String()
	assert.Contains(t, out, "PURPOSE")
	assert.Contains(t, out, "gpt-4o-mini")
	assert.Contains(t, out, "dialogue")
	assert.Contains(t, out, "yes")
}

func TestWriteLLMEvent(t *testing.T) {
	var buf bytes.Buffer
	e := &store.LLMRequestEvent{
		ID: 3,
		LLMRequestEventData: store.LLMRequestEventData{
			Provider: "openai", Model: "gpt-4o", Purpose: "analysis", ErrorMessage: "rate limited",
			RequestBody: `{"messages":[]}`,
		},
	}
	require.NoError(t, writeLLMEvent(&buf, e))
	out := buf.String()
	assert.Contains(t, out, "rate limited")
	assert.Contains(t, out, "== REQUEST ==\n{\"messages\":[]}")
	assert.Contains(t, out, "== RESPONSE ==\n(not captured)")
}

func TestWriteLLMUsage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLLMUsage(&buf, nil, nil))
	assert.Equal(t, "No model usage recorded.\n", buf.String())

	buf.Reset()
	byPurpose := []store.PurposeUsage{
		{Purpose: "analysis", Calls: 2, InputTokens: 1000, OutputTokens: 200, AvgLatencyMs: 1500},
		{Purpose: "dialogue", Calls: 6, InputTokens: 3000, OutputTokens: 600, AvgLatencyMs: 700},
	}
	byModel := []store.ModelUsage{
		{Model: "gpt-4o", Calls: 8, InputTokens: 1_000_000, OutputTokens: 100_000},
		{Model: "mock", Calls: 1},
	}
	require.NoError(t, writeLLMUsage(&buf, byPurpose, byModel))
	out := buf.String()
	assert.Contains(t, out, "4000")
	assert.Contains(t, out, "3.50")
	assert.Contains(t, out, "total (partial)")
	assert.Contains(t, out, "No pricing for: mock")
}
