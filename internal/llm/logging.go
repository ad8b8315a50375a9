package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/store"
)

// maxCapturedBody caps each stored request or response body.
const maxCapturedBody = 64 << 10

// LoggingProvider records every call as an LLM request event and a log
// line. Recording failures are logged and never fail the call.
type LoggingProvider struct {
	inner    Provider
	provider string
	events   store.EventRepo
	log      *logger.Logger
}

// WithLogging wraps p. providerName is the configured provider, e.g.
// "anthropic". A nil repo only logs.
func WithLogging(p Provider, providerName string, repo store.EventRepo, log *logger.Logger) Provider {
	return &LoggingProvider{inner: p, provider: providerName, events: repo, log: log.With("provider", providerName)}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)
	elapsed := time.Since(start)

	ev := store.LLMRequestEventData{
		Provider:    l.provider,
		Model:       l.inner.ModelID(),
		Purpose:     PurposeFrom(ctx),
		LatencyMs:   elapsed.Milliseconds(),
		Success:     err == nil,
		RequestBody: capture(describeRequest(req)),
	}
	if resp != nil {
		ev.Model = resp.Model
		ev.InputTokens = resp.Usage.InputTokens
		ev.OutputTokens = resp.Usage.OutputTokens
		ev.ResponseBody = capture(string(resp.Content))
	}

	if err != nil {
		ev.ErrorMessage = err.Error()
		if raw := InvalidContent(err); raw != nil {
			ev.ResponseBody = capture(string(raw))
		}
		l.log.Warn("llm call failed", "purpose", ev.Purpose, "model", ev.Model, "latency_ms", ev.LatencyMs, "error", err)
	} else {
		l.log.Debug("llm call", "purpose", ev.Purpose, "model", ev.Model, "latency_ms", ev.LatencyMs,
			"input_tokens", ev.InputTokens, "output_tokens", ev.OutputTokens, "stop", resp.StopReason)
	}

	if l.events != nil {
		// Outlives the caller's deadline so timed-out calls are recorded too.
		if recErr := l.events.AppendLLMRequest(context.WithoutCancel(ctx), ev); recErr != nil {
			l.log.Warn("failed to record llm event", "error", recErr)
		}
	}
	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}

// describeRequest renders req for humans. Images appear as a size summary.
func describeRequest(req Request) string {
	var b strings.Builder
	if req.System != "" {
		fmt.Fprintf(&b, "[system]\n%s\n\n", req.System)
	}
	for _, m := range req.Messages {
		fmt.Fprintf(&b, "[%s]\n", m.Role)
		for _, img := range m.Images {
			fmt.Fprintf(&b, "<image %s, %d bytes>\n", img.MimeType, len(img.Data))
		}
		fmt.Fprintf(&b, "%s\n\n", m.Content)
	}
	if req.Schema != nil {
		if def, err := json.Marshal(req.Schema.Definition); err == nil {
			fmt.Fprintf(&b, "[schema: %s]\n%s\n", req.Schema.Name, def)
		}
	}
	return b.String()
}

func capture(s string) string {
	if len(s) <= maxCapturedBody {
		return s
	}
	return s[:maxCapturedBody] + "\n[truncated]"
}
