// Package groq implements the core.LLM collaborator contract against a
// groq-style OpenAI-compatible chat-completions streaming endpoint. The
// wire protocol itself is explicitly out of scope for this repository; this
// client is deliberately thin, satisfying only core.LLM.
package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxloop/conductor/core"
	convctx "github.com/voxloop/conductor/core/context"
)

const (
	defaultURL       = "https://api.groq.com/openai/v1/chat/completions"
	chunkPrefix      = "data:"
	endMessageMarker = "[DONE]"
)

// Client is a single groq-compatible chat-completions endpoint. One
// Client handles one stream at a time, matching the LLM contract's
// "single active stream" rule.
type Client struct {
	APIKey string
	Model  string
	URL    string

	// MaxTokens caps the response length; zero leaves the cap to the
	// endpoint. Effort is the optional "thinking" effort parameter for
	// reasoning-capable models ("" omits it).
	MaxTokens int
	Effort    string

	httpClient *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	inUse  atomic.Bool
}

// NewClient returns a Client ready to Stream. url may be empty to use the
// default groq endpoint.
func NewClient(apiKey, model, url string) *Client {
	if url == "" {
		url = defaultURL
	}
	return &Client{
		APIKey:     apiKey,
		Model:      model,
		URL:        url,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Stream opens one streaming chat-completion request and translates its
// SSE chunks into core.StreamEvent values delivered on the returned
// channel, which is closed when the stream ends. A read error mid-stream
// is logged and the stream then ends with a StreamStop event, exactly as
// a normal end does; the error is not reported to the caller, so the Turn
// Processor finalizes the partial reply instead of treating it as a
// TransientNetwork failure.
func (c *Client) Stream(ctx context.Context, blocks []convctx.SystemBlock, tools []convctx.Tool, messages []convctx.Message) (<-chan core.StreamEvent, error) {
	ctx, span := tracer.Start(ctx, "llm stream")
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.inUse.Store(true)

	reqBody := requestBody{
		Model:           c.Model,
		Messages:        toWireMessages(blocks, messages),
		Stream:          true,
		Tools:           toWireTools(tools),
		MaxTokens:       c.MaxTokens,
		ReasoningEffort: c.Effort,
	}
	if len(reqBody.Tools) > 0 {
		auto := "auto"
		reqBody.ToolChoice = &auto
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		cancel()
		span.End()
		return nil, core.ErrConfig("marshal groq request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(bodyBytes))
	if err != nil {
		cancel()
		span.End()
		return nil, core.ErrConfig("build groq request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	span.SetAttributes(attribute.String("request.model", c.Model))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		span.End()
		return nil, core.ErrTransientNetwork("groq request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		span.End()
		return nil, core.ErrTransientNetwork("groq non-OK status %s: %s", resp.Status, string(body))
	}

	out := make(chan core.StreamEvent, 16)
	go c.pump(ctx, span, resp.Body, out, cancel)
	return out, nil
}

func (c *Client) pump(ctx context.Context, span trace.Span, body io.ReadCloser, out chan<- core.StreamEvent, cancel context.CancelFunc) {
	defer close(out)
	defer body.Close()
	defer cancel()
	defer c.inUse.Store(false)
	defer span.End()

	send := func(ev core.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
		if line == "" {
			continue
		}
		if line == endMessageMarker {
			return
		}

		var chunk streamingResponseBody
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			logger.Warn("groq: malformed stream chunk", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			if !send(core.StreamEvent{Kind: core.StreamTextDelta, TextDelta: delta.Content}) {
				return
			}
		}
		for _, tc := range delta.ToolCalls {
			call := &convctx.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: json.RawMessage(tc.Function.Arguments)}
			if !send(core.StreamEvent{Kind: core.StreamToolUse, ToolUse: call}) {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("groq: stream read error", "error", err)
	}
	send(core.StreamEvent{Kind: core.StreamStop})
}

// Cancel terminates the in-flight stream, if any, at its next await
// point, per the LLM contract.
func (c *Client) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
