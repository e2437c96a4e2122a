// Package deepgram implements the core.TTS collaborator contract over
// Deepgram's speech-synthesis WebSocket. The wire protocol itself is
// explicitly out of scope for this repository; this adapter is
// deliberately thin: one WebSocket per Stream call, matching the
// contract's "each call is independent" rule.
package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxloop/conductor/core"
)

const scopeName = "github.com/voxloop/conductor/internal/ttsclient/deepgram"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

const speakURL = "wss://api.deepgram.com/v1/speak"

// Client synthesizes one sentence per Stream call.
type Client struct {
	APIKey     string
	Voice      string
	Encoding   string
	SampleRate int

	mu       sync.Mutex
	activeWS *websocket.Conn
	flushed  atomic.Bool
}

// NewClient returns a Client using Deepgram's aura-asteria-en voice and
// 16-bit linear PCM at 24kHz, matching the default Player expectations.
func NewClient(apiKey string) *Client {
	return &Client{APIKey: apiKey, Voice: "aura-asteria-en", Encoding: "linear16", SampleRate: 24000}
}

// Stream synthesizes text and streams back PCM frames on the returned
// channel. The channel closes when synthesis completes, the context is
// cancelled, or Flush is called.
func (c *Client) Stream(ctx context.Context, text string) (<-chan core.AudioFrame, error) {
	ctx, span := tracer.Start(ctx, "tts stream")

	u, _ := url.Parse(speakURL)
	q := u.Query()
	q.Set("encoding", c.Encoding)
	q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	q.Set("model", c.Voice)
	q.Set("container", "none")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{"Authorization": {"Token " + c.APIKey}})
	if err != nil {
		span.End()
		return nil, core.ErrTransientNetwork("deepgram tts dial: %w", err)
	}

	c.mu.Lock()
	c.activeWS = conn
	c.flushed.Store(false)
	c.mu.Unlock()

	if err := conn.WriteJSON(map[string]string{"type": "Speak", "text": text}); err != nil {
		conn.Close()
		span.End()
		return nil, core.ErrTransientNetwork("deepgram tts send: %w", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "Flush"}); err != nil {
		conn.Close()
		span.End()
		return nil, core.ErrTransientNetwork("deepgram tts flush: %w", err)
	}

	out := make(chan core.AudioFrame, 8)
	go c.pump(ctx, span, conn, out)
	return out, nil
}

func (c *Client) pump(ctx context.Context, span trace.Span, conn *websocket.Conn, out chan<- core.AudioFrame) {
	defer close(out)
	defer span.End()
	defer conn.Close()

	for {
		if c.flushed.Load() {
			return
		}
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("tts read ended", "error", err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) == 0 {
				continue
			}
			select {
			case out <- core.AudioFrame{PCM: msg}:
			case <-ctx.Done():
				return
			}
		case websocket.TextMessage:
			var env struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(msg, &env) != nil {
				continue
			}
			if env.Type == "Flushed" {
				select {
				case out <- core.EndOfUtteranceFrame:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}

// Flush terminates whatever stream is currently active, per the TTS
// contract's barge-in requirement.
func (c *Client) Flush() {
	c.flushed.Store(true)
	c.mu.Lock()
	conn := c.activeWS
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteJSON(map[string]string{"type": "Clear"})
	_ = conn.Close()
}
