// Package deepgram implements the core.STT collaborator contract over a
// persistent Deepgram streaming-transcription WebSocket connection. The
// wire protocol is explicitly out of scope for this repository (spec.md
// §1); this adapter is deliberately thin.
package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"

	"github.com/voxloop/conductor/core"
)

const scopeName = "github.com/voxloop/conductor/internal/sttclient/deepgram"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

const listenURL = "wss://api.deepgram.com/v1/listen"

// Client is a persistent Deepgram streaming-transcription connection. It
// satisfies core.STT: the connection survives across utterances, and a
// send failure triggers a reconnect rather than a hard error.
type Client struct {
	APIKey     string
	Language   string
	SampleRate int

	connMu sync.Mutex
	conn   *websocket.Conn

	onTranscript   func(core.TranscriptEvent)
	onUtteranceEnd func()

	accumulated string
	lastSendAt  time.Time

	keepAliveCancel context.CancelFunc
}

// NewClient returns a Client with English/16kHz defaults.
func NewClient(apiKey string) *Client {
	return &Client{APIKey: apiKey, Language: "en-US", SampleRate: 16000}
}

func (c *Client) OnTranscript(fn func(core.TranscriptEvent)) { c.onTranscript = fn }
func (c *Client) OnUtteranceEnd(fn func())                   { c.onUtteranceEnd = fn }

// Connect opens the WebSocket and starts the read loop. Safe to call
// again after Disconnect or a reconnect-on-failure.
func (c *Client) Connect(ctx context.Context) error {
	_, span := tracer.Start(ctx, "stt connect")
	defer span.End()

	u, _ := url.Parse(listenURL)
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	q.Set("channels", "1")
	q.Set("model", "nova-3")
	q.Set("language", c.Language)
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", "1000")
	q.Set("vad_events", "true")
	q.Set("endpointing", "300")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), http.Header{"Authorization": {"Token " + c.APIKey}})
	if err != nil {
		return core.ErrTransientNetwork("deepgram dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	readCtx, cancel := context.WithCancel(context.Background())
	c.keepAliveCancel = cancel
	go c.readLoop(conn)
	go c.keepAliveLoop(readCtx)

	return nil
}

// Send writes one PCM frame. Returns a TransientNetwork-classed error on
// write failure; the Orchestrator reconnects on the caller's behalf.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return core.ErrTransientNetwork("deepgram: not connected")
	}
	c.lastSendAt = time.Now()
	c.connMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	c.connMu.Unlock()
	if err != nil {
		return core.ErrTransientNetwork("deepgram send: %w", err)
	}
	return nil
}

// Disconnect closes the connection cleanly.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.keepAliveCancel != nil {
		c.keepAliveCancel()
	}
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)})
	return conn.Close()
}

// keepAliveLoop sends a Deepgram KeepAlive message during silence so the
// connection survives gaps between utterances, per the STT contract's
// "connection is persistent across utterances" rule.
func (c *Client) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(c.lastSendAt) < 5*time.Second {
				continue
			}
			c.connMu.Lock()
			conn := c.conn
			if conn != nil {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			}
			c.connMu.Unlock()
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("deepgram read loop ended", "error", err)
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		logger.Warn("deepgram: malformed message", "error", err)
		return
	}

	switch api.TypeResponse(env.Type) {
	case api.TypeMessageResponse:
		var res api.MessageResponse
		if err := json.Unmarshal(msg, &res); err != nil {
			return
		}
		if len(res.Channel.Alternatives) == 0 {
			return
		}
		text := strings.TrimSpace(res.Channel.Alternatives[0].Transcript)
		if text == "" {
			return
		}
		if res.IsFinal {
			c.accumulated = strings.TrimSpace(c.accumulated + " " + text)
			if c.onTranscript != nil {
				c.onTranscript(core.TranscriptEvent{Kind: core.TranscriptPartial, Text: c.accumulated})
			}
			if res.SpeechFinal {
				c.commitUtterance()
			}
		} else if c.onTranscript != nil {
			c.onTranscript(core.TranscriptEvent{Kind: core.TranscriptPartial, Text: strings.TrimSpace(c.accumulated + " " + text)})
		}
	case api.TypeUtteranceEndResponse:
		c.commitUtterance()
	}
}

func (c *Client) commitUtterance() {
	text := strings.TrimSpace(c.accumulated)
	c.accumulated = ""
	if text != "" && c.onTranscript != nil {
		c.onTranscript(core.TranscriptEvent{Kind: core.TranscriptFinal, Text: text})
	}
	if c.onUtteranceEnd != nil {
		c.onUtteranceEnd()
	}
}
