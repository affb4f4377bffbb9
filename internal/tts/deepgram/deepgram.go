// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package deepgram implements tts.Client against Deepgram's streaming
// speak endpoint, following the same connect/Transform/callback shape
// as the teacher's Cartesia TTS transformer.
package deepgram

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/tts"
)

const speakEndpoint = "wss://api.deepgram.com/v1/speak"

// Config carries the synthesis-time tuning the session engine supplies
// per call.
type Config struct {
	APIKey     string
	Voice      string
	SampleRate int
}

type Client struct {
	logger logging.Logger
	cfg    Config

	mu         sync.Mutex
	conn       *websocket.Conn
	cancel     context.CancelFunc
	onSpeech   tts.SpeechCallback
	onComplete tts.CompleteCallback
}

func New(logger logging.Logger, cfg Config) *Client {
	return &Client{logger: logger, cfg: cfg}
}

func (c *Client) connectionString() string {
	q := url.Values{}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", c.cfg.SampleRate))
	if c.cfg.Voice != "" {
		q.Set("model", c.cfg.Voice)
	}
	return speakEndpoint + "?" + q.Encode()
}

func (c *Client) Connect(ctx context.Context, onSpeech tts.SpeechCallback, onComplete tts.CompleteCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Token "+c.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.Dial(c.connectionString(), header)
	if err != nil {
		return fmt.Errorf("deepgram-tts: failed to connect: %w", err)
	}
	c.conn = conn
	c.onSpeech = onSpeech
	c.onComplete = onComplete

	readerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.readLoop(readerCtx, conn)
	return nil
}

type speakEvent struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	Done     bool   `json:"done"`
	Metadata struct {
		ContextID string `json:"context_id"`
	} `json:"metadata"`
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, msg, err := conn.ReadMessage()
			if err != nil {
				c.logger.Debugf("deepgram-tts: websocket read ended: %v", err)
				return
			}

			var ev speakEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				// Messages that are not JSON (including raw binary
				// audio frames) are skipped; audio is only taken from
				// the base64 "data" field of JSON events below.
				continue
			}
			if ev.Done {
				if c.onComplete != nil {
					c.onComplete(ev.Metadata.ContextID)
				}
				continue
			}
			if ev.Data == "" {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(ev.Data)
			if err != nil {
				c.logger.Errorf("deepgram-tts: failed to decode audio payload: %v", err)
				continue
			}
			if c.onSpeech != nil {
				c.onSpeech(ev.Metadata.ContextID, decoded)
			}
		}
	}
}

func (c *Client) SynthesizeStream(contextID, text string, isComplete bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("deepgram-tts: connection not initialized")
	}
	msg := map[string]any{
		"type":       "Speak",
		"text":       text,
		"context_id": contextID,
		"complete":   isComplete,
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
