// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package deepgram implements stt.Session against Deepgram's
// streaming listen endpoint, connected to directly over a websocket
// the same way the teacher's Cartesia transformer talks to its
// provider — dial, spawn a reader goroutine, decode JSON events, call
// back.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/stt"
)

const listenEndpoint = "wss://api.deepgram.com/v1/listen"

// Config carries the listen-time tuning the session engine supplies
// per call.
type Config struct {
	APIKey                string
	Model                 string
	Language              string
	SampleRate            int
	EndOfUtteranceSilence string // Deepgram endpointing value, in milliseconds, as a string query param
}

type Session struct {
	logger logging.Logger
	cfg    Config

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func New(logger logging.Logger, cfg Config) *Session {
	return &Session{logger: logger, cfg: cfg}
}

func (s *Session) connectionString() string {
	q := url.Values{}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", s.cfg.SampleRate))
	if s.cfg.Model != "" {
		q.Set("model", s.cfg.Model)
	}
	if s.cfg.Language != "" {
		q.Set("language", s.cfg.Language)
	}
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if s.cfg.EndOfUtteranceSilence != "" {
		q.Set("endpointing", s.cfg.EndOfUtteranceSilence)
	}
	return listenEndpoint + "?" + q.Encode()
}

type transcriptEvent struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *Session) Connect(ctx context.Context, cb stt.TranscriptCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Token "+s.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.Dial(s.connectionString(), header)
	if err != nil {
		return fmt.Errorf("deepgram-stt: failed to connect: %w", err)
	}
	s.conn = conn

	readerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.readLoop(readerCtx, conn, cb)
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, cb stt.TranscriptCallback) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, msg, err := conn.ReadMessage()
			if err != nil {
				s.logger.Debugf("deepgram-stt: websocket read ended: %v", err)
				return
			}
			var ev transcriptEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Type != "Results" || len(ev.Channel.Alternatives) == 0 {
				continue
			}
			alt := ev.Channel.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			cb(alt.Transcript, alt.Confidence, ev.IsFinal)
		}
	}
}

func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("deepgram-stt: connection not initialized")
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
