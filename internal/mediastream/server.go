// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package mediastream serves the carrier's media-stream websocket:
// the per-call connection that carries inbound caller audio in and
// outbound assistant audio out, framed as start/media/stop JSON
// control events the way Twilio's (and Telnyx's) stream protocol does.
// Grounded on the read-loop/dispatch shape of the teacher's Asterisk
// telephony integration and the stream_manager.go reference example's
// event-switch handling.
package mediastream

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rapidaai/voicebridge/internal/audio/codec"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlFrame is the tagged-union shape of every inbound media-stream
// message: the event field selects which of the optional payloads is
// populated.
type controlFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Start     *struct {
		CallSID string `json:"callSid"`
	} `json:"start"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// Server accepts the carrier's media-stream websocket connections and
// wires each one to the matching session via its auth token.
type Server struct {
	logger logging.Logger
	engine *session.Engine
}

func NewServer(logger logging.Logger, engine *session.Engine) *Server {
	return &Server{logger: logger, engine: engine}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	sess, ok := s.engine.SessionByToken(token)
	if !ok || !tokensMatch(token, sess.WSToken) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("mediastream: upgrade failed: %v", err)
		return
	}
	mc := &Conn{conn: conn}
	defer mc.Close()

	s.readLoop(token, mc)
}

func (s *Server) readLoop(token string, mc *Conn) {
	var bound *session.Session

	for {
		_, raw, err := mc.conn.ReadMessage()
		if err != nil {
			s.logger.Debugf("mediastream: read ended: %v", err)
			break
		}

		var frame controlFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.logger.Warnf("mediastream: malformed frame: %v", err)
			continue
		}

		switch frame.Event {
		case "start":
			sess, err := s.engine.OnMediaStreamStart(token, frame.StreamSID, mc)
			if err != nil {
				s.logger.Warnf("mediastream: start for unknown token: %v", err)
				return
			}
			bound = sess
		case "media":
			if bound == nil || frame.Media == nil {
				continue
			}
			s.handleMedia(bound, frame.Media.Payload)
		case "stop":
			if bound != nil {
				_ = s.engine.EndCall(context.Background(), bound.ID, "")
			}
			return
		}
	}
}

func (s *Server) handleMedia(sess *session.Session, payloadB64 string) {
	mulaw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		s.logger.Warnf("mediastream: invalid media payload: %v", err)
		return
	}
	if sess.STT == nil {
		return
	}
	pcm := codec.DecodeMulaw(mulaw)
	if err := sess.STT.SendAudio(pcm); err != nil {
		s.logger.Debugf("mediastream: stt send audio failed: %v", err)
	}
}

// Conn wraps a single media-stream websocket connection and
// implements session.MediaConn so the outbound pacer can push frames
// back to the carrier without mediastream needing to reach back into
// session internals.
type Conn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

type outboundMediaFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

func (c *Conn) SendAudioFrame(streamSid string, mulaw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	frame := outboundMediaFrame{Event: "media", StreamSID: streamSid}
	frame.Media.Payload = base64.StdEncoding.EncodeToString(mulaw)
	return c.conn.WriteJSON(frame)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// tokensMatch compares a presented token against the session's stored
// one in constant time. ServeHTTP uses it as a second check after the
// session manager's map lookup by token.
func tokensMatch(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
