// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package webhook serves the carrier's call-status callbacks: the
// form-urlencoded Twilio convention and the JSON Telnyx convention,
// both behind signature verification, routed with gin the way the
// teacher wires every HTTP surface in this codebase.
package webhook

import (
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/telephony"
)

// Server exposes the health and call-status-callback routes.
type Server struct {
	logger                logging.Logger
	engine                *session.Engine
	carrier               telephony.Carrier
	allowUnsignedWebhooks bool
}

func NewServer(logger logging.Logger, engine *session.Engine, carrier telephony.Carrier, allowUnsignedWebhooks bool) *Server {
	return &Server{logger: logger, engine: engine, carrier: carrier, allowUnsignedWebhooks: allowUnsignedWebhooks}
}

// Register wires this server's routes onto the given gin engine,
// mirroring the teacher's HealthCheckRoutes/TalkCallbackApiRoute
// grouping convention.
func (s *Server) Register(r *gin.Engine) {
	apiv1 := r.Group("")
	{
		apiv1.GET("/healthz", s.healthz)
		apiv1.POST("/callback", s.callback)
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// callback handles both wire conventions: a Twilio-style
// form-urlencoded POST (signed via X-Twilio-Signature) and a
// Telnyx-style JSON POST (signed via Telnyx-Signature-Ed25519).
// Signature verification happens before any parsing, per the error
// taxonomy's SignatureError contract.
func (s *Server) callback(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	headers := map[string]string{}
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}

	var form map[string]string
	contentType := c.ContentType()
	if contentType == "application/x-www-form-urlencoded" {
		form = map[string]string{}
		// The body was already consumed into rawBody above, so decode
		// the form fields from those bytes rather than from the request.
		if values, parseErr := url.ParseQuery(string(rawBody)); parseErr == nil {
			for k := range values {
				form[k] = values.Get(k)
			}
		}
	}

	fullURL := c.Request.URL.String()
	if !s.allowUnsignedWebhooks && !s.carrier.VerifySignature(fullURL, headers, form, rawBody) {
		s.logger.Warnw("webhook signature verification failed", "path", c.Request.URL.Path)
		c.Status(http.StatusUnauthorized)
		return
	}

	ev, err := s.carrier.ParseControlEvent(form, rawBody)
	if err != nil {
		s.logger.Warnf("webhook: failed to parse control event: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	s.engine.OnCarrierEvent(ev)

	if ev.Kind == telephony.EventAnswered {
		sess, ok := s.engine.SessionByCarrierID(ev.CarrierCallID)
		if ok {
			contentType, body, streamErr := s.engine.StreamInstructions(sess)
			if streamErr == nil {
				c.Data(http.StatusOK, contentType, body)
				return
			}
		}
	}

	c.Status(http.StatusOK)
}
