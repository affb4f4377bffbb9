// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/stt"
	"github.com/rapidaai/voicebridge/internal/telephony"
	"github.com/rapidaai/voicebridge/internal/tts"
	"github.com/stretchr/testify/require"
)

type fakeCarrier struct {
	verifyResult bool
	event        telephony.ControlEvent
}

func (f *fakeCarrier) PlaceCall(ctx context.Context, source, dest string) (string, error) {
	return "CA1", nil
}
func (f *fakeCarrier) StreamInstructions(u *url.URL, token string) (string, []byte, error) {
	return "text/xml", []byte("<Response/>"), nil
}
func (f *fakeCarrier) Hangup(ctx context.Context, carrierCallID string) error { return nil }
func (f *fakeCarrier) VerifySignature(string, map[string]string, map[string]string, []byte) bool {
	return f.verifyResult
}
func (f *fakeCarrier) ParseControlEvent(map[string]string, []byte) (telephony.ControlEvent, error) {
	return f.event, nil
}

func newTestServer(carrier *fakeCarrier, allowUnsigned bool) (*Server, *session.Engine) {
	u, _ := url.Parse("wss://example.com/media-stream")
	eng := session.NewEngine(logging.NewNop(), session.NewManager(), carrier,
		func() stt.Session { return nil },
		func() tts.Client { return nil },
		session.Config{FromNumber: "+1", MediaStreamURL: u, ConnectTimeout: time.Second, TranscriptTimeout: time.Second},
	)
	return NewServer(logging.NewNop(), eng, carrier, allowUnsigned), eng
}

func TestCallbackRejectsUnsignedRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	carrier := &fakeCarrier{verifyResult: false}
	s, _ := newTestServer(carrier, false)

	r := gin.New()
	s.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader("CallSid=CA1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallbackAcceptsVerifiedRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	carrier := &fakeCarrier{
		verifyResult: true,
		event:        telephony.ControlEvent{Kind: telephony.EventRinging, CarrierCallID: "CA1"},
	}
	s, _ := newTestServer(carrier, false)

	r := gin.New()
	s.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader("CallSid=CA1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzReportsOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	carrier := &fakeCarrier{}
	s, _ := newTestServer(carrier, true)

	r := gin.New()
	s.Register(r)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}
