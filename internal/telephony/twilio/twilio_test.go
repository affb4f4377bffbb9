// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package twilio

import (
	"net/url"
	"testing"

	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/telephony"
	"github.com/stretchr/testify/require"
)

func TestParseControlEventMapsStatuses(t *testing.T) {
	tw := New(logging.NewNop(), "ACxxx", "authtoken")

	cases := map[string]telephony.ControlEventKind{
		"ringing":     telephony.EventRinging,
		"in-progress": telephony.EventAnswered,
		"completed":   telephony.EventCompleted,
		"failed":      telephony.EventFailed,
		"no-answer":   telephony.EventFailed,
		"bogus":       telephony.EventUnknown,
	}
	for status, want := range cases {
		ev, err := tw.ParseControlEvent(map[string]string{
			"CallSid":    "CA123",
			"CallStatus": status,
		}, nil)
		require.NoError(t, err)
		require.Equal(t, "CA123", ev.CarrierCallID)
		require.Equal(t, want, ev.Kind)
	}
}

func TestParseControlEventMissingCallSid(t *testing.T) {
	tw := New(logging.NewNop(), "ACxxx", "authtoken")
	_, err := tw.ParseControlEvent(map[string]string{"CallStatus": "ringing"}, nil)
	require.Error(t, err)
}

func TestStreamInstructionsEmbedsToken(t *testing.T) {
	tw := New(logging.NewNop(), "ACxxx", "authtoken")
	u, _ := url.Parse("wss://example.com/media-stream")
	contentType, body, err := tw.StreamInstructions(u, "secret-token")
	require.NoError(t, err)
	require.Equal(t, "text/xml", contentType)
	require.Contains(t, string(body), "token=secret-token")
	require.Contains(t, string(body), "<Stream")
}

func TestVerifySignatureRejectsMissingHeader(t *testing.T) {
	tw := New(logging.NewNop(), "ACxxx", "authtoken")
	ok := tw.VerifySignature("https://example.com/webhook", map[string]string{}, map[string]string{"CallSid": "CA1"}, nil)
	require.False(t, ok)
}
