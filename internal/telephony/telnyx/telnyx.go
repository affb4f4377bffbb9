// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package telnyx adapts voicebridge's Carrier interface to Telnyx's
// Call Control API: JSON webhooks signed with Ed25519 over
// "timestamp|body", Bearer-token REST auth. Modeled the way the
// teacher modeled its second telephony provider (a thin
// credential-holding wrapper around the provider SDK) even though
// Telnyx has no first-party Go SDK in the retrieved corpus, so the
// REST calls go through resty instead.
package telnyx

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/telephony"
)

const (
	providerName  = "telnyx"
	apiBase       = "https://api.telnyx.com/v2"
	signatureSkew = 5 * time.Minute
)

// Telnyx is the Carrier implementation backed by Telnyx's Call Control
// API.
type Telnyx struct {
	logger        logging.Logger
	client        *resty.Client
	connectionID  string
	webhookPubKey ed25519.PublicKey
}

// New builds a Telnyx carrier. apiKey is the Bearer token used for the
// Call Control REST API; connectionID names the configured Call
// Control application the call is placed against; webhookPublicKeyB64
// is the base64-encoded Ed25519 public key Telnyx publishes for
// webhook verification.
func New(logger logging.Logger, apiKey, connectionID, webhookPublicKeyB64 string) (*Telnyx, error) {
	pub, err := base64.StdEncoding.DecodeString(webhookPublicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("telnyx: invalid webhook public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("telnyx: webhook public key has wrong length %d", len(pub))
	}

	client := resty.New().
		SetBaseURL(apiBase).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &Telnyx{
		logger:        logger,
		client:        client,
		connectionID:  connectionID,
		webhookPubKey: ed25519.PublicKey(pub),
	}, nil
}

type createCallRequest struct {
	ConnectionID string `json:"connection_id"`
	To           string `json:"to"`
	From         string `json:"from"`
}

type createCallResponse struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
	} `json:"data"`
}

func (t *Telnyx) PlaceCall(ctx context.Context, source, dest string) (string, error) {
	var out createCallResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(createCallRequest{ConnectionID: t.connectionID, To: dest, From: source}).
		SetResult(&out).
		Post("/calls")
	if err != nil {
		return "", &telephony.ProviderError{Provider: providerName, Op: "place_call", Err: err}
	}
	if resp.IsError() {
		return "", &telephony.ProviderError{Provider: providerName, Op: "place_call", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	if out.Data.CallControlID == "" {
		return "", &telephony.ProviderError{Provider: providerName, Op: "place_call", Err: fmt.Errorf("response carried no call_control_id")}
	}
	return out.Data.CallControlID, nil
}

func (t *Telnyx) StreamInstructions(streamURL *url.URL, wsToken string) (string, []byte, error) {
	q := streamURL.Query()
	q.Set("token", wsToken)
	streamURL.RawQuery = q.Encode()

	body, err := json.Marshal(map[string]any{
		"stream_url":   streamURL.String(),
		"stream_track": "both_tracks",
	})
	if err != nil {
		return "", nil, err
	}
	return "application/json", body, nil
}

func (t *Telnyx) Hangup(ctx context.Context, carrierCallID string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/calls/%s/actions/hangup", carrierCallID))
	if err != nil {
		return &telephony.ProviderError{Provider: providerName, Op: "hangup", Err: err}
	}
	if resp.IsError() {
		return &telephony.ProviderError{Provider: providerName, Op: "hangup", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	return nil
}

// VerifySignature checks the Ed25519 signature Telnyx computes over
// "timestamp|body" and rejects requests whose timestamp has drifted
// more than signatureSkew from now, guarding against replay.
func (t *Telnyx) VerifySignature(fullURL string, headers map[string]string, form map[string]string, rawBody []byte) bool {
	sigB64 := headers["Telnyx-Signature-Ed25519"]
	tsRaw := headers["Telnyx-Timestamp"]
	if sigB64 == "" || tsRaw == "" {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}

	tsSeconds, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return false
	}
	ts := time.Unix(tsSeconds, 0)
	if age := time.Since(ts); age > signatureSkew || age < -signatureSkew {
		return false
	}

	signed := append([]byte(tsRaw+"|"), rawBody...)
	return ed25519.Verify(t.webhookPubKey, signed, sig)
}

type webhookEnvelope struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
			StreamID      string `json:"stream_id"`
		} `json:"payload"`
	} `json:"data"`
}

func (t *Telnyx) ParseControlEvent(form map[string]string, jsonBody []byte) (telephony.ControlEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(jsonBody, &env); err != nil {
		return telephony.ControlEvent{}, fmt.Errorf("telnyx: malformed webhook body: %w", err)
	}
	if env.Data.Payload.CallControlID == "" {
		return telephony.ControlEvent{}, fmt.Errorf("telnyx webhook missing call_control_id")
	}

	ev := telephony.ControlEvent{
		CarrierCallID: env.Data.Payload.CallControlID,
		StreamSID:     env.Data.Payload.StreamID,
	}
	switch env.Data.EventType {
	case "call.initiated":
		ev.Kind = telephony.EventRinging
	case "call.answered":
		ev.Kind = telephony.EventAnswered
	case "call.hangup":
		ev.Kind = telephony.EventCompleted
	case "call.machine.detection.ended":
		ev.Kind = telephony.EventUnknown
	default:
		ev.Kind = telephony.EventUnknown
	}
	return ev, nil
}
