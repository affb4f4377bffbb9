// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package telephony defines the carrier-agnostic surface the session
// engine drives a phone call through. Each supported carrier (Twilio,
// Telnyx) implements Carrier; the engine never branches on provider
// identity outside of carrier construction.
package telephony

import (
	"context"
	"fmt"
	"net/url"
)

// ControlEvent is the normalized shape of a carrier webhook or
// media-stream control frame, collapsed out of the two wire formats
// (Twilio form-urlencoded, Telnyx JSON) into one value the session
// engine understands.
type ControlEvent struct {
	Kind          ControlEventKind
	CarrierCallID string
	StreamSID     string
}

type ControlEventKind int

const (
	EventUnknown ControlEventKind = iota
	EventRinging
	EventAnswered
	EventCompleted
	EventFailed
)

// Carrier places outbound calls, renders the streaming instruction
// document the carrier expects back from the webhook, hangs up an
// in-progress call, and verifies inbound webhook signatures.
type Carrier interface {
	// PlaceCall starts an outbound call from source to dest and returns
	// the carrier's call identifier.
	PlaceCall(ctx context.Context, source, dest string) (carrierCallID string, err error)

	// StreamInstructions renders the provider-specific response body a
	// webhook handler returns to point the carrier at the media-stream
	// websocket endpoint, embedding the session's auth token.
	StreamInstructions(streamURL *url.URL, wsToken string) (contentType string, body []byte, err error)

	// Hangup ends an in-progress call. Safe to call on a call that has
	// already ended; the carrier's own idempotency applies.
	Hangup(ctx context.Context, carrierCallID string) error

	// VerifySignature checks a webhook request's signature against the
	// carrier's shared secret. rawBody is the exact bytes received;
	// headers/query carry whatever the provider signs over.
	VerifySignature(fullURL string, headers map[string]string, form map[string]string, rawBody []byte) bool

	// ParseControlEvent normalizes a webhook payload into a ControlEvent.
	ParseControlEvent(form map[string]string, jsonBody []byte) (ControlEvent, error)
}

// ProviderError wraps a failure returned by (or inferred from) a
// carrier/STT/TTS provider call, including breaker trips.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SignatureError indicates a webhook request failed signature
// verification and must be rejected before any parsing occurs.
type SignatureError struct {
	Provider string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s: webhook signature verification failed", e.Provider)
}
