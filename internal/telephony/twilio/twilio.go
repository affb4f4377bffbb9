// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package twilio adapts voicebridge's Carrier interface to Twilio's
// REST API and webhook conventions: form-urlencoded webhooks signed
// with HMAC-SHA1 over the full request, account-sid/auth-token Basic
// Auth on the REST side.
package twilio

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/telephony"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const providerName = "twilio"

// Twilio is the Carrier implementation backed by the Twilio REST API.
type Twilio struct {
	logger    logging.Logger
	client    *twilio.RestClient
	validator twilioclient.RequestValidator
}

// New builds a Twilio carrier from an account sid and auth token, the
// same two-value credential shape the teacher's vault-backed
// constructor extracted before handing them to twilio.ClientParams.
func New(logger logging.Logger, accountSID, authToken string) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Twilio{
		logger:    logger,
		client:    client,
		validator: twilioclient.NewRequestValidator(authToken),
	}
}

func (t *Twilio) PlaceCall(ctx context.Context, source, dest string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetFrom(source)
	params.SetTo(dest)
	params.SetMethod("POST")

	resp, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", &telephony.ProviderError{Provider: providerName, Op: "place_call", Err: err}
	}
	if resp.Sid == nil {
		return "", &telephony.ProviderError{Provider: providerName, Op: "place_call", Err: fmt.Errorf("response carried no call sid")}
	}
	return *resp.Sid, nil
}

func (t *Twilio) StreamInstructions(streamURL *url.URL, wsToken string) (string, []byte, error) {
	q := streamURL.Query()
	q.Set("token", wsToken)
	streamURL.RawQuery = q.Encode()

	twiml := fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="%s"/></Connect></Response>`,
		streamURL.String(),
	)
	return "text/xml", []byte(twiml), nil
}

func (t *Twilio) Hangup(ctx context.Context, carrierCallID string) error {
	updateParams := &openapi.UpdateCallParams{}
	updateParams.SetStatus("completed")
	if _, err := t.client.Api.UpdateCall(carrierCallID, updateParams); err != nil {
		return &telephony.ProviderError{Provider: providerName, Op: "hangup", Err: err}
	}
	return nil
}

func (t *Twilio) VerifySignature(fullURL string, headers map[string]string, form map[string]string, rawBody []byte) bool {
	signature := headers["X-Twilio-Signature"]
	if signature == "" {
		return false
	}
	return t.validator.Validate(fullURL, form, signature)
}

func (t *Twilio) ParseControlEvent(form map[string]string, jsonBody []byte) (telephony.ControlEvent, error) {
	callSid, ok := form["CallSid"]
	if !ok {
		return telephony.ControlEvent{}, fmt.Errorf("twilio webhook missing CallSid")
	}
	ev := telephony.ControlEvent{CarrierCallID: callSid}
	switch form["CallStatus"] {
	case "ringing":
		ev.Kind = telephony.EventRinging
	case "in-progress", "answered":
		ev.Kind = telephony.EventAnswered
	case "completed":
		ev.Kind = telephony.EventCompleted
	case "busy", "failed", "no-answer", "canceled":
		ev.Kind = telephony.EventFailed
	default:
		ev.Kind = telephony.EventUnknown
	}
	return ev, nil
}
