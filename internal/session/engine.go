// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rapidaai/voicebridge/internal/breaker"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/ratelimit"
	"github.com/rapidaai/voicebridge/internal/stt"
	"github.com/rapidaai/voicebridge/internal/telephony"
	"github.com/rapidaai/voicebridge/internal/tts"
)

// Engine drives the initiate/continue/speak/end operations that back
// the stdio tool dispatcher. It never
// branches on carrier identity — all provider-specific behavior lives
// behind the telephony.Carrier, stt.Session, and tts.Client interfaces
// it's constructed with.
type Engine struct {
	logger  logging.Logger
	manager *Manager
	carrier telephony.Carrier

	newSTT func() stt.Session
	newTTS func() tts.Client

	carrierBreaker *breaker.Breaker
	sttBreaker     *breaker.Breaker
	ttsBreaker     *breaker.Breaker
	placeCallLimit *ratelimit.Limiter

	fromNumber        string
	mediaStreamURL    *url.URL
	connectTimeout    time.Duration
	transcriptTimeout time.Duration
}

type Config struct {
	FromNumber        string
	MediaStreamURL    *url.URL
	ConnectTimeout    time.Duration
	TranscriptTimeout time.Duration
}

func NewEngine(
	logger logging.Logger,
	manager *Manager,
	carrier telephony.Carrier,
	newSTT func() stt.Session,
	newTTS func() tts.Client,
	cfg Config,
) *Engine {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 15 * time.Second
	}
	transcriptTimeout := cfg.TranscriptTimeout
	if transcriptTimeout == 0 {
		transcriptTimeout = 180 * time.Second
	}

	return &Engine{
		logger:            logger,
		manager:           manager,
		carrier:           carrier,
		newSTT:            newSTT,
		newTTS:            newTTS,
		carrierBreaker:    breaker.New(logger, "carrier"),
		sttBreaker:        breaker.New(logger, "stt"),
		ttsBreaker:        breaker.New(logger, "tts"),
		placeCallLimit:    ratelimit.New(30, 5),
		fromNumber:        cfg.FromNumber,
		mediaStreamURL:    cfg.MediaStreamURL,
		connectTimeout:    connectTimeout,
		transcriptTimeout: transcriptTimeout,
	}
}

// InitiateCall runs the full initiate(text) state machine: it opens
// the session and its STT session, fires the opening utterance's TTS
// pre-generation in parallel with placing the carrier call, waits for
// the media stream to attach, drains the pre-generated audio, and
// finally listens for the caller's reply — returning session and
// transcript together as a single composed tool call.
func (e *Engine) InitiateCall(ctx context.Context, toPhone, text string) (*Session, string, error) {
	s, err := e.manager.Create(toPhone, e.fromNumber)
	if err != nil {
		return nil, "", err
	}

	if err := e.ensureSTT(ctx, s); err != nil {
		e.cleanup(s)
		return nil, "", err
	}

	// Fire-and-forget pre-generation: synthesis runs concurrently with
	// carrier setup so the pacer already has audio queued the instant
	// the media stream attaches, hiding carrier-setup latency instead
	// of stacking it in front of the first spoken word.
	speakErrCh := make(chan error, 1)
	go func() { speakErrCh <- e.speak(ctx, s, text) }()

	if err := e.placeCallLimit.Wait(ctx); err != nil {
		e.cleanup(s)
		return nil, "", err
	}

	err = e.carrierBreaker.Do(ctx, "place_call", func(ctx context.Context) error {
		carrierCallID, placeErr := e.carrier.PlaceCall(ctx, e.fromNumber, toPhone)
		if placeErr != nil {
			return placeErr
		}
		e.manager.BindCarrierID(s, carrierCallID)
		return nil
	})
	if err != nil {
		e.cleanup(s)
		return nil, "", err
	}
	e.logger.Infow("call placed", "session_id", s.ID, "carrier_call_id", s.CarrierCallID, "to", toPhone)

	if err := s.WaitForStreaming(ctx, e.connectTimeout); err != nil {
		e.cleanup(s)
		return nil, "", err
	}

	if err := <-speakErrCh; err != nil {
		e.cleanup(s)
		return nil, "", err
	}

	// Let the pacer drain the pre-generated greeting and its last
	// frame play before listening for the caller's reply.
	select {
	case <-time.After(200 * time.Millisecond):
	case <-s.hangupCh:
		return nil, "", &CallHungUp{SessionID: s.ID}
	case <-ctx.Done():
		e.cleanup(s)
		return nil, "", ctx.Err()
	}

	transcript, err := e.Listen(ctx, s.ID)
	if err != nil {
		return s, "", err
	}
	return s, transcript, nil
}

// Continue composes speak-then-listen into a single call: it speaks
// text to the caller, then waits for their reply.
func (e *Engine) Continue(ctx context.Context, sessionID, text string) (string, error) {
	if err := e.SpeakToUser(ctx, sessionID, text); err != nil {
		return "", err
	}
	return e.Listen(ctx, sessionID)
}

// StreamInstructions renders the webhook response that connects the
// carrier's media stream back to this process for the given session.
func (e *Engine) StreamInstructions(s *Session) (contentType string, body []byte, err error) {
	u := *e.mediaStreamURL
	return e.carrier.StreamInstructions(&u, s.WSToken)
}

// SessionByCarrierID looks up a session by the carrier's call
// identifier, used by the webhook handler to render stream
// instructions once a call is answered.
func (e *Engine) SessionByCarrierID(carrierCallID string) (*Session, bool) {
	return e.manager.GetByCarrierID(carrierCallID)
}

// SessionByToken looks up a session by its media-stream auth token,
// used by the media-stream endpoint to authorize the websocket
// upgrade before accepting it.
func (e *Engine) SessionByToken(token string) (*Session, bool) {
	return e.manager.GetByToken(token)
}

// OnCarrierEvent applies a normalized webhook event to the matching
// session, looked up by carrier call ID.
func (e *Engine) OnCarrierEvent(ev telephony.ControlEvent) {
	s, ok := e.manager.GetByCarrierID(ev.CarrierCallID)
	if !ok {
		e.logger.Warnw("control event for unknown call", "carrier_call_id", ev.CarrierCallID)
		return
	}
	switch ev.Kind {
	case telephony.EventCompleted, telephony.EventFailed:
		e.cleanup(s)
	}
}

// OnMediaStreamStart attaches the media-stream connection to the
// session identified by its websocket auth token.
func (e *Engine) OnMediaStreamStart(token, streamSid string, ws MediaConn) (*Session, error) {
	s, ok := e.manager.GetByToken(token)
	if !ok {
		return nil, &NotFound{Key: token}
	}
	s.MarkStreaming(streamSid, ws)
	s.attachPacer(NewPacer(context.Background(), e.logger, func(frame []byte) error {
		if !s.StreamReady.Get() || s.WS == nil {
			return nil
		}
		return s.WS.SendAudioFrame(s.StreamSID, frame)
	}))
	return s, nil
}

// ensureSTT lazily opens the session's STT session, idempotent once
// connected. Safe to call before the media stream attaches — the STT
// websocket is independent of the carrier's audio path.
func (e *Engine) ensureSTT(ctx context.Context, s *Session) error {
	if s.STT != nil {
		return nil
	}
	sttSession := e.newSTT()
	transcriptCh := make(chan string, 1)
	err := e.sttBreaker.Do(ctx, "stt_connect", func(ctx context.Context) error {
		return sttSession.Connect(ctx, func(text string, confidence float64, isFinal bool) {
			if !isFinal {
				return
			}
			select {
			case transcriptCh <- text:
			default:
			}
		})
	})
	if err != nil {
		return err
	}
	s.STT = sttSession
	s.transcriptCh = transcriptCh
	return nil
}

// Listen blocks until the caller finishes an utterance (STT reports a
// final transcript), the call is hung up, or transcriptTimeout
// elapses — whichever happens first wins the race, per the
// single-winner select contract.
func (e *Engine) Listen(ctx context.Context, sessionID string) (string, error) {
	s, ok := e.manager.Get(sessionID)
	if !ok {
		return "", &NotFound{Key: sessionID}
	}
	if s.HungUp.Get() {
		return "", &CallHungUp{SessionID: s.ID}
	}

	if err := s.WaitForStreaming(ctx, e.connectTimeout); err != nil {
		return "", err
	}

	if err := e.ensureSTT(ctx, s); err != nil {
		return "", err
	}

	select {
	case text := <-s.transcriptCh:
		s.AppendTurn("caller", text)
		return text, nil
	case <-s.hangupCh:
		return "", &CallHungUp{SessionID: s.ID}
	case <-time.After(e.transcriptTimeout):
		return "", &TranscriptTimeout{SessionID: s.ID}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SpeakToUser synthesizes text and streams the resulting audio to the
// caller, blocking until synthesis completes, the call hangs up, or
// ctx is cancelled. Unlike the pre-generation path InitiateCall uses,
// this waits for the media stream to be attached first, since there
// is no carrier-setup latency left to hide here.
func (e *Engine) SpeakToUser(ctx context.Context, sessionID, text string) error {
	s, ok := e.manager.Get(sessionID)
	if !ok {
		return &NotFound{Key: sessionID}
	}
	if err := s.WaitForStreaming(ctx, e.connectTimeout); err != nil {
		return err
	}
	return e.speak(ctx, s, text)
}

// speak synthesizes text and hands the resulting 24kHz PCM to the
// session's QueueAudio, which either feeds the pacer directly or
// buffers it for the pacer to drain once attached. It deliberately
// does not wait for the media stream, so InitiateCall can run it
// concurrently with carrier call placement.
func (e *Engine) speak(ctx context.Context, s *Session, text string) error {
	if s.HungUp.Get() {
		return &CallHungUp{SessionID: s.ID}
	}

	if s.TTS == nil {
		client := e.newTTS()
		completeCh := make(chan string, 1)
		err := e.ttsBreaker.Do(ctx, "tts_connect", func(ctx context.Context) error {
			return client.Connect(ctx,
				func(contextID string, pcm []byte) {
					s.QueueAudio(pcm)
				},
				func(contextID string) {
					select {
					case completeCh <- contextID:
					default:
					}
				},
			)
		})
		if err != nil {
			return err
		}
		s.TTS = client
		s.ttsCompleteCh = completeCh
	}

	contextID := uuid.NewString()
	if err := s.TTS.SynthesizeStream(contextID, text, true); err != nil {
		return &telephony.ProviderError{Provider: "tts", Op: "synthesize", Err: err}
	}

	for {
		select {
		case done := <-s.ttsCompleteCh:
			if done == contextID {
				s.AppendTurn("assistant", text)
				return nil
			}
		case <-s.hangupCh:
			return &CallHungUp{SessionID: s.ID}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EndCall tears a session down: optionally speaks a farewell, sleeps
// to let it drain, hangs up the carrier call, stops the pacer, closes
// STT/TTS/websocket, and removes the session from the manager.
// Cleanup itself is idempotent; once a session has been ended and
// removed, a further EndCall for its ID returns NotFound. text may be
// empty to skip the farewell.
func (e *Engine) EndCall(ctx context.Context, sessionID, text string) error {
	s, ok := e.manager.Get(sessionID)
	if !ok {
		return &NotFound{Key: sessionID}
	}
	if s.HungUp.Get() {
		return nil
	}

	if text != "" && s.StreamReady.Get() {
		if err := e.speak(ctx, s, text); err != nil {
			e.logger.Warnf("session %s: farewell speak failed: %v", s.ID, err)
		}
		// Let the farewell's final frame drain before hanging up.
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
	}

	if s.CarrierCallID != "" {
		if err := e.carrier.Hangup(ctx, s.CarrierCallID); err != nil {
			e.logger.Warnf("session %s: hangup request failed: %v", s.ID, err)
		}
	}
	e.cleanup(s)
	return nil
}

// cleanup releases every resource a session holds, exactly once.
func (e *Engine) cleanup(s *Session) {
	s.SignalHangup()
	if s.pacer != nil {
		s.pacer.Stop()
	}
	if s.STT != nil {
		if err := s.STT.Close(); err != nil {
			e.logger.Debugf("session %s: stt close: %v", s.ID, err)
		}
	}
	if s.TTS != nil {
		if err := s.TTS.Close(); err != nil {
			e.logger.Debugf("session %s: tts close: %v", s.ID, err)
		}
	}
	if s.WS != nil {
		if err := s.WS.Close(); err != nil {
			e.logger.Debugf("session %s: ws close: %v", s.ID, err)
		}
	}
	e.manager.Remove(s)
	e.logger.Infow("session ended", "session_id", s.ID, "duration", time.Since(s.StartedAt).String())
}
