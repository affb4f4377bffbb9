// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package session owns the call-session state machine: the live
// session table, the outbound audio pacer, and the
// initiate/continue/speak/end operations the dispatcher drives.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rapidaai/voicebridge/internal/stt"
	"github.com/rapidaai/voicebridge/internal/tts"
)

// Turn is one utterance in the call transcript, either spoken by the
// caller (as recognized by STT) or by the assistant (as sent to TTS).
type Turn struct {
	Speaker string // "caller" or "assistant"
	Text    string
	At      time.Time
}

// MediaConn is the narrow surface the session needs from its
// media-stream websocket connection. The mediastream package
// implements it; session never imports mediastream directly, which
// keeps the dependency one-directional.
type MediaConn interface {
	SendAudioFrame(streamSid string, mulaw []byte) error
	Close() error
}

// Session is one in-progress (or recently ended) phone call.
type Session struct {
	ID            string
	CarrierCallID string
	ToPhone       string
	FromPhone     string
	WSToken       string
	StreamSID     string

	StreamReady boolFlag
	HungUp      boolFlag

	StartedAt time.Time

	mu      sync.Mutex
	history []Turn

	STT           stt.Session
	TTS           tts.Client
	WS            MediaConn
	transcriptCh  chan string
	ttsCompleteCh chan string

	pacer        *Pacer
	pendingAudio []byte // 24kHz PCM queued before the pacer attaches

	streamingCh   chan struct{}
	streamingOnce sync.Once

	hangupCh   chan struct{}
	hangupOnce sync.Once
}

// MarkStreaming records that the carrier's media-stream connection
// has opened and attached, unblocking any goroutine waiting in
// WaitForStreaming.
func (s *Session) MarkStreaming(streamSid string, ws MediaConn) {
	s.StreamSID = streamSid
	s.WS = ws
	s.StreamReady.Set(true)
	s.streamingOnce.Do(func() { close(s.streamingCh) })
}

// WaitForStreaming blocks until the media stream attaches, the
// context is cancelled, or timeout elapses.
func (s *Session) WaitForStreaming(ctx context.Context, timeout time.Duration) error {
	select {
	case <-s.streamingCh:
		return nil
	case <-s.hangupCh:
		return &CallHungUp{SessionID: s.ID}
	case <-time.After(timeout):
		return &ConnectionTimeout{SessionID: s.ID}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueAudio hands synthesized 24kHz PCM to the pacer for pacing and
// transcoding. Before the media stream attaches (e.g. TTS
// pre-generated in parallel with carrier call placement), the audio
// is buffered here instead and handed to the pacer in one shot by
// attachPacer.
func (s *Session) QueueAudio(pcm []byte) {
	s.mu.Lock()
	p := s.pacer
	if p == nil {
		s.pendingAudio = append(s.pendingAudio, pcm...)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	p.Push(pcm)
}

// attachPacer installs the session's pacer and flushes any audio
// queued by QueueAudio before it existed.
func (s *Session) attachPacer(p *Pacer) {
	s.mu.Lock()
	pending := s.pendingAudio
	s.pendingAudio = nil
	s.pacer = p
	s.mu.Unlock()
	if len(pending) > 0 {
		p.Push(pending)
	}
}

// SignalHangup marks the session as hung up and wakes any goroutine
// blocked in WaitForStreaming or a STT listen race. Idempotent.
func (s *Session) SignalHangup() {
	s.HungUp.Set(true)
	s.hangupOnce.Do(func() { close(s.hangupCh) })
}

// boolFlag is a tiny CAS-style flag; session-local, not exported
// beyond this package's atomic-looking usage.
type boolFlag struct {
	mu  sync.Mutex
	val bool
}

func (f *boolFlag) Set(v bool) { f.mu.Lock(); f.val = v; f.mu.Unlock() }
func (f *boolFlag) Get() bool  { f.mu.Lock(); defer f.mu.Unlock(); return f.val }

func (s *Session) AppendTurn(speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Speaker: speaker, Text: text, At: time.Now()})
}

func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

func newID() string {
	return ulid.Make().String()
}

func newWSToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: failed to generate ws token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Manager owns every live session, indexed three ways: by its own ID,
// by the carrier's call identifier, and by its media-stream auth
// token. All three indices are mutated only while holding mu, as the
// sole entry point for concurrent access from webhook handlers,
// media-stream connections, and dispatcher tool calls alike.
type Manager struct {
	mu          sync.Mutex
	byID        map[string]*Session
	byCarrierID map[string]*Session
	byToken     map[string]*Session
}

func NewManager() *Manager {
	return &Manager{
		byID:        make(map[string]*Session),
		byCarrierID: make(map[string]*Session),
		byToken:     make(map[string]*Session),
	}
}

// Create allocates a new session with a fresh ID and websocket token
// and registers it by ID and by token. The carrier-call index is filled
// later by BindCarrierID.
func (m *Manager) Create(toPhone, fromPhone string) (*Session, error) {
	token, err := newWSToken()
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:          newID(),
		ToPhone:     toPhone,
		FromPhone:   fromPhone,
		WSToken:     token,
		StartedAt:   time.Now(),
		streamingCh: make(chan struct{}),
		hangupCh:    make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = s
	m.byToken[s.WSToken] = s
	return s, nil
}

// BindCarrierID records the carrier's call identifier once PlaceCall
// returns it, making the session reachable from webhook callbacks.
func (m *Manager) BindCarrierID(s *Session, carrierCallID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.CarrierCallID = carrierCallID
	m.byCarrierID[carrierCallID] = s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	return s, ok
}

func (m *Manager) GetByCarrierID(carrierCallID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byCarrierID[carrierCallID]
	return s, ok
}

func (m *Manager) GetByToken(token string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byToken[token]
	return s, ok
}

// Remove drops a session from every index. Idempotent: removing an
// already-removed session is a no-op.
func (m *Manager) Remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, s.ID)
	delete(m.byToken, s.WSToken)
	if s.CarrierCallID != "" {
		delete(m.byCarrierID, s.CarrierCallID)
	}
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
