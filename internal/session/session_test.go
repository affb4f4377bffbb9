// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestManagerCreateIsIndexedByIDAndToken(t *testing.T) {
	m := NewManager()
	s, err := m.Create("+15550001111", "+15550002222")
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	require.NotEmpty(t, s.WSToken)

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	require.Same(t, s, got)

	gotByToken, ok := m.GetByToken(s.WSToken)
	require.True(t, ok)
	require.Same(t, s, gotByToken)
}

func TestManagerCreateAssignsUniqueIDsAndTokens(t *testing.T) {
	m := NewManager()
	seenIDs := map[string]bool{}
	seenTokens := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := m.Create("+1", "+2")
		require.NoError(t, err)
		require.False(t, seenIDs[s.ID], "duplicate session id")
		require.False(t, seenTokens[s.WSToken], "duplicate ws token")
		seenIDs[s.ID] = true
		seenTokens[s.WSToken] = true
	}
}

func TestManagerBindCarrierIDMakesSessionLookupableByCallID(t *testing.T) {
	m := NewManager()
	s, err := m.Create("+1", "+2")
	require.NoError(t, err)

	m.BindCarrierID(s, "CA123")
	got, ok := m.GetByCarrierID("CA123")
	require.True(t, ok)
	require.Same(t, s, got)
}

func TestManagerRemoveIsIdempotent(t *testing.T) {
	m := NewManager()
	s, err := m.Create("+1", "+2")
	require.NoError(t, err)
	m.BindCarrierID(s, "CA1")

	require.Equal(t, 1, m.Count())
	m.Remove(s)
	require.Equal(t, 0, m.Count())

	_, ok := m.Get(s.ID)
	require.False(t, ok)
	_, ok = m.GetByCarrierID("CA1")
	require.False(t, ok)

	// removing again must not panic
	m.Remove(s)
}

func TestSessionAppendAndReadHistory(t *testing.T) {
	m := NewManager()
	s, err := m.Create("+1", "+2")
	require.NoError(t, err)

	s.AppendTurn("caller", "hello")
	s.AppendTurn("assistant", "hi there")

	history := s.History()
	require.Len(t, history, 2)
	require.Equal(t, "caller", history[0].Speaker)
	require.Equal(t, "assistant", history[1].Speaker)
}

func TestWaitForStreamingTimesOutBeforeMarkStreaming(t *testing.T) {
	m := NewManager()
	s, err := m.Create("+1", "+2")
	require.NoError(t, err)

	err = s.WaitForStreaming(context.Background(), time.Millisecond)
	require.Error(t, err)
	var timeoutErr *ConnectionTimeout
	require.ErrorAs(t, err, &timeoutErr)
}

func TestWaitForStreamingReturnsAfterMarkStreaming(t *testing.T) {
	m := NewManager()
	s, err := m.Create("+1", "+2")
	require.NoError(t, err)

	s.MarkStreaming("MZ123", fakeMediaConn{})
	err = s.WaitForStreaming(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.True(t, s.StreamReady.Get())
}

func TestQueueAudioBuffersUntilPacerAttachesThenFlushes(t *testing.T) {
	m := NewManager()
	s, err := m.Create("+1", "+2")
	require.NoError(t, err)

	// Queued before a pacer exists (the pre-generation case): held on
	// the session, not lost.
	s.QueueAudio(make([]byte, 6))
	require.Len(t, s.pendingAudio, 6)

	var sent [][]byte
	p := NewPacer(context.Background(), logging.NewNop(), func(frame []byte) error {
		sent = append(sent, frame)
		return nil
	})
	defer p.Stop()

	s.attachPacer(p)
	require.Empty(t, s.pendingAudio, "queued audio must hand off to the pacer on attach")

	p.mu.Lock()
	require.Len(t, p.pending, 1, "6 bytes of PCM downsample+encode to 1 mu-law byte")
	p.mu.Unlock()

	// Once attached, further audio goes straight to the pacer.
	s.QueueAudio(make([]byte, 6))
	p.mu.Lock()
	require.Len(t, p.pending, 2)
	p.mu.Unlock()
}

type fakeMediaConn struct{}

func (fakeMediaConn) SendAudioFrame(streamSid string, mulaw []byte) error { return nil }
func (fakeMediaConn) Close() error                                       { return nil }
