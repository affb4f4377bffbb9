// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestPacerWithholdsAudioBelowPreroll(t *testing.T) {
	var mu sync.Mutex
	var sent [][]byte

	p := NewPacer(context.Background(), logging.NewNop(), func(frame []byte) error {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]byte, len(frame))
		copy(cp, frame)
		sent = append(sent, cp)
		return nil
	})
	defer p.Stop()

	// pcmSampleGroup bytes of 24kHz PCM downsample+encode to exactly
	// one mu-law byte, so one byte short of the preroll in mu-law
	// terms needs (jitterPrerollBytes-1)*pcmSampleGroup bytes of PCM.
	p.Push(make([]byte, (jitterPrerollBytes-1)*pcmSampleGroup))
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, sent, "pacer must not emit frames before the jitter preroll fills")
}

func TestPacerEmitsFixedSizeFramesOncePrimed(t *testing.T) {
	var mu sync.Mutex
	var sent [][]byte

	p := NewPacer(context.Background(), logging.NewNop(), func(frame []byte) error {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]byte, len(frame))
		copy(cp, frame)
		sent = append(sent, cp)
		return nil
	})
	defer p.Stop()

	audio := make([]byte, (jitterPrerollBytes+frameBytes*2)*pcmSampleGroup)
	for i := range audio {
		audio[i] = byte(i % 256)
	}
	p.Push(audio)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, frame := range sent {
		require.Len(t, frame, frameBytes)
	}
}

func TestPacerFlushDiscardsPendingAudio(t *testing.T) {
	p := NewPacer(context.Background(), logging.NewNop(), func(frame []byte) error { return nil })
	defer p.Stop()

	p.Push(make([]byte, jitterPrerollBytes*pcmSampleGroup+1))
	p.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Empty(t, p.pending)
	require.Empty(t, p.pcmCarry)
	require.False(t, p.primed)
}

func TestPacerPushCarriesPartialSampleGroupAcrossCalls(t *testing.T) {
	p := NewPacer(context.Background(), logging.NewNop(), func(frame []byte) error { return nil })
	defer p.Stop()

	// Five bytes is short of one 6-byte PCM sample group: nothing
	// should convert to mu-law yet, but the bytes must carry over.
	p.Push(make([]byte, 5))
	p.mu.Lock()
	require.Empty(t, p.pending)
	require.Len(t, p.pcmCarry, 5)
	p.mu.Unlock()

	// One more byte completes the group.
	p.Push(make([]byte, 1))
	p.mu.Lock()
	require.Len(t, p.pending, 1)
	require.Empty(t, p.pcmCarry)
	p.mu.Unlock()
}
