// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/voicebridge/internal/audio/codec"
	"github.com/rapidaai/voicebridge/internal/logging"
)

const (
	// jitterPrerollBytes holds back audio until this much has
	// accumulated, absorbing TTS chunk-arrival jitter before pacing
	// begins. 800 bytes of 8kHz mu-law is 100ms.
	jitterPrerollBytes = 800
	// frameBytes is one 20ms frame of 8kHz mu-law audio.
	frameBytes   = 160
	frameCadence = 20 * time.Millisecond
	// pcmSampleGroup is one output sample's worth of input: three
	// 16-bit little-endian 24kHz PCM samples downsample to one 8kHz
	// sample, so PCM is only ever converted in 6-byte multiples.
	pcmSampleGroup = 6
)

// Pacer accepts synthesized 24kHz linear PCM, converts it to 8kHz
// G.711 mu-law as it arrives, and emits the result to the carrier at
// wall-clock frame cadence instead of however fast TTS chunks arrive,
// so the carrier's jitter buffer sees a steady 20ms cadence rather
// than bursts.
type Pacer struct {
	logger logging.Logger
	send   func(frame []byte) error

	mu       sync.Mutex
	pcmCarry []byte // PCM bytes short of the next 6-byte group
	pending  []byte // converted mu-law awaiting transmission
	primed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPacer starts the pacer's background send loop. send is called
// once per frameCadence tick with exactly frameBytes of mu-law audio
// (zero-padded if the buffer runs dry mid-utterance).
func NewPacer(ctx context.Context, logger logging.Logger, send func(frame []byte) error) *Pacer {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pacer{
		logger: logger,
		send:   send,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Push accepts newly synthesized 24kHz linear PCM, downsamples and
// mu-law encodes as many complete 6-byte sample groups as it can, and
// appends the result to the pending mu-law buffer. A short trailing
// remainder (fewer than 6 bytes) carries over to the next Push,
// matching the one-sample's-worth-of-input contract the pacer
// algorithm requires.
func (p *Pacer) Push(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := append(p.pcmCarry, pcm...)
	usable := (len(buf) / pcmSampleGroup) * pcmSampleGroup
	if usable > 0 {
		mulaw := codec.EncodeMulaw(codec.Downsample24to8(buf[:usable]))
		p.pending = append(p.pending, mulaw...)
		if !p.primed && len(p.pending) >= jitterPrerollBytes {
			p.primed = true
		}
	}
	p.pcmCarry = append([]byte(nil), buf[usable:]...)
}

// Flush discards any buffered but not-yet-sent audio, used when the
// in-progress utterance is cancelled (barge-in).
func (p *Pacer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	p.pcmCarry = nil
	p.primed = false
}

func (p *Pacer) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(frameCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, ok := p.nextFrame()
			if !ok {
				continue
			}
			if err := p.send(frame); err != nil {
				p.logger.Warnf("session-pacer: failed to send frame: %v", err)
			}
		}
	}
}

func (p *Pacer) nextFrame() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.primed || len(p.pending) == 0 {
		return nil, false
	}

	n := frameBytes
	if n > len(p.pending) {
		n = len(p.pending)
	}
	frame := make([]byte, frameBytes)
	copy(frame, p.pending[:n])
	p.pending = p.pending[n:]
	if len(p.pending) == 0 {
		p.primed = false
	}
	return frame, true
}

// Stop halts the send loop and waits for it to exit.
func (p *Pacer) Stop() {
	p.cancel()
	<-p.done
}
