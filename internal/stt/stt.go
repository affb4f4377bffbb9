// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package stt defines the streaming speech-to-text session the
// session engine feeds caller audio into and reads end-of-utterance
// transcripts back from.
package stt

import "context"

// TranscriptCallback is invoked once per recognizer event. isFinal
// marks an end-of-utterance boundary (the recognizer's own VAD, or the
// provider's silence-based endpointing, decided the speaker stopped).
type TranscriptCallback func(text string, confidence float64, isFinal bool)

// Session is a single streaming recognition connection scoped to one
// call. Audio is pushed in as linear16 PCM frames; transcripts arrive
// asynchronously through the callback registered at Connect time.
type Session interface {
	// Connect opens the provider connection and starts the background
	// reader that invokes cb for every transcript event.
	Connect(ctx context.Context, cb TranscriptCallback) error

	// SendAudio forwards one frame of linear16 PCM audio.
	SendAudio(pcm []byte) error

	// Close tears down the provider connection. Safe to call more than
	// once.
	Close() error
}
