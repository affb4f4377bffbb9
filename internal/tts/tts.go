// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tts defines the text-to-speech client the session engine
// uses to pre-generate the assistant's speech audio before handing it
// to the outbound pacer.
package tts

import "context"

// SpeechCallback delivers one chunk of synthesized audio for the
// given contextID (an opaque per-utterance handle the caller assigns).
type SpeechCallback func(contextID string, pcm []byte)

// CompleteCallback fires once synthesis for contextID has finished
// and no further SpeechCallback calls will arrive for it.
type CompleteCallback func(contextID string)

// Client synthesizes text to linear16 PCM audio as an incremental
// stream over a long-lived connection; audio chunks arrive through the
// callbacks registered at Connect. There is no one-shot call that
// returns a whole utterance.
type Client interface {
	// Connect opens the provider streaming connection and registers the
	// callbacks invoked for every chunk/completion event.
	Connect(ctx context.Context, onSpeech SpeechCallback, onComplete CompleteCallback) error

	// SynthesizeStream submits one more piece of text under contextID.
	// isComplete marks the final piece for that context.
	SynthesizeStream(contextID, text string, isComplete bool) error

	// Close tears down the provider connection. Safe to call more than
	// once.
	Close() error
}
