// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import "fmt"

// ConnectionTimeout is returned when the outbound call did not reach
// the streaming state within the connection budget.
type ConnectionTimeout struct {
	SessionID string
}

func (e *ConnectionTimeout) Error() string {
	return fmt.Sprintf("session %s: connection timed out before streaming started", e.SessionID)
}

// TranscriptTimeout is returned when a listen operation exceeded its
// deadline without receiving a final transcript.
type TranscriptTimeout struct {
	SessionID string
}

func (e *TranscriptTimeout) Error() string {
	return fmt.Sprintf("session %s: timed out waiting for a transcript", e.SessionID)
}

// CallHungUp is returned by any operation attempted against a session
// whose call has already ended.
type CallHungUp struct {
	SessionID string
}

func (e *CallHungUp) Error() string {
	return fmt.Sprintf("session %s: call has already ended", e.SessionID)
}

// ProtocolError marks a malformed or out-of-sequence carrier frame.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Detail)
}

// NotFound is returned when a session ID, carrier call ID, or
// websocket token doesn't resolve to a live session.
type NotFound struct {
	Key string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("session not found: %s", e.Key)
}
