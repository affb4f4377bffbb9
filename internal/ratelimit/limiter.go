// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ratelimit guards the one outbound resource every session
// shares: the carrier's place-call API. A single token-bucket limiter
// (as opposed to the teacher's per-client map of limiters, which fits
// per-IP HTTP throttling but not a single outbound-call budget) caps
// how fast new calls can be placed, so a runaway assistant loop can't
// hammer the carrier account into a ban.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate the same way the teacher wraps
// it for HTTP request throttling: requests-per-minute plus a burst
// allowance, converted to the per-second rate.Limit the library wants.
type Limiter struct {
	rl *rate.Limiter
}

// New builds a limiter allowing callsPerMinute place-call attempts per
// minute, with burst allowed to absorb an initial cluster of calls.
func New(callsPerMinute int, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(callsPerMinute)/60.0, burst)}
}

// Wait blocks until a token is available or ctx is cancelled, mirroring
// the suspension-point contract every other outbound call in this
// engine follows (no busy-polling, no indefinite block past ctx).
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}
