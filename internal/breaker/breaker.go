// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package breaker wraps the carrier/STT/TTS provider calls the
// session engine makes in a circuit breaker, so a run of upstream
// failures opens the circuit and fails fast instead of repeatedly
// burning the connection-timeout budget against a provider that is
// already down.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/telephony"
	"github.com/sony/gobreaker/v2"
)

// Breaker guards a single named upstream (one per carrier, one for
// STT, one for TTS) so a failure in one provider never trips another.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// New builds a breaker that opens after 5 consecutive failures and
// stays open for 30s before probing again with a single trial call.
func New(logger logging.Logger, name string) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Do runs fn through the breaker. A tripped breaker returns a
// telephony.ProviderError wrapping gobreaker's own ErrOpenState rather
// than leaking it raw, per the error-taxonomy contract.
func (b *Breaker) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &telephony.ProviderError{Provider: b.name, Op: op, Err: err}
	}
	return err
}
