// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/telephony"
	"github.com/stretchr/testify/require"
)

func TestDoPassesThroughSuccess(t *testing.T) {
	b := New(logging.NewNop(), "test")
	err := b.Do(context.Background(), "op", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
}

func TestDoPassesThroughOrdinaryError(t *testing.T) {
	b := New(logging.NewNop(), "test")
	wantErr := errors.New("boom")
	err := b.Do(context.Background(), "op", func(ctx context.Context) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
}

func TestDoOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(logging.NewNop(), "test")
	failure := errors.New("upstream down")

	for i := 0; i < 5; i++ {
		_ = b.Do(context.Background(), "op", func(ctx context.Context) error { return failure })
	}

	err := b.Do(context.Background(), "op", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	var provErr *telephony.ProviderError
	require.ErrorAs(t, err, &provErr)
	require.Equal(t, "test", provErr.Provider)
}
