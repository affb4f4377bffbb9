// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package codec

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplesToPCM(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(s))
	}
	return buf
}

func TestDownsampleProducesExpectedLength(t *testing.T) {
	pcm := samplesToPCM([]int16{1, 2, 3, 4, 5, 6, 7}) // 7 samples -> 2 full triples, 1 leftover sample discarded
	out := Downsample24to8(pcm)
	require.Equal(t, (len(pcm)/6)*2, len(out))
}

func TestDownsampleAverages(t *testing.T) {
	pcm := samplesToPCM([]int16{300, 300, 300})
	out := Downsample24to8(pcm)
	require.Len(t, out, 2)
	got := int16(binary.LittleEndian.Uint16(out))
	assert.Equal(t, int16(300), got)
}

func TestDownsampleEmptyInput(t *testing.T) {
	assert.Empty(t, Downsample24to8(nil))
}

func TestDownsampleTruncatesPartialTriple(t *testing.T) {
	pcm := samplesToPCM([]int16{1, 2, 3, 4}) // 4 samples, not a multiple of 3
	out := Downsample24to8(pcm)
	assert.Equal(t, 2, len(out)) // 4*2=8 bytes -> 1 full 6-byte triple (one output sample); the trailing sample is discarded
}

func TestMulawRoundTripBounded(t *testing.T) {
	signals := []int16{0, 1, -1, 100, -100, 1000, -1000, 10000, -10000, 32000, -32000, math.MaxInt16, math.MinInt16 + 1}
	for _, x := range signals {
		pcm := samplesToPCM([]int16{x})
		encoded := EncodeMulaw(pcm)
		require.Len(t, encoded, 1)
		decoded := DecodeMulaw(encoded)
		require.Len(t, decoded, 2)
		got := int16(binary.LittleEndian.Uint16(decoded))

		bound := int32(math.Abs(float64(x)))*15/100 + 100
		diff := int32(got) - int32(x)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqualf(t, diff, bound, "x=%d got=%d bound=%d", x, got, bound)
	}
}

func TestMulawEmptyInputs(t *testing.T) {
	assert.Empty(t, EncodeMulaw(nil))
	assert.Empty(t, DecodeMulaw(nil))
}

func TestMulawInversionBit(t *testing.T) {
	// The sign bit is set for negative samples before the final
	// inversion, so a positive sample encodes to a byte with bit 7 set
	// and a negative sample to a byte with bit 7 clear.
	pcm := samplesToPCM([]int16{32000})
	encoded := EncodeMulaw(pcm)
	assert.NotEqual(t, byte(0), encoded[0]&0x80)

	pcm = samplesToPCM([]int16{-32000})
	encoded = EncodeMulaw(pcm)
	assert.Equal(t, byte(0), encoded[0]&0x80)
}
