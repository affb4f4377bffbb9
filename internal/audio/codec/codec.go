// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package codec converts between the TTS sample format (24kHz linear16
// PCM) and the carrier wire format (8kHz G.711 mu-law), and back the
// other way for inbound caller audio.
package codec

import "encoding/binary"

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// Downsample24to8 averages each non-overlapping run of three 16-bit
// little-endian PCM samples into one output sample, producing 8kHz
// audio from a 24kHz source. This doubles as a crude anti-alias filter.
// A trailing partial triple (fewer than 6 input bytes) is discarded.
func Downsample24to8(pcm []byte) []byte {
	n := len(pcm) / 6
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		base := i * 6
		s0 := int16(binary.LittleEndian.Uint16(pcm[base : base+2]))
		s1 := int16(binary.LittleEndian.Uint16(pcm[base+2 : base+4]))
		s2 := int16(binary.LittleEndian.Uint16(pcm[base+4 : base+6]))

		avg := (int32(s0) + int32(s1) + int32(s2)) / 3

		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(int16(avg)))
		out = append(out, buf[0], buf[1])
	}
	return out
}

// EncodeMulaw encodes 16-bit little-endian linear PCM to G.711 mu-law,
// one byte per input sample. A trailing odd byte is dropped.
func EncodeMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = encodeSample(sample)
	}
	return out
}

// DecodeMulaw decodes G.711 mu-law bytes to 16-bit little-endian linear
// PCM. It is the exact inverse of the (lossy) encoder mapping and is
// used only for tests and for feeding the recognizer a linear view of
// caller audio when a provider requires it.
func DecodeMulaw(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		sample := decodeSample(b)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(sample))
	}
	return out
}

// encodeSample implements standard G.711 mu-law companding: capture
// sign, take magnitude, clip at ulawClip, add the bias, locate the
// segment by the highest set bit in the 15-bit biased window, extract
// the 4-bit mantissa, combine sign|exponent|mantissa, then invert.
func encodeSample(sample int16) byte {
	var sign byte
	magnitude := int32(sample)
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}

	if magnitude > ulawClip {
		magnitude = ulawClip
	}
	magnitude += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask > 0x80 && magnitude&mask == 0; mask >>= 1 {
		exponent--
	}

	mantissa := byte((magnitude >> (exponent + 3)) & 0x0F)
	encoded := sign | (exponent << 4) | mantissa
	return ^encoded
}

// decodeSample is the exact inverse of encodeSample's lossy mapping.
func decodeSample(encoded byte) int16 {
	encoded = ^encoded

	sign := encoded & 0x80
	exponent := (encoded & 0x70) >> 4
	mantissa := encoded & 0x0F

	magnitude := ((int32(mantissa) << 3) + ulawBias) << exponent
	magnitude -= ulawBias

	if magnitude > 32767 {
		magnitude = 32767
	}
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}
