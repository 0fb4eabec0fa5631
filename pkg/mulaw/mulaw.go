// Package mulaw implements G.711 µ-law companding for the robot speaker.
//
// The robot plays 8-bit µ-law samples. The engine mixes in floating point
// and converts each tick's block to wire codes with Encode.
package mulaw

import (
	"math"
	"math/bits"
)

const (
	// ZeroCode is the code emitted for a 0.0 sample.
	ZeroCode byte = 0xFF

	// SignBit is set in the (non-inverted) code for negative samples.
	SignBit byte = 0x80

	bias      = 0x84  // 132
	clip      = 32635 // largest magnitude before the bias would overflow 15 bits
	fullScale = 32767
)

// Encode converts one sample in [-1, 1] to a µ-law code.
// Values outside the range are clamped.
func Encode(sample float32) byte {
	return encodeMagnitude(sample < 0, magnitude(float64(sample)))
}

// EncodeFloat64 is Encode for the mixer's double precision accumulator.
func EncodeFloat64(sample float64) byte {
	return encodeMagnitude(sample < 0, magnitude(sample))
}

// EncodeSamples appends the codes for src to dst and returns the extended slice.
func EncodeSamples(dst []byte, src []float32) []byte {
	for _, s := range src {
		dst = append(dst, Encode(s))
	}
	return dst
}

// EncodeFloat64Samples appends the codes for src to dst.
func EncodeFloat64Samples(dst []byte, src []float64) []byte {
	for _, s := range src {
		dst = append(dst, EncodeFloat64(s))
	}
	return dst
}

// Decode converts a µ-law code back to a sample in [-1, 1].
// It returns the midpoint of the code's quantization interval.
func Decode(code byte) float32 {
	u := ^code
	exponent := (u >> 4) & 0x07
	mantissa := int(u & 0x0F)
	sample := (((mantissa << 3) + bias) << exponent) - bias
	if u&SignBit != 0 {
		sample = -sample
	}
	return float32(sample) / fullScale
}

// DecodeSamples appends the decoded samples for codes to dst.
func DecodeSamples(dst []float32, codes []byte) []float32 {
	for _, c := range codes {
		dst = append(dst, Decode(c))
	}
	return dst
}

// Segment returns the exponent (0-7) of a code.
func Segment(code byte) int {
	return int((^code >> 4) & 0x07)
}

// MaxQuantizationError is the largest |Decode(Encode(x)) - x| for an x that
// encodes to code and lies within the clip range: half a quantization step
// plus one unit of integer truncation.
func MaxQuantizationError(code byte) float64 {
	halfStep := 4 << Segment(code)
	return float64(halfStep+1) / fullScale
}

func magnitude(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Abs(v)
	if v > 1 {
		v = 1
	}
	m := int(v * fullScale)
	if m > clip {
		m = clip
	}
	return m
}

func encodeMagnitude(negative bool, mag int) byte {
	var sign byte
	if negative {
		sign = SignBit
	}
	sample := mag + bias
	exponent := bits.Len(uint(sample>>7)) - 1
	mantissa := (sample >> (exponent + 3)) & 0x0F
	return ^(sign | byte(exponent<<4) | byte(mantissa))
}
