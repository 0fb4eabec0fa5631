package audioengine

import (
	"fmt"
	"math"
)

// Resample converts mono audio between sample rates using linear
// interpolation.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []float32{}
	}

	result := make([]float32, newLen)
	for i := range result {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			s1 := samples[srcIdx]
			s2 := samples[srcIdx+1]
			result[i] = s1 + frac*(s2-s1)
		}
	}
	return result
}

// Downmix averages interleaved channels to mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// intToFloat converts integer PCM of the given bit depth to [-1, 1].
// 8-bit WAV is unsigned.
func intToFloat(data []int, bitDepth int) ([]float32, error) {
	out := make([]float32, len(data))
	switch bitDepth {
	case 8:
		for i, v := range data {
			out[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		divisor := float32(int64(1) << (bitDepth - 1))
		for i, v := range data {
			out[i] = float32(v) / divisor
		}
	default:
		return nil, fmt.Errorf("%w: %d-bit", ErrUnsupportedFormat, bitDepth)
	}
	return out, nil
}

// Sine synthesizes a tone with 5ms linear fades at both ends.
func Sine(frequencyHz float64, duration int, amplitude float64, sampleRate int) []float32 {
	n := duration * sampleRate / 1000
	out := make([]float32, n)
	fade := min(sampleRate/200, n/2)
	for i := range out {
		gain := amplitude
		if fade > 0 {
			if i < fade {
				gain *= float64(i) / float64(fade)
			} else if n-1-i < fade {
				gain *= float64(n-1-i) / float64(fade)
			}
		}
		out[i] = float32(gain * math.Sin(2*math.Pi*frequencyHz*float64(i)/float64(sampleRate)))
	}
	return out
}
