package audio

import "math"

// Downmix reduces d to a single channel. Channel 0 seeds the accumulator and
// every further channel is folded in with mono[i] = (mono[i] + ch[i]) * 0.5.
//
// This is iterative pairwise averaging, not an N-way mean: with three or more
// channels the later channels carry more weight than the earlier ones. The
// weighting is kept as-is so encoded output stays byte-identical with
// recordings made by earlier clients.
//
// The returned slice is always a fresh copy; d is not modified.
func Downmix(d DecodedAudio) []float32 {
	n := d.Len()
	mono := make([]float32, n)
	if len(d.Channels) == 0 {
		return mono
	}
	copy(mono, d.Channels[0])
	for _, ch := range d.Channels[1:] {
		for i := range n {
			mono[i] = float32((float64(mono[i]) + float64(ch[i])) * 0.5)
		}
	}
	return mono
}

// ResampleNearest converts mono samples from inRate to outRate by picking the
// nearest source sample for every output index. There is no interpolation and
// no anti-aliasing filter; this trades quality for exact reproducibility.
//
// The output has round(len(samples) × outRate / inRate) samples and output
// index i reads source index min(len-1, round(i × inRate / outRate)). When the
// rates are equal the result is a length-preserving copy. Non-positive rates
// or empty input yield an empty, non-nil slice.
func ResampleNearest(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || len(samples) == 0 {
		return []float32{}
	}
	if inRate == outRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	srcLen := len(samples)
	ratio := float64(outRate) / float64(inRate)
	dstLen := int(roundHalfUp(float64(srcLen) * ratio))
	out := make([]float32, dstLen)
	for i := range dstLen {
		idx := int(roundHalfUp(float64(i) / ratio))
		if idx > srcLen-1 {
			idx = srcLen - 1
		}
		out[i] = samples[idx]
	}
	return out
}

// ResampledLength returns the number of samples [ResampleNearest] produces for
// srcLen input samples.
func ResampledLength(srcLen, inRate, outRate int) int {
	if inRate <= 0 || outRate <= 0 || srcLen <= 0 {
		return 0
	}
	if inRate == outRate {
		return srcLen
	}
	return int(roundHalfUp(float64(srcLen) * (float64(outRate) / float64(inRate))))
}

// ToMono44100 downmixes d and resamples it to [TargetSampleRate].
func ToMono44100(d DecodedAudio) []float32 {
	return ResampleNearest(Downmix(d), d.SampleRate, TargetSampleRate)
}

// roundHalfUp rounds x to the nearest integer with ties going towards
// positive infinity. Inputs here are never negative.
func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}
