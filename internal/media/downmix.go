package media

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	centerGain   = 0.7071
	surroundGain = 0.7071
)

// stereoGains returns the left and right contribution of every input channel,
// assuming the FL FR FC LFE BL BR SL SR ordering. LFE is dropped.
func stereoGains(channels int) (left, right []float64) {
	left = make([]float64, channels)
	right = make([]float64, channels)

	if channels == 1 {
		left[0], right[0] = 1, 1
		return left, right
	}

	left[0], right[1] = 1, 1
	for ch := 2; ch < channels; ch++ {
		switch {
		case ch == 2:
			left[ch], right[ch] = centerGain, centerGain
		case ch == 3:
		case ch%2 == 0:
			left[ch] = surroundGain
		default:
			right[ch] = surroundGain
		}
	}

	normalize(left)
	normalize(right)
	return left, right
}

func normalize(g []float64) {
	var sum float64
	for _, v := range g {
		sum += v
	}
	if sum <= 1 {
		return
	}
	for i := range g {
		g[i] /= sum
	}
}

// Downmix converts an interleaved buffer to two channels into a newly
// allocated buffer. Stereo input is returned untouched.
func Downmix(b AudioBuffer) (AudioBuffer, error) {
	in := b.Format
	if in.Channels == 2 {
		return b, nil
	}
	if in.Channels < 1 {
		return b, fmt.Errorf("downmix: %d channels: %w", in.Channels, ErrUnsupportedFormat)
	}
	if in.BitDepth != 16 && in.BitDepth != 32 {
		return b, fmt.Errorf("downmix: %d bit samples: %w", in.BitDepth, ErrUnsupportedFormat)
	}

	out := in
	out.Channels = 2

	frames := len(b.Data) / in.BytesPerFrame()
	dst := make([]byte, frames*out.BytesPerFrame())

	left, right := stereoGains(in.Channels)

	switch in.BitDepth {
	case 16:
		for i := 0; i < frames; i++ {
			var l, r float64
			for ch := 0; ch < in.Channels; ch++ {
				off := (i*in.Channels + ch) * 2
				s := float64(int16(binary.LittleEndian.Uint16(b.Data[off:])))
				l += s * left[ch]
				r += s * right[ch]
			}
			binary.LittleEndian.PutUint16(dst[i*4:], uint16(clampInt16(l)))
			binary.LittleEndian.PutUint16(dst[i*4+2:], uint16(clampInt16(r)))
		}
	case 32:
		for i := 0; i < frames; i++ {
			var l, r float64
			for ch := 0; ch < in.Channels; ch++ {
				off := (i*in.Channels + ch) * 4
				s := float64(math.Float32frombits(binary.LittleEndian.Uint32(b.Data[off:])))
				l += s * left[ch]
				r += s * right[ch]
			}
			binary.LittleEndian.PutUint32(dst[i*8:], math.Float32bits(float32(l)))
			binary.LittleEndian.PutUint32(dst[i*8+4:], math.Float32bits(float32(r)))
		}
	}

	return AudioBuffer{Format: out, Data: dst}, nil
}

func clampInt16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
