package audio

import (
	"encoding/base64"
	"math"
)

// Telephony frames are g711 ulaw, 8kHz mono, 20ms per frame.
const (
	SampleRate      = 8000
	FrameDurationMS = 20
	FrameSamples    = SampleRate * FrameDurationMS / 1000
)

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// EncodeUlawSample converts one 16-bit linear PCM sample to g711 ulaw.
func EncodeUlawSample(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

// SilenceFrame returns one frame of ulaw-encoded silence.
func SilenceFrame() []byte {
	frame := make([]byte, FrameSamples)
	for i := range frame {
		frame[i] = 0xFF // ulaw zero
	}
	return frame
}

// SilenceFrames returns n base64 frames of ulaw silence, ready for media
// envelopes. Leading the announcement tone with a short silent gap separates
// it audibly from whatever the agent was saying when the backend dropped.
func SilenceFrames(n int) []string {
	if n <= 0 {
		return nil
	}
	encoded := base64.StdEncoding.EncodeToString(SilenceFrame())
	frames := make([]string, n)
	for i := range frames {
		frames[i] = encoded
	}
	return frames
}

// ToneFrames synthesizes a sine tone of the given frequency and duration as a
// sequence of base64 ulaw frames, ready for media envelopes. Used as the
// degraded-mode announcement tone so a caller never hears dead air.
func ToneFrames(freqHz, seconds, amplitude float64) []string {
	if amplitude <= 0 || amplitude > 1 {
		amplitude = 0.25
	}
	total := int(seconds * SampleRate)
	if total <= 0 {
		return nil
	}

	frames := make([]string, 0, total/FrameSamples+1)
	frame := make([]byte, 0, FrameSamples)
	for n := 0; n < total; n++ {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(n)/SampleRate)
		frame = append(frame, EncodeUlawSample(int16(v*math.MaxInt16)))
		if len(frame) == FrameSamples {
			frames = append(frames, base64.StdEncoding.EncodeToString(frame))
			frame = frame[:0]
		}
	}
	if len(frame) > 0 {
		frames = append(frames, base64.StdEncoding.EncodeToString(frame))
	}
	return frames
}
