package audio

import (
	"encoding/base64"
	"testing"
)

func TestEncodeUlawSampleZeroIsSilence(t *testing.T) {
	if got := EncodeUlawSample(0); got != 0xFF {
		t.Fatalf("EncodeUlawSample(0) = %#x, want 0xff", got)
	}
}

func TestEncodeUlawSampleSignSplit(t *testing.T) {
	pos := EncodeUlawSample(8000)
	neg := EncodeUlawSample(-8000)
	if pos == neg {
		t.Fatalf("positive and negative samples should encode differently")
	}
	// Sign bit is inverted along with the rest of the byte.
	if pos&0x80 == 0 {
		t.Fatalf("positive sample %#x should have inverted sign bit set", pos)
	}
	if neg&0x80 != 0 {
		t.Fatalf("negative sample %#x should have inverted sign bit clear", neg)
	}
}

func TestSilenceFrameLength(t *testing.T) {
	frame := SilenceFrame()
	if len(frame) != FrameSamples {
		t.Fatalf("len = %d, want %d", len(frame), FrameSamples)
	}
	for i, b := range frame {
		if b != 0xFF {
			t.Fatalf("frame[%d] = %#x, want 0xff", i, b)
		}
	}
}

func TestSilenceFramesEncodeFullFrames(t *testing.T) {
	frames := SilenceFrames(10)
	if len(frames) != 10 {
		t.Fatalf("frame count = %d, want 10", len(frames))
	}
	for _, f := range frames {
		raw, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			t.Fatalf("frame is not valid base64: %v", err)
		}
		if len(raw) != FrameSamples {
			t.Fatalf("frame size = %d, want %d", len(raw), FrameSamples)
		}
		for i, b := range raw {
			if b != 0xFF {
				t.Fatalf("frame[%d] = %#x, want 0xff", i, b)
			}
		}
	}
	if frames := SilenceFrames(0); frames != nil {
		t.Fatalf("expected nil for zero count, got %d frames", len(frames))
	}
}

func TestToneFramesDurationAndFraming(t *testing.T) {
	frames := ToneFrames(440, 0.5, 0.25)
	// 0.5s at 8kHz in 20ms frames is exactly 25 frames.
	if len(frames) != 25 {
		t.Fatalf("frame count = %d, want 25", len(frames))
	}
	for _, f := range frames {
		raw, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			t.Fatalf("frame is not valid base64: %v", err)
		}
		if len(raw) != FrameSamples {
			t.Fatalf("frame size = %d, want %d", len(raw), FrameSamples)
		}
	}
}

func TestToneFramesZeroDuration(t *testing.T) {
	if frames := ToneFrames(440, 0, 0.25); frames != nil {
		t.Fatalf("expected nil for zero duration, got %d frames", len(frames))
	}
}
